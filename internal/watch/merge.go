package watch

import "slices"

// Mode selects how a fetched batch reconciles with an existing collection.
type Mode int

const (
	// Replace is used for unfiltered (full) refreshes: the batch is
	// authoritative and local entries absent from it are dropped. This is
	// how deletions made by other sessions propagate over REST.
	Replace Mode = iota

	// Merge is used for filtered (incremental) refreshes and push
	// application: records are upserted by id and everything else is left
	// untouched. Absence from a filtered page never means deletion.
	Merge
)

// MergeSlice reconciles incoming into existing per mode and reports whether
// the collection changed. Records are compared by value, so re-applying the
// same batch is a no-op. Identity is id only; the merge that runs last wins.
func MergeSlice[T Record](existing, incoming []T, mode Mode) ([]T, bool) {
	if mode == Replace {
		result := slices.Clone(incoming)
		return result, !slicesEqual(existing, result)
	}

	result := slices.Clone(existing)
	changed := false
	for _, rec := range incoming {
		var recChanged bool
		result, recChanged = UpsertRecord(result, rec)
		changed = changed || recChanged
	}
	return result, changed
}

// UpsertRecord overwrites the record with a matching id in place, or appends
// when no match exists.
func UpsertRecord[T Record](existing []T, rec T) ([]T, bool) {
	for i := range existing {
		if existing[i].RecordID() == rec.RecordID() {
			if recordsEqual(existing[i], rec) {
				return existing, false
			}
			result := slices.Clone(existing)
			result[i] = rec
			return result, true
		}
	}
	return append(slices.Clone(existing), rec), true
}

// RemoveRecord deletes the record with the given id. The second return is
// false when no such record exists, which callers treat as an idempotent
// no-op (the id may have already been removed by this client).
func RemoveRecord[T Record](existing []T, id int64) ([]T, bool) {
	for i := range existing {
		if existing[i].RecordID() == id {
			result := slices.Clone(existing)
			return slices.Delete(result, i, i+1), true
		}
	}
	return existing, false
}

func slicesEqual[T Record](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !recordsEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// recordsEqual compares by value. All record types are flat structs of
// scalars, so interface comparison is safe here.
func recordsEqual[T Record](a, b T) bool {
	return Record(a) == Record(b)
}
