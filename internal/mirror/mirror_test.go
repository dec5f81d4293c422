package mirror

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestMirror(t *testing.T) *Mirror {
	t.Helper()

	m, err := Open(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMirror_MissingKeyResolvesEmpty(t *testing.T) {
	m := newTestMirror(t)

	value, err := m.Get(context.Background(), KeyWatchMovies)
	if err != nil {
		t.Fatalf("Get() error = %v, want nil for missing key", err)
	}
	if value != nil {
		t.Errorf("Get() = %q, want nil", value)
	}
}

func TestMirror_PutGetRoundTrip(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	if err := m.Put(ctx, KeySessionToken, []byte("tok-123")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	value, err := m.Get(ctx, KeySessionToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(value) != "tok-123" {
		t.Errorf("Get() = %q, want %q", value, "tok-123")
	}
}

func TestMirror_PutOverwrites(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	if err := m.Put(ctx, KeyWatchMovies, []byte(`[{"id":1}]`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := m.Put(ctx, KeyWatchMovies, []byte(`[{"id":2}]`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	value, err := m.Get(ctx, KeyWatchMovies)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(value) != `[{"id":2}]` {
		t.Errorf("Get() = %q, want latest write", value)
	}
}

func TestMirror_DeleteAbsentKey(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	if err := m.Delete(ctx, KeyCurrentUser); err != nil {
		t.Errorf("Delete() of absent key error = %v, want nil", err)
	}
}

func TestMirror_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	ctx := context.Background()

	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := m.Put(ctx, KeySessionToken, []byte("persisted")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	value, err := reopened.Get(ctx, KeySessionToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(value) != "persisted" {
		t.Errorf("Get() after reopen = %q, want %q", value, "persisted")
	}
}
