package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Cache holds the five watch collections in memory. It is the state the UI
// reads; writes only happen through merge application and the explicit
// mutation helpers below. A mutex guards the collections since fetches,
// push frames and mutation intents arrive on independent goroutines.
type Cache struct {
	mu             sync.RWMutex
	movies         []Movie
	shows          []TVShow
	seasons        []TVSeason
	seasonRequests []TVSeasonRequest
	episodes       []TVEpisode
}

// NewCache returns an empty cache. A cache starts empty at each session and
// is repopulated from the durable mirror before any network call resolves.
func NewCache() *Cache {
	return &Cache{}
}

// Reset drops every collection. Used when a session ends.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.movies = nil
	c.shows = nil
	c.seasons = nil
	c.seasonRequests = nil
	c.episodes = nil
}

// Movies returns a copy of the movie collection.
func (c *Cache) Movies() []Movie {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Movie(nil), c.movies...)
}

// TVShows returns a copy of the show collection.
func (c *Cache) TVShows() []TVShow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]TVShow(nil), c.shows...)
}

// TVSeasons returns a copy of the season collection.
func (c *Cache) TVSeasons() []TVSeason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]TVSeason(nil), c.seasons...)
}

// TVSeasonRequests returns a copy of the season-request collection.
func (c *Cache) TVSeasonRequests() []TVSeasonRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]TVSeasonRequest(nil), c.seasonRequests...)
}

// TVEpisodes returns a copy of the episode collection.
func (c *Cache) TVEpisodes() []TVEpisode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]TVEpisode(nil), c.episodes...)
}

// Len returns the size of one collection.
func (c *Cache) Len(kind Kind) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch kind {
	case KindMovie:
		return len(c.movies)
	case KindTVShow:
		return len(c.shows)
	case KindTVSeason:
		return len(c.seasons)
	case KindTVSeasonRequest:
		return len(c.seasonRequests)
	case KindTVEpisode:
		return len(c.episodes)
	}
	return 0
}

// IsWatchingMovie reports whether a catalog movie is being watched.
func (c *Cache) IsWatchingMovie(tmdbMovieID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.movies {
		if m.TMDBMovieID == tmdbMovieID {
			return true
		}
	}
	return false
}

// IsWatchingShow reports whether a catalog show is being watched.
func (c *Cache) IsWatchingShow(tmdbShowID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.shows {
		if s.TMDBShowID == tmdbShowID {
			return true
		}
	}
	return false
}

// ApplyList decodes a fetched JSON array for the kind and reconciles it into
// the matching collection. It reports whether the collection changed.
func (c *Cache) ApplyList(kind Kind, raw json.RawMessage, mode Mode) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case KindMovie:
		return applyList(&c.movies, raw, mode)
	case KindTVShow:
		return applyList(&c.shows, raw, mode)
	case KindTVSeason:
		return applyList(&c.seasons, raw, mode)
	case KindTVSeasonRequest:
		return applyList(&c.seasonRequests, raw, mode)
	case KindTVEpisode:
		return applyList(&c.episodes, raw, mode)
	}
	return false, fmt.Errorf("unknown watch entity kind %q", kind)
}

func applyList[T Record](dst *[]T, raw json.RawMessage, mode Mode) (bool, error) {
	var incoming []T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &incoming); err != nil {
			return false, fmt.Errorf("decode watch list: %w", err)
		}
	}
	result, changed := MergeSlice(*dst, incoming, mode)
	*dst = result
	return changed, nil
}

// ApplyPush applies one push frame's record to the matching collection; it
// is merge-mode application with a batch of one. For ActionRemoved with an
// id that is no longer present the call reports changed=false and no error,
// which the caller logs as a warning.
func (c *Cache) ApplyPush(kind Kind, action Action, data json.RawMessage) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case KindMovie:
		return applyPush(&c.movies, action, data)
	case KindTVShow:
		return applyPush(&c.shows, action, data)
	case KindTVSeason:
		return applyPush(&c.seasons, action, data)
	case KindTVSeasonRequest:
		return applyPush(&c.seasonRequests, action, data)
	case KindTVEpisode:
		return applyPush(&c.episodes, action, data)
	}
	return false, fmt.Errorf("unknown watch entity kind %q", kind)
}

func applyPush[T Record](dst *[]T, action Action, data json.RawMessage) (bool, error) {
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, fmt.Errorf("decode push record: %w", err)
	}

	var changed bool
	switch action {
	case ActionUpdated:
		*dst, changed = UpsertRecord(*dst, rec)
	case ActionRemoved:
		*dst, changed = RemoveRecord(*dst, rec.RecordID())
	default:
		return false, fmt.Errorf("unknown push action %q", action)
	}
	return changed, nil
}

// UpsertMovie adds or overwrites one movie record.
func (c *Cache) UpsertMovie(m Movie) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed bool
	c.movies, changed = UpsertRecord(c.movies, m)
	return changed
}

// UpsertTVShow adds or overwrites one show record.
func (c *Cache) UpsertTVShow(s TVShow) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed bool
	c.shows, changed = UpsertRecord(c.shows, s)
	return changed
}

// UpsertTVSeason adds or overwrites one season record.
func (c *Cache) UpsertTVSeason(s TVSeason) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed bool
	c.seasons, changed = UpsertRecord(c.seasons, s)
	return changed
}

// UpsertTVSeasonRequest adds or overwrites one season-request record.
func (c *Cache) UpsertTVSeasonRequest(r TVSeasonRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed bool
	c.seasonRequests, changed = UpsertRecord(c.seasonRequests, r)
	return changed
}

// UpsertTVEpisode adds or overwrites one episode record.
func (c *Cache) UpsertTVEpisode(e TVEpisode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed bool
	c.episodes, changed = UpsertRecord(c.episodes, e)
	return changed
}

// RemoveMovie deletes one movie by id.
func (c *Cache) RemoveMovie(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed bool
	c.movies, changed = RemoveRecord(c.movies, id)
	return changed
}

// RemoveTVEpisode deletes one episode by id.
func (c *Cache) RemoveTVEpisode(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed bool
	c.episodes, changed = RemoveRecord(c.episodes, id)
	return changed
}

// RemoveTVShowCascade deletes a show and every season, season request and
// episode that belongs to it. Stopping a show without the cascade would
// leave orphaned children implying partial watch state.
func (c *Cache) RemoveTVShowCascade(showID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed bool
	c.shows, changed = RemoveRecord(c.shows, showID)

	c.seasons, changed = filterOut(c.seasons, changed, func(s TVSeason) bool {
		return s.WatchTVShow == showID
	})
	c.seasonRequests, changed = filterOut(c.seasonRequests, changed, func(r TVSeasonRequest) bool {
		return r.WatchTVShow == showID
	})
	c.episodes, changed = filterOut(c.episodes, changed, func(e TVEpisode) bool {
		return e.WatchTVShow == showID
	})
	return changed
}

// RemoveTVSeasonRequestCascade deletes a season request plus the season
// record sharing its (show, season number) and all episodes of that show in
// the same season. Returns false when the request id is unknown.
func (c *Cache) RemoveTVSeasonRequestCascade(requestID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var req TVSeasonRequest
	found := false
	for _, r := range c.seasonRequests {
		if r.ID == requestID {
			req = r
			found = true
			break
		}
	}
	if !found {
		return false
	}

	c.seasonRequests, _ = RemoveRecord(c.seasonRequests, requestID)

	changed := true
	c.seasons, changed = filterOut(c.seasons, changed, func(s TVSeason) bool {
		return s.WatchTVShow == req.WatchTVShow && s.SeasonNumber == req.SeasonNumber
	})
	c.episodes, changed = filterOut(c.episodes, changed, func(e TVEpisode) bool {
		return e.WatchTVShow == req.WatchTVShow && e.SeasonNumber == req.SeasonNumber
	})
	return changed
}

func filterOut[T Record](in []T, changed bool, drop func(T) bool) ([]T, bool) {
	kept := in[:0:0]
	for _, rec := range in {
		if !drop(rec) {
			kept = append(kept, rec)
		}
	}
	return kept, changed || len(kept) != len(in)
}

// MarshalKind encodes one collection for the durable mirror. Movies and
// shows are sorted case-insensitively by name first so storage, and the
// first paint after a reload, is deterministically ordered.
func (c *Cache) MarshalKind(kind Kind) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch kind {
	case KindMovie:
		movies := append([]Movie(nil), c.movies...)
		sort.SliceStable(movies, func(i, j int) bool {
			return strings.ToLower(movies[i].Name) < strings.ToLower(movies[j].Name)
		})
		return json.Marshal(movies)
	case KindTVShow:
		shows := append([]TVShow(nil), c.shows...)
		sort.SliceStable(shows, func(i, j int) bool {
			return strings.ToLower(shows[i].Name) < strings.ToLower(shows[j].Name)
		})
		return json.Marshal(shows)
	case KindTVSeason:
		return json.Marshal(c.seasons)
	case KindTVSeasonRequest:
		return json.Marshal(c.seasonRequests)
	case KindTVEpisode:
		return json.Marshal(c.episodes)
	}
	return nil, fmt.Errorf("unknown watch entity kind %q", kind)
}
