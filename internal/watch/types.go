// Package watch defines the five watch-entity kinds tracked by the engine
// and the merge semantics that keep their in-memory collections consistent
// across full refreshes, incremental refreshes and push notifications.
package watch

import "fmt"

// Kind identifies one of the five watch-entity collections. The values match
// the type tags used on push frames.
type Kind string

const (
	KindMovie           Kind = "MOVIE"
	KindTVShow          Kind = "TV_SHOW"
	KindTVSeason        Kind = "TV_SEASON"
	KindTVSeasonRequest Kind = "TV_SEASON_REQUEST"
	KindTVEpisode       Kind = "TV_EPISODE"
)

// Kinds lists every entity kind, in the order collections are refreshed.
var Kinds = []Kind{KindMovie, KindTVShow, KindTVSeason, KindTVSeasonRequest, KindTVEpisode}

// ParseKind validates a push-frame type tag.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMovie, KindTVShow, KindTVSeason, KindTVSeasonRequest, KindTVEpisode:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown watch entity kind %q", s)
}

// APIPath returns the REST collection path for the kind.
func (k Kind) APIPath() string {
	switch k {
	case KindMovie:
		return "/api/watch-movie/"
	case KindTVShow:
		return "/api/watch-tv-show/"
	case KindTVSeason:
		return "/api/watch-tv-season/"
	case KindTVSeasonRequest:
		return "/api/watch-tv-season-request/"
	case KindTVEpisode:
		return "/api/watch-tv-episode/"
	}
	return ""
}

// Record is implemented by every watch-entity type. Identity within a
// collection is the server-assigned id alone.
type Record interface {
	RecordID() int64
}

// Movie is a watched (requested) movie.
type Movie struct {
	ID                      int64  `json:"id"`
	TMDBMovieID             int64  `json:"tmdb_movie_id"`
	Name                    string `json:"name"`
	PosterImageURL          string `json:"poster_image_url,omitempty"`
	ReleaseDate             string `json:"release_date,omitempty"`
	Collected               bool   `json:"collected"`
	QualityProfile          string `json:"quality_profile,omitempty"`
	QualityProfileCustom    string `json:"quality_profile_custom,omitempty"`
	RequestedBy             string `json:"requested_by,omitempty"`
	TransmissionTorrentHash string `json:"transmission_torrent_hash,omitempty"`
	LastAttemptDate         string `json:"last_attempt_date,omitempty"`
	DateAdded               string `json:"date_added,omitempty"`
	DateUpdated             string `json:"date_updated,omitempty"`
}

// RecordID implements Record.
func (m Movie) RecordID() int64 { return m.ID }

// TVShow is a watched TV show; seasons, season requests and episodes refer
// back to it through WatchTVShow.
type TVShow struct {
	ID             int64  `json:"id"`
	TMDBShowID     int64  `json:"tmdb_show_id"`
	Name           string `json:"name"`
	PosterImageURL string `json:"poster_image_url,omitempty"`
	ReleaseDate    string `json:"release_date,omitempty"`
	AutoWatch      bool   `json:"auto_watch"`
	QualityProfile string `json:"quality_profile,omitempty"`
	RequestedBy    string `json:"requested_by,omitempty"`
	DateAdded      string `json:"date_added,omitempty"`
	DateUpdated    string `json:"date_updated,omitempty"`
}

// RecordID implements Record.
func (s TVShow) RecordID() int64 { return s.ID }

// TVSeason tracks the collection status of one season of a watched show.
type TVSeason struct {
	ID           int64  `json:"id"`
	WatchTVShow  int64  `json:"watch_tv_show"`
	SeasonNumber int    `json:"season_number"`
	Collected    bool   `json:"collected"`
	DateUpdated  string `json:"date_updated,omitempty"`
}

// RecordID implements Record.
func (s TVSeason) RecordID() int64 { return s.ID }

// TVSeasonRequest is the intent to watch an entire season. It shares
// (watch_tv_show, season_number) with the corresponding TVSeason record but
// the two are independent rows.
type TVSeasonRequest struct {
	ID           int64  `json:"id"`
	WatchTVShow  int64  `json:"watch_tv_show"`
	SeasonNumber int    `json:"season_number"`
	ReleaseDate  string `json:"release_date,omitempty"`
	RequestedBy  string `json:"requested_by,omitempty"`
	DateUpdated  string `json:"date_updated,omitempty"`
}

// RecordID implements Record.
func (r TVSeasonRequest) RecordID() int64 { return r.ID }

// TVEpisode is a single watched episode.
type TVEpisode struct {
	ID            int64  `json:"id"`
	WatchTVShow   int64  `json:"watch_tv_show"`
	TMDBEpisodeID int64  `json:"tmdb_episode_id"`
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
	ReleaseDate   string `json:"release_date,omitempty"`
	Collected     bool   `json:"collected"`
	RequestedBy   string `json:"requested_by,omitempty"`
	DateUpdated   string `json:"date_updated,omitempty"`
}

// RecordID implements Record.
func (e TVEpisode) RecordID() int64 { return e.ID }

// Action is the change verb carried on a push frame.
type Action string

const (
	ActionUpdated Action = "UPDATED"
	ActionRemoved Action = "REMOVED"
)
