package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/driftwatch/driftwatch/internal/api"
	"github.com/driftwatch/driftwatch/internal/mirror"
	"github.com/driftwatch/driftwatch/internal/watch"
)

// Mutation intents. None of them updates the cache optimistically: the
// cache changes only after the server confirms, and a failure leaves the
// last-known-good state untouched for the caller to surface.

// Login authenticates, persists the token and current user, and leaves the
// engine ready to Boot.
func (e *Engine) Login(ctx context.Context, username, password string) error {
	token, err := e.client.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if err := e.session.SetToken(ctx, token); err != nil {
		return err
	}

	user, err := e.client.FetchUser(ctx)
	if err != nil {
		return fmt.Errorf("fetch user after login: %w", err)
	}
	if user != nil {
		return e.session.SetUser(ctx, user)
	}
	return nil
}

// Logout clears the session and drops all watch state, in memory and in the
// mirror. The cache is recreated empty at the next session start.
func (e *Engine) Logout(ctx context.Context) error {
	e.Close()

	if err := e.session.Clear(ctx); err != nil {
		return err
	}

	e.cache.Reset()
	for _, key := range []string{
		mirror.KeyWatchMovies,
		mirror.KeyWatchTVShows,
		mirror.KeyWatchTVSeasons,
		mirror.KeyWatchTVSeasonReq,
		mirror.KeyWatchTVEpisodes,
		mirror.KeySyncCursor,
	} {
		if err := e.mirror.Delete(ctx, key); err != nil {
			return err
		}
	}

	e.notifier.Notify()
	return nil
}

// UpdateSettings patches the settings singleton on the server and stores
// the result.
func (e *Engine) UpdateSettings(ctx context.Context, params map[string]any) (*api.Settings, error) {
	e.mu.Lock()
	current := e.settings
	e.mu.Unlock()
	if current == nil {
		return nil, fmt.Errorf("settings not loaded")
	}

	updated, err := e.client.UpdateSettings(ctx, current.ID, params)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.settings = updated
	e.mu.Unlock()
	return updated, nil
}

// WatchMovie requests acquisition of a movie.
func (e *Engine) WatchMovie(ctx context.Context, tmdbMovieID int64, name, posterImageURL, releaseDate, qualityProfileCustom string) (watch.Movie, error) {
	params := map[string]any{
		"tmdb_movie_id":    tmdbMovieID,
		"name":             name,
		"poster_image_url": posterImageURL,
		"release_date":     releaseDate,
	}
	if qualityProfileCustom != "" {
		params["quality_profile_custom"] = qualityProfileCustom
	}

	var movie watch.Movie
	raw, err := e.client.CreateWatch(ctx, watch.KindMovie, params)
	if err != nil {
		return movie, err
	}
	if err := json.Unmarshal(raw, &movie); err != nil {
		return movie, fmt.Errorf("decode watch movie: %w", err)
	}

	if e.cache.UpsertMovie(movie) {
		e.commit(ctx, watch.KindMovie)
	}
	return movie, nil
}

// UnwatchMovie stops watching a movie.
func (e *Engine) UnwatchMovie(ctx context.Context, id int64) error {
	if err := e.client.RemoveWatch(ctx, watch.KindMovie, id); err != nil {
		return err
	}
	if e.cache.RemoveMovie(id) {
		e.commit(ctx, watch.KindMovie)
	}
	return nil
}

// WatchTVShow starts watching a show. Seasons and episodes are requested
// separately.
func (e *Engine) WatchTVShow(ctx context.Context, tmdbShowID int64, name, posterImageURL, releaseDate string, autoWatch bool) (watch.TVShow, error) {
	params := map[string]any{
		"tmdb_show_id":     tmdbShowID,
		"name":             name,
		"poster_image_url": posterImageURL,
		"release_date":     releaseDate,
		"auto_watch":       autoWatch,
	}

	var show watch.TVShow
	raw, err := e.client.CreateWatch(ctx, watch.KindTVShow, params)
	if err != nil {
		return show, err
	}
	if err := json.Unmarshal(raw, &show); err != nil {
		return show, fmt.Errorf("decode watch show: %w", err)
	}

	if e.cache.UpsertTVShow(show) {
		e.commit(ctx, watch.KindTVShow)
	}
	return show, nil
}

// UpdateTVShow patches a watched show (e.g. toggling auto_watch or its
// quality profile).
func (e *Engine) UpdateTVShow(ctx context.Context, id int64, params map[string]any) (watch.TVShow, error) {
	var show watch.TVShow
	raw, err := e.client.UpdateWatch(ctx, watch.KindTVShow, id, params)
	if err != nil {
		return show, err
	}
	if err := json.Unmarshal(raw, &show); err != nil {
		return show, fmt.Errorf("decode watch show: %w", err)
	}

	if e.cache.UpsertTVShow(show) {
		e.commit(ctx, watch.KindTVShow)
	}
	return show, nil
}

// UnwatchTVShow stops watching a show and removes every season, season
// request and episode that belongs to it.
func (e *Engine) UnwatchTVShow(ctx context.Context, id int64) error {
	if err := e.client.RemoveWatch(ctx, watch.KindTVShow, id); err != nil {
		return err
	}
	if e.cache.RemoveTVShowCascade(id) {
		e.commit(ctx, watch.KindTVShow, watch.KindTVSeason, watch.KindTVSeasonRequest, watch.KindTVEpisode)
	}
	return nil
}

// RequestTVSeason requests acquisition of a whole season.
func (e *Engine) RequestTVSeason(ctx context.Context, watchShowID int64, seasonNumber int, releaseDate string) (watch.TVSeasonRequest, error) {
	params := map[string]any{
		"watch_tv_show": watchShowID,
		"season_number": seasonNumber,
		"release_date":  releaseDate,
	}

	var request watch.TVSeasonRequest
	raw, err := e.client.CreateWatch(ctx, watch.KindTVSeasonRequest, params)
	if err != nil {
		return request, err
	}
	if err := json.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("decode season request: %w", err)
	}

	if e.cache.UpsertTVSeasonRequest(request) {
		e.commit(ctx, watch.KindTVSeasonRequest)
	}
	return request, nil
}

// UnrequestTVSeason withdraws a season request. The season record sharing
// its (show, season number) and that season's episodes are removed too;
// leaving them would imply partial watch state for a season nobody asked
// for anymore.
func (e *Engine) UnrequestTVSeason(ctx context.Context, requestID int64) error {
	if err := e.client.RemoveWatch(ctx, watch.KindTVSeasonRequest, requestID); err != nil {
		return err
	}
	if e.cache.RemoveTVSeasonRequestCascade(requestID) {
		e.commit(ctx, watch.KindTVSeasonRequest, watch.KindTVSeason, watch.KindTVEpisode)
	}
	return nil
}

// WatchTVEpisode requests acquisition of a single episode.
func (e *Engine) WatchTVEpisode(ctx context.Context, watchShowID, tmdbEpisodeID int64, seasonNumber, episodeNumber int, releaseDate string) (watch.TVEpisode, error) {
	params := map[string]any{
		"watch_tv_show":   watchShowID,
		"tmdb_episode_id": tmdbEpisodeID,
		"season_number":   seasonNumber,
		"episode_number":  episodeNumber,
		"release_date":    releaseDate,
	}

	var episode watch.TVEpisode
	raw, err := e.client.CreateWatch(ctx, watch.KindTVEpisode, params)
	if err != nil {
		return episode, err
	}
	if err := json.Unmarshal(raw, &episode); err != nil {
		return episode, fmt.Errorf("decode watch episode: %w", err)
	}

	if e.cache.UpsertTVEpisode(episode) {
		e.commit(ctx, watch.KindTVEpisode)
	}
	return episode, nil
}

// UnwatchTVEpisode stops watching a single episode.
func (e *Engine) UnwatchTVEpisode(ctx context.Context, id int64) error {
	if err := e.client.RemoveWatch(ctx, watch.KindTVEpisode, id); err != nil {
		return err
	}
	if e.cache.RemoveTVEpisode(id) {
		e.commit(ctx, watch.KindTVEpisode)
	}
	return nil
}

// BlacklistRetryMovie blacklists the movie's current torrent and retries;
// the server's refreshed record replaces the cached one.
func (e *Engine) BlacklistRetryMovie(ctx context.Context, id int64) (watch.Movie, error) {
	var movie watch.Movie
	raw, err := e.client.BlacklistRetry(ctx, watch.KindMovie, id)
	if err != nil {
		return movie, err
	}
	if err := json.Unmarshal(raw, &movie); err != nil {
		return movie, fmt.Errorf("decode watch movie: %w", err)
	}

	if e.cache.UpsertMovie(movie) {
		e.commit(ctx, watch.KindMovie)
	}
	return movie, nil
}

// BlacklistRetryTVSeason blacklists a season's current torrent and retries.
func (e *Engine) BlacklistRetryTVSeason(ctx context.Context, id int64) (watch.TVSeason, error) {
	var season watch.TVSeason
	raw, err := e.client.BlacklistRetry(ctx, watch.KindTVSeason, id)
	if err != nil {
		return season, err
	}
	if err := json.Unmarshal(raw, &season); err != nil {
		return season, fmt.Errorf("decode watch season: %w", err)
	}

	if e.cache.UpsertTVSeason(season) {
		e.commit(ctx, watch.KindTVSeason)
	}
	return season, nil
}

// BlacklistRetryTVEpisode blacklists an episode's current torrent and
// retries.
func (e *Engine) BlacklistRetryTVEpisode(ctx context.Context, id int64) (watch.TVEpisode, error) {
	var episode watch.TVEpisode
	raw, err := e.client.BlacklistRetry(ctx, watch.KindTVEpisode, id)
	if err != nil {
		return episode, err
	}
	if err := json.Unmarshal(raw, &episode); err != nil {
		return episode, fmt.Errorf("decode watch episode: %w", err)
	}

	if e.cache.UpsertTVEpisode(episode) {
		e.commit(ctx, watch.KindTVEpisode)
	}
	return episode, nil
}

// commit persists the affected collections and fires a single change tick.
// Mirror write failures do not roll the cache back; they are logged and the
// next write-through repairs the mirror.
func (e *Engine) commit(ctx context.Context, kinds ...watch.Kind) {
	if err := e.persistKinds(ctx, kinds...); err != nil {
		e.logger.Error().Err(err).Msg("mirror write failed")
	}
	e.notifier.Notify()
}
