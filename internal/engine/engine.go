// Package engine ties the sync machinery together: it boots the session
// from the durable mirror, keeps the five watch collections consistent
// across full refreshes, incremental refreshes and push frames, and exposes
// the mutation intents the UI issues.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftwatch/driftwatch/internal/api"
	"github.com/driftwatch/driftwatch/internal/mirror"
	"github.com/driftwatch/driftwatch/internal/push"
	"github.com/driftwatch/driftwatch/internal/session"
	"github.com/driftwatch/driftwatch/internal/watch"
)

// mirrorKeys maps each entity kind to its durable mirror key.
var mirrorKeys = map[watch.Kind]string{
	watch.KindMovie:           mirror.KeyWatchMovies,
	watch.KindTVShow:          mirror.KeyWatchTVShows,
	watch.KindTVSeason:        mirror.KeyWatchTVSeasons,
	watch.KindTVSeasonRequest: mirror.KeyWatchTVSeasonReq,
	watch.KindTVEpisode:       mirror.KeyWatchTVEpisodes,
}

// Config configures an Engine.
type Config struct {
	Client  *api.Client
	Session *session.Store
	Mirror  *mirror.Mirror
	Logger  zerolog.Logger

	// PushReconnectDelay overrides the push channel's fixed reconnect
	// delay; zero keeps the default.
	PushReconnectDelay time.Duration
}

// Engine is the client-side state synchronization engine. Construct one per
// session; consumers read the cache and subscribe to change ticks.
type Engine struct {
	client   *api.Client
	session  *session.Store
	mirror   *mirror.Mirror
	cache    *watch.Cache
	notifier *watch.Notifier
	logger   zerolog.Logger

	pushDelay time.Duration

	mu              sync.Mutex
	settings        *api.Settings
	qualityProfiles []string
	mediaCategories []string
	channel         *push.Channel
	cursor          time.Time
}

// New creates an engine. Boot must be called before the cache holds data.
func New(cfg Config) *Engine {
	return &Engine{
		client:    cfg.Client,
		session:   cfg.Session,
		mirror:    cfg.Mirror,
		cache:     watch.NewCache(),
		notifier:  watch.NewNotifier(),
		logger:    cfg.Logger.With().Str("component", "engine").Logger(),
		pushDelay: cfg.PushReconnectDelay,
	}
}

// Cache returns the in-memory watch collections.
func (e *Engine) Cache() *watch.Cache {
	return e.cache
}

// Subscribe returns a channel that ticks once per externally visible change
// batch. Subscribers re-read the cache.
func (e *Engine) Subscribe() <-chan struct{} {
	return e.notifier.Subscribe()
}

// Unsubscribe releases a subscription.
func (e *Engine) Unsubscribe(ch <-chan struct{}) {
	e.notifier.Unsubscribe(ch)
}

// Session returns the session store.
func (e *Engine) Session() *session.Store {
	return e.session
}

// Settings returns the last fetched settings singleton, nil before core
// data has loaded.
func (e *Engine) Settings() *api.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// QualityProfiles returns the configured quality profile names.
func (e *Engine) QualityProfiles() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.qualityProfiles...)
}

// MediaCategories returns the configured media category names.
func (e *Engine) MediaCategories() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.mediaCategories...)
}

// PushState reports the push channel state, Disconnected when no channel
// was opened.
func (e *Engine) PushState() push.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.channel == nil {
		return push.Disconnected
	}
	return e.channel.State()
}

// Close tears down the push channel.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.channel != nil {
		e.channel.Stop()
		e.channel = nil
	}
}

// Boot runs the startup sequence: load the mirror, validate the session,
// fetch core reference data, open the push channel and kick off a
// background full refresh. With no session it returns nil and the engine
// stays logged out; stale mirror data remains readable immediately either
// way.
func (e *Engine) Boot(ctx context.Context) error {
	if err := e.loadMirror(ctx); err != nil {
		return err
	}

	if !e.session.LoggedIn() {
		e.logger.Info().Msg("not logged in")
		return nil
	}

	user, err := e.client.FetchUser(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			e.logger.Info().Msg("session rejected, clearing stored credentials")
			if clearErr := e.session.Clear(ctx); clearErr != nil {
				return clearErr
			}
			return nil
		}
		return fmt.Errorf("fetch user: %w", err)
	}
	if user != nil {
		if err := e.session.SetUser(ctx, user); err != nil {
			return err
		}
	}

	if err := e.fetchCoreData(ctx); err != nil {
		return fmt.Errorf("fetch core data: %w", err)
	}

	// Best-effort: the mirror already gave usable data, so the full
	// refresh runs in the background and failures are only logged.
	go func() {
		if err := e.RefreshAll(context.Background()); err != nil {
			e.logger.Warn().Err(err).Msg("background refresh failed")
		}
	}()

	return nil
}

// loadMirror reads the session and all five collections in parallel and
// populates the cache; missing keys mean empty collections.
func (e *Engine) loadMirror(ctx context.Context) error {
	loaders := []func() error{
		func() error { return e.session.Load(ctx) },
		func() error { return e.loadCursor(ctx) },
	}
	for _, kind := range watch.Kinds {
		kind := kind
		loaders = append(loaders, func() error {
			raw, err := e.mirror.Get(ctx, mirrorKeys[kind])
			if err != nil {
				return err
			}
			if len(raw) == 0 {
				return nil
			}
			if _, err := e.cache.ApplyList(kind, raw, watch.Replace); err != nil {
				// Unreadable mirror data is equivalent to a cold
				// start for that collection.
				e.logger.Warn().Err(err).Str("kind", string(kind)).Msg("discarding unreadable mirror data")
			}
			return nil
		})
	}

	if err := join(loaders...); err != nil {
		return fmt.Errorf("load mirror: %w", err)
	}

	e.notifier.Notify()
	return nil
}

func (e *Engine) loadCursor(ctx context.Context) error {
	raw, err := e.mirror.Get(ctx, mirror.KeySyncCursor)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	cursor, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		e.logger.Warn().Err(err).Msg("discarding unreadable sync cursor")
		return nil
	}
	e.mu.Lock()
	e.cursor = cursor
	e.mu.Unlock()
	return nil
}

// fetchCoreData loads settings, quality profiles and media categories
// concurrently; the join fails if any of them fails. On success the push
// channel is opened unless settings report a debug deployment.
func (e *Engine) fetchCoreData(ctx context.Context) error {
	var (
		settings   *api.Settings
		profiles   []string
		categories []string
	)

	err := join(
		func() error {
			var err error
			settings, err = e.client.FetchSettings(ctx)
			return err
		},
		func() error {
			var err error
			profiles, err = e.client.FetchQualityProfiles(ctx)
			return err
		},
		func() error {
			var err error
			categories, err = e.client.FetchMediaCategories(ctx)
			return err
		},
	)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.settings = settings
	e.qualityProfiles = profiles
	e.mediaCategories = categories
	e.mu.Unlock()

	if settings == nil {
		e.logger.Warn().Msg("server has no settings")
		return nil
	}
	if settings.IsDebug {
		e.logger.Debug().Msg("debug deployment, push channel stays closed")
		return nil
	}

	return e.openPushChannel(settings.WebsocketURL)
}

func (e *Engine) openPushChannel(advertised string) error {
	channelURL, err := push.DeriveURL(e.client.BaseURL(), advertised)
	if err != nil {
		return fmt.Errorf("derive push URL: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.channel != nil {
		e.channel.Stop()
	}
	e.channel = push.New(push.Config{
		URL:            channelURL,
		Handler:        e.applyPush,
		ReconnectDelay: e.pushDelay,
		Logger:         e.logger,
	})
	e.channel.Start()
	return nil
}

// applyPush applies one push frame to the cache: UPDATED upserts, REMOVED
// deletes by id. A REMOVED for an id that is already gone is a logged
// no-op, the frame may be a duplicate delivery.
func (e *Engine) applyPush(kind watch.Kind, action watch.Action, data json.RawMessage) {
	changed, err := e.cache.ApplyPush(kind, action, data)
	if err != nil {
		e.logger.Warn().Err(err).Str("kind", string(kind)).Msg("dropping push frame")
		return
	}
	if !changed {
		if action == watch.ActionRemoved {
			e.logger.Warn().Str("kind", string(kind)).Msg("push removal for unknown record")
		}
		return
	}

	if err := e.persistKind(context.Background(), kind); err != nil {
		e.logger.Error().Err(err).Str("kind", string(kind)).Msg("mirror write failed")
	}
	e.notifier.Notify()
}

// RefreshAll performs a full, authoritative refresh of every collection.
// The five fetches run concurrently; each successful one replace-merges its
// collection so deletions made by other sessions propagate. A single change
// tick fires for the whole batch.
func (e *Engine) RefreshAll(ctx context.Context) error {
	start := time.Now()

	var (
		mu      sync.Mutex
		changed bool
	)

	fetchers := make([]func() error, 0, len(watch.Kinds))
	for _, kind := range watch.Kinds {
		kind := kind
		fetchers = append(fetchers, func() error {
			collectionChanged, err := e.fetchAndApply(ctx, kind, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			changed = changed || collectionChanged
			mu.Unlock()
			return nil
		})
	}

	err := join(fetchers...)

	if changed {
		e.notifier.Notify()
	}
	if err != nil {
		return err
	}

	return e.advanceCursor(ctx, start)
}

// Resync performs an incremental refresh of every collection using the
// persisted cursor; without a cursor it falls back to a full refresh. The
// cursor only advances after the whole batch succeeds so a failed window is
// retried rather than silently skipped.
func (e *Engine) Resync(ctx context.Context) error {
	e.mu.Lock()
	cursor := e.cursor
	e.mu.Unlock()

	if cursor.IsZero() {
		return e.RefreshAll(ctx)
	}

	start := time.Now()

	var (
		mu      sync.Mutex
		changed bool
	)

	fetchers := make([]func() error, 0, len(watch.Kinds))
	for _, kind := range watch.Kinds {
		kind := kind
		fetchers = append(fetchers, func() error {
			collectionChanged, err := e.fetchAndApply(ctx, kind, &cursor)
			if err != nil {
				return err
			}
			mu.Lock()
			changed = changed || collectionChanged
			mu.Unlock()
			return nil
		})
	}

	err := join(fetchers...)

	if changed {
		e.notifier.Notify()
	}
	if err != nil {
		return fmt.Errorf("incremental resync: %w", err)
	}

	return e.advanceCursor(ctx, start)
}

func (e *Engine) fetchAndApply(ctx context.Context, kind watch.Kind, since *time.Time) (bool, error) {
	raw, mode, err := e.client.FetchWatch(ctx, kind, since)
	if err != nil {
		return false, fmt.Errorf("fetch %s: %w", kind, err)
	}

	changed, err := e.cache.ApplyList(kind, raw, mode)
	if err != nil {
		return false, err
	}
	if changed {
		if err := e.persistKind(ctx, kind); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

func (e *Engine) advanceCursor(ctx context.Context, at time.Time) error {
	e.mu.Lock()
	e.cursor = at
	e.mu.Unlock()

	value := at.UTC().Format(time.RFC3339)
	if err := e.mirror.Put(ctx, mirror.KeySyncCursor, []byte(value)); err != nil {
		return err
	}
	return nil
}

// persistKind writes one collection through to the mirror.
func (e *Engine) persistKind(ctx context.Context, kind watch.Kind) error {
	data, err := e.cache.MarshalKind(kind)
	if err != nil {
		return err
	}
	return e.mirror.Put(ctx, mirrorKeys[kind], data)
}

func (e *Engine) persistKinds(ctx context.Context, kinds ...watch.Kind) error {
	for _, kind := range kinds {
		if err := e.persistKind(ctx, kind); err != nil {
			return err
		}
	}
	return nil
}

// join runs every function concurrently and waits for all of them,
// returning the combined error.
func join(fns ...func() error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(fns))
	for i, fn := range fns {
		i, fn := i, fn
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn()
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
