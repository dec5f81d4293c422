// Command driftwatch runs the client-side watch-state synchronization
// engine against a remote media manager server: it boots from the local
// mirror, keeps the watch collections in sync over REST and the push
// channel, and periodically resyncs incrementally.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/driftwatch/driftwatch/internal/api"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/engine"
	"github.com/driftwatch/driftwatch/internal/logger"
	"github.com/driftwatch/driftwatch/internal/mirror"
	"github.com/driftwatch/driftwatch/internal/scheduler"
	"github.com/driftwatch/driftwatch/internal/session"
	"github.com/driftwatch/driftwatch/internal/watch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "driftwatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// optional .env for local development
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	username := flag.String("username", os.Getenv("DRIFTWATCH_USERNAME"), "login username (first run)")
	password := flag.String("password", os.Getenv("DRIFTWATCH_PASSWORD"), "login password (first run)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Path:   cfg.Logging.Path,
	})
	defer log.Close()

	m, err := mirror.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer m.Close()

	sess := session.NewStore(m, log.Logger)

	client, err := api.NewClient(api.ClientConfig{
		URL:     cfg.Server.URL,
		Tokens:  sess,
		Timeout: cfg.Server.Timeout,
		Logger:  log.Logger,
	})
	if err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		Client:  client,
		Session: sess,
		Mirror:  m,
		Logger:  log.Logger,
	})
	defer eng.Close()

	ctx := context.Background()

	if err := eng.Boot(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	if !sess.LoggedIn() {
		if *username == "" {
			return fmt.Errorf("not logged in; pass -username/-password or set DRIFTWATCH_USERNAME/DRIFTWATCH_PASSWORD")
		}
		log.Info().Str("username", *username).Msg("logging in")
		if err := eng.Login(ctx, *username, *password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if err := eng.Boot(ctx); err != nil {
			return fmt.Errorf("boot: %w", err)
		}
	}

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		return err
	}
	if err := sched.Every(cfg.Sync.ResyncInterval, "resync", eng.Resync); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	changes := eng.Subscribe()
	defer eng.Unsubscribe(changes)
	go func() {
		cache := eng.Cache()
		for range changes {
			log.Info().
				Int("movies", cache.Len(watch.KindMovie)).
				Int("shows", cache.Len(watch.KindTVShow)).
				Int("seasons", cache.Len(watch.KindTVSeason)).
				Int("season_requests", cache.Len(watch.KindTVSeasonRequest)).
				Int("episodes", cache.Len(watch.KindTVEpisode)).
				Msg("watch state updated")
		}
	}()

	log.Info().Str("server", cfg.Server.URL).Msg("driftwatch running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	return nil
}
