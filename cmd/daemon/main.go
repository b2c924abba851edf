// SPDX-License-Identifier: MIT

// Command daemon runs the motion-to-music engine: the Redis motion ingest,
// the timeout sweeper, the token refresher and the REST API in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kesslerm/motionplay/internal/api"
	"github.com/kesslerm/motionplay/internal/cache"
	"github.com/kesslerm/motionplay/internal/clock"
	"github.com/kesslerm/motionplay/internal/config"
	"github.com/kesslerm/motionplay/internal/dispatch"
	"github.com/kesslerm/motionplay/internal/ingest"
	mplog "github.com/kesslerm/motionplay/internal/log"
	"github.com/kesslerm/motionplay/internal/refresher"
	"github.com/kesslerm/motionplay/internal/secrets"
	"github.com/kesslerm/motionplay/internal/spotify"
	"github.com/kesslerm/motionplay/internal/store"
	"github.com/kesslerm/motionplay/internal/sweeper"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("motionplay %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.Load()
	mplog.Configure(mplog.Config{Level: cfg.LogLevel, Service: "motionplay"})
	logger := mplog.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBPath, store.DefaultSQLiteConfig())
	if err != nil {
		logger.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("store open failed")
	}
	defer func() { _ = db.Close() }()

	sensors := db.Sensors()
	users := db.Users()
	sessions := db.Sessions(cfg.SessionTTLDays)
	events := db.Events(cfg.SessionTTLDays)

	secretStore := secrets.NewCached(
		secrets.NewSQLite(db.DB),
		cache.NewMemory(cfg.SecretCacheSize, cfg.SecretCacheTTL),
		cfg.SecretCacheTTL,
	)

	streaming := spotify.New(cfg.StreamingClientID, cfg.StreamingClientSecret,
		spotify.WithHTTPClient(&http.Client{Timeout: cfg.CallTimeout}))

	clk := clock.System{}

	dispatcher := dispatch.New(sensors, users, sessions, events, secretStore, streaming, clk)

	sw := sweeper.New(sensors, users, sessions, secretStore, streaming, clk, sweeper.Config{
		Interval: cfg.SweepInterval,
	})
	rf := refresher.New(users, secretStore, streaming, clk, refresher.Config{
		Interval: cfg.TokenRefreshInterval,
		Buffer:   cfg.TokenRefreshBuffer,
	})

	apiServer := api.New(sensors, users, sessions, secretStore, streaming, api.Defaults{
		TimeoutMinutes:  cfg.DefaultTimeoutMinutes,
		DebounceMinutes: cfg.DefaultDebounceMinutes,
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           apiServer.Router(cfg.APITokens),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sw.Run(gctx)
		return nil
	})
	g.Go(func() error {
		rf.Run(gctx)
		return nil
	})

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()

		sub := ingest.New(redisClient, cfg.MotionChannel, dispatcher)
		g.Go(func() error {
			return sub.Run(gctx)
		})
		logger.Info().
			Str("redis_addr", cfg.RedisAddr).
			Str("channel", cfg.MotionChannel).
			Msg("motion ingest enabled")
	} else {
		logger.Warn().Msg("no redis address configured, motion ingest disabled")
	}

	g.Go(func() error {
		logger.Info().Str("listen", cfg.Listen).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info().
		Str("version", version).
		Str("db_path", cfg.DBPath).
		Msg("motionplay started")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("motionplay stopped")
}
