package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Campus/internal/adapters/http"
	wssignal "github.com/dkeye/Campus/internal/adapters/signal"
	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/app/orch"
	"github.com/dkeye/Campus/internal/config"
	"github.com/dkeye/Campus/internal/core"
	"github.com/dkeye/Campus/internal/push"
	"github.com/dkeye/Campus/internal/relay"
	"github.com/dkeye/Campus/internal/search"
	"github.com/dkeye/Campus/internal/store"
	"github.com/dkeye/Campus/internal/store/memstore"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogging(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	auth := app.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, gw)
	accounts := app.NewAccounts(gw, gw, auth)
	if cfg.Seed.Enabled {
		if err := app.Seed(ctx, gw, accounts, app.SeedConfig{
			AdminName:     "Admin",
			AdminEmail:    cfg.Seed.AdminEmail,
			AdminPassword: cfg.Seed.AdminPassword,
		}); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	registry := core.NewRegistry()
	defer registry.Close()
	o := orch.New(registry, gw, backpressurePolicy(cfg.WS.SlowPolicy))

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()

		rel := relay.NewRedisRelay(rdb, "")
		if err := rel.Start(ctx, func(room core.RoomID, f core.Frame) { o.Deliver(room, f) }); err != nil {
			return fmt.Errorf("start relay: %w", err)
		}
		defer rel.Close()
		o.Relay = rel
	}

	var index app.DiscussionIndex
	if cfg.Search.MeiliURL != "" {
		meili := search.NewMeili(cfg.Search.MeiliURL, cfg.Search.MeiliKey)
		defer meili.Close()
		svc := search.NewService(meili, gw)
		go func() {
			if err := svc.Reindex(ctx); err != nil {
				log.Warn().Err(err).Str("module", "search").Msg("initial reindex failed")
			}
		}()
		index = svc
	}

	notifier, stopPush, err := setupPush(cfg, gw)
	if err != nil {
		return err
	}
	defer stopPush()

	sigCtl := wssignal.NewSignalWSController(o, auth, wssignal.Options{
		ReadLimit:       cfg.WS.ReadLimit,
		PingPeriod:      cfg.WS.PingPeriod,
		SendBuffer:      cfg.WS.SendBuffer,
		MessageRate:     cfg.WS.MessageRate,
		MessageInterval: cfg.WS.MessageInterval,
	})
	r := router.SetupRouter(ctx, cfg, router.Services{
		Auth:          auth,
		Accounts:      accounts,
		Communities:   app.NewCommunities(gw, gw),
		Threads:       app.NewThreads(gw, index),
		News:          app.NewNews(gw, notifier),
		Subscriptions: app.NewSubscriptions(gw),
		Orch:          o,
		Signal:        sigCtl,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Campus server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		_ = srv.Close()
	}
	return nil
}

func backpressurePolicy(name string) app.Policy {
	if name == "drop" {
		return app.TolerantPolicy{}
	}
	return app.KickPolicy{}
}

func openGateway(ctx context.Context, cfg *config.Config) (app.Gateway, error) {
	if cfg.Database.URL == "" {
		log.Warn().Str("module", "store").Msg("database.url not set, using in-memory store")
		return memstore.New(), nil
	}
	pool, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return store.NewPostgresStore(pool), nil
}

// setupPush picks the queue-backed notifier when Redis is configured and the
// in-process dispatcher otherwise. The returned func stops what was started.
func setupPush(cfg *config.Config, subs app.SubscriptionStore) (app.Notifier, func(), error) {
	if !cfg.Push.Enabled() {
		log.Warn().Str("module", "push").Msg("VAPID keys not set, push notifications disabled")
		return nil, func() {}, nil
	}
	sender := push.NewWebPushSender(push.VAPIDConfig{
		PublicKey:  cfg.Push.VAPIDPublicKey,
		PrivateKey: cfg.Push.VAPIDPrivateKey,
		Subject:    cfg.Push.Subject,
		TTL:        cfg.Push.TTL,
	}, nil)
	dispatcher := push.NewDispatcher(subs, sender)
	if cfg.Redis.URL == "" {
		return dispatcher, func() {}, nil
	}

	opt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url for asynq: %w", err)
	}
	client := asynq.NewClient(opt)
	worker, mux := push.NewWorker(opt, 4, dispatcher)
	if err := worker.Start(mux); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("start push worker: %w", err)
	}
	stop := func() {
		worker.Shutdown()
		_ = client.Close()
	}
	return push.NewQueueNotifier(client), stop, nil
}
