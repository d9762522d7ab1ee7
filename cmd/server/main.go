package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Chat/internal/adapters/auth"
	"github.com/dkeye/Chat/internal/adapters/cache"
	"github.com/dkeye/Chat/internal/adapters/events"
	router "github.com/dkeye/Chat/internal/adapters/http"
	"github.com/dkeye/Chat/internal/adapters/storage/memory"
	"github.com/dkeye/Chat/internal/adapters/storage/postgres"
	"github.com/dkeye/Chat/internal/adapters/ws"
	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/config"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/dkeye/Chat/internal/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console logger until the configured one is in place.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Log)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, catalog, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, catalog cache will fall through")
		}
		catalog = cache.NewCatalog(catalog, rdb, cfg.Redis.TTL)
		log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.TTL).Msg("catalog cache enabled")
	}

	var pub core.EventPublisher
	if cfg.NATS.URL != "" {
		p, nc, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer nc.Drain()
		pub = p
		log.Info().Str("url", cfg.NATS.URL).Str("prefix", cfg.NATS.SubjectPrefix).Msg("message mirror enabled")
	}

	policy, err := app.PolicyByName(cfg.Overflow)
	if err != nil {
		return err
	}

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Store:    store,
		Catalog:  catalog,
		Events:   pub,
		Policy:   policy,
		Limits: orch.Limits{
			DefaultHistory: cfg.History.Default,
			MaxHistory:     cfg.History.Max,
			MaxContentLen:  cfg.History.MaxContentLen,
			StoreTimeout:   cfg.History.StoreTimeout,
		},
	}

	verifier, err := auth.NewVerifier(cfg.Secret)
	if err != nil {
		return err
	}
	ctl := ws.NewChatWSController(o, verifier, ws.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router.SetupRouter(ctx, cfg.Mode, o, ctl),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("storage", cfg.Storage.Driver).Msg("Chat server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})
	return g.Wait()
}

func openStorage(ctx context.Context, cfg *config.Config) (core.MessageStore, core.Catalog, func(), error) {
	if cfg.Storage.Driver == "postgres" {
		pg, err := postgres.Open(ctx, cfg.Storage.DSN, postgres.Options{
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return pg, pg, func() { _ = pg.Close() }, nil
	}
	log.Warn().Msg("using in-memory storage, messages are lost on restart")
	mem := memory.New()
	for _, room := range cfg.Storage.SeedRooms {
		mem.AddRoom(domain.RoomName(room))
	}
	for _, u := range cfg.Storage.SeedUsers {
		mem.AddUser(domain.UserID(u.ID), u.Username)
	}
	return mem, mem, func() {}, nil
}
