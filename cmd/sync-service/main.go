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

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/games-society/internal/app"
	"github.com/weiawesome/games-society/internal/cache"
	"github.com/weiawesome/games-society/internal/config"
	"github.com/weiawesome/games-society/internal/conversation"
	"github.com/weiawesome/games-society/internal/events"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/graph"
	"github.com/weiawesome/games-society/internal/handler"
	"github.com/weiawesome/games-society/internal/hub"
	"github.com/weiawesome/games-society/internal/idgen"
	"github.com/weiawesome/games-society/internal/messagelog"
	"github.com/weiawesome/games-society/internal/reconciler"
	"github.com/weiawesome/games-society/internal/service"
	"github.com/weiawesome/games-society/internal/toggle"
	"github.com/weiawesome/games-society/pkg/jwt"
	pkglog "github.com/weiawesome/games-society/pkg/log"
	"github.com/weiawesome/games-society/pkg/middleware"
	"github.com/weiawesome/games-society/pkg/pubsub"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: "sync-service",
	})
	logger := pkglog.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Init ID generator
	ids, err := idgen.New(cfg.IDGen)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create id generator")
	}
	logger.Info().Str("type", cfg.IDGen.Type).Msg("id generator ready")

	// 4. Init document store
	st, err := app.OpenStore(ctx, cfg, ids)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store ready")

	// 5. Init counter cache
	counters, err := app.OpenCounters(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	logger.Info().Str("addr", cfg.Redis.Address).Msg("counter cache ready")

	// 6. Init event bus; confirmed events also update the counter cache
	if cfg.PubSub.Kafka.Topics == nil {
		cfg.PubSub.Kafka.Topics = events.Topics()
	}
	bus, err := pubsub.NewPublisher(cfg.PubSub)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create event publisher, events disabled")
		bus = pubsub.Noop{}
	}
	emitter := events.NewEmitter(pubsub.Fanout{bus, cache.NewProjector(counters)})
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("event bus ready")

	// 7. Create core components
	feeds := feed.NewManager(st, cfg.Feed)
	resolver := conversation.NewResolver(st, st, emitter)
	mutator := graph.NewMutator(st, emitter)
	toggles := toggle.NewCoordinator(st, emitter)
	svc := service.NewSyncService(service.Deps{
		Store:    st,
		Counters: counters,
		Resolver: resolver,
		Messages: messagelog.New(st, feeds, ids, emitter, cfg.MessageLog),
		Graph:    mutator,
		Toggles:  toggles,
	})

	// 8. Init reconciler and start
	rec := reconciler.New(counters, cache.StoreSource{Users: st, Posts: st}, cfg.Reconciler)
	rec.Start(ctx)
	logger.Info().Dur("interval", cfg.Reconciler.Interval).Int("top_n", cfg.Reconciler.TopN).Msg("reconciler started")

	// 9. Create auth middleware
	tokens, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenLifetime)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token manager")
	}
	authMiddleware := middleware.NewAuthMiddleware(tokens)

	// 10. Setup Gin router + HTTP server
	wsHub := hub.NewHub()
	wsHandler := handler.NewWSHandler(wsHub, hub.Core{
		Messages:  st,
		Feeds:     feeds,
		IDs:       ids,
		Events:    emitter,
		LogConfig: cfg.MessageLog,
		Resolver:  resolver,
		Graph:     mutator,
		Toggles:   toggles,
	}, tokens, cfg.WebSocket)
	httpHandler := handler.NewHandler(svc, authMiddleware)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	r.GET("/health", handler.Health)
	httpHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	// 11. Start hub and server
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("sync-service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 12. Wait for shutdown signal or a failed server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info().Msg("shutdown signal received")
	case <-gctx.Done():
		logger.Error().Msg("server stopped unexpectedly")
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		// 1. cancel(): stop the hub, live feeds and reconciler ticker
		cancel()

		// 2. reconciler.Stop(): stop ticker; <-reconciler.Done()
		rec.Stop()
		<-rec.Done()

		// 3. server.Shutdown(5s): drain HTTP
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server forced to shutdown")
		}
		if err := g.Wait(); err != nil {
			logger.Error().Err(err).Msg("HTTP server error")
		}

		// 4. feeds.Close() then close the producer, cache and store
		feeds.Close()
		if err := bus.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing event publisher")
		}
		if err := counters.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing counter cache")
		}
		if err := st.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("error closing store")
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("sync-service stopped")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out after 30s")
	}
}
