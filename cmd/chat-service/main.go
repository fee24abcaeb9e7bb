package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/site-journal/internal/attachment"
	"github.com/weiawesome/site-journal/internal/cache"
	"github.com/weiawesome/site-journal/internal/chat"
	"github.com/weiawesome/site-journal/internal/config"
	chatgrpc "github.com/weiawesome/site-journal/internal/grpc"
	"github.com/weiawesome/site-journal/internal/hub"
	"github.com/weiawesome/site-journal/internal/idgen"
	"github.com/weiawesome/site-journal/internal/metrics"
	"github.com/weiawesome/site-journal/internal/repository"
	"github.com/weiawesome/site-journal/internal/service"
	"github.com/weiawesome/site-journal/pkg/database"
	pkglog "github.com/weiawesome/site-journal/pkg/log"
	"github.com/weiawesome/site-journal/pkg/middleware"
	"github.com/weiawesome/site-journal/pkg/pubsub"
	"github.com/weiawesome/site-journal/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	cfg.Log.Pretty = cfg.Log.Pretty || cfg.Log.Level == "debug"
	pkglog.Init(cfg.Log)
	logger := pkglog.L()
	cfg.WatchLogLevel()

	seq, err := idgen.New(cfg.Chat.IDs)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create id sequencer")
	}

	repo, err := openRepository(cfg, seq)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open message store")
	}
	defer repo.Close()

	// History cache
	var historyCache cache.HistoryCache = cache.NopHistoryCache{}
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisHistoryCache(cfg.Redis, cfg.Cache.Prefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		historyCache = redisCache
		logger.Info().Str("address", cfg.Redis.Address).Msg("history cache connected")
	}
	defer historyCache.Close()

	// Chat event stream
	publisher, err := pubsub.NewPublisher(cfg.Events)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Events.Driver).Msg("failed to create event publisher")
	}
	defer publisher.Close()

	// Attachments
	blobs, err := storage.New(context.Background(), cfg.Storage.ToStorageConfig())
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to initialize attachment storage")
	}
	attachments := attachment.NewService(blobs, attachment.Config{
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		URLExpiry:      cfg.Storage.URLExpiry,
	})

	// Socket hub
	var wsHub *hub.Hub
	if cfg.WebSocket.Enabled {
		wsHub = hub.NewHub(hub.NewRooms(), cfg.WebSocket)
		go wsHub.Run()
	}

	module, err := chat.New(chat.Options{
		Repo:        repo,
		Cache:       historyCache,
		Publisher:   publisher,
		Attachments: attachments,
		Hub:         wsHub,
		WebSocket:   cfg.WebSocket,
		Service: service.Config{
			MaxBodyLength:       cfg.Chat.MaxBodyLength,
			SnapshotSize:        cfg.Chat.SnapshotSize,
			OverviewConcurrency: cfg.Chat.OverviewConcurrency,
			CacheTTL:            cfg.Cache.TTL,
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create chat module")
	}

	identity, err := middleware.NewIdentity(cfg.Auth)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create identity middleware")
	}

	// Setup Gin router
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	if cfg.Metrics.Enabled {
		r.Use(metrics.GinMiddleware())
		r.GET(cfg.Metrics.Path, metrics.Handler())
	}
	if cfg.Storage.Driver != "s3" {
		r.Static(cfg.Storage.Local.URLPrefix, cfg.Storage.Local.BasePath)
	}

	module.RegisterRoutes(r, identity.Handler())

	// gRPC health
	var grpcServer *chatgrpc.Server
	if cfg.GRPC.Enabled {
		grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		grpcServer, err = chatgrpc.StartGRPCServer(grpcAddr, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start grpc server")
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().
			Str("addr", addr).
			Str("store", cfg.Store.Driver).
			Bool("websocket", wsHub != nil).
			Msg("chat-service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down chat-service")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown()
	}
	if err := module.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("hub shutdown incomplete")
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("chat-service stopped")
}

func openRepository(cfg *config.Config, seq idgen.Sequencer) (repository.ChatRepository, error) {
	switch cfg.Store.Driver {
	case "memory":
		return repository.NewMemoryChatRepository(seq), nil

	case "cassandra":
		return repository.NewCassandraChatRepository(cfg.Cassandra, seq)

	default:
		db, err := database.New(cfg.Database.ToDatabaseConfig())
		if err != nil {
			return nil, err
		}
		repo := repository.NewGormChatRepository(db, seq)
		if err := repo.Migrate(); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	}
}
