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
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weiawesome/wes-social-realtime/internal/backplane"
	"github.com/weiawesome/wes-social-realtime/internal/config"
	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/handler"
	"github.com/weiawesome/wes-social-realtime/internal/hub"
	"github.com/weiawesome/wes-social-realtime/internal/kafka"
	"github.com/weiawesome/wes-social-realtime/internal/presence"
	"github.com/weiawesome/wes-social-realtime/internal/repository"
	"github.com/weiawesome/wes-social-realtime/internal/service"
	"github.com/weiawesome/wes-social-realtime/internal/store"
	"github.com/weiawesome/wes-social-realtime/pkg/database"
	pkgjwt "github.com/weiawesome/wes-social-realtime/pkg/jwt"
	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
	"github.com/weiawesome/wes-social-realtime/pkg/middleware"
	"github.com/weiawesome/wes-social-realtime/pkg/pubsub"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.New().String()
	}

	// 2. Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "realtime-gateway",
		InstanceID:  cfg.Server.InstanceID,
	})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting realtime-gateway")

	// 3. Shared status cache (optional: a single instance works without it)
	var statusStore store.StatusStore
	if rs, err := store.NewRedisStatusStore(store.RedisConfig{
		Address:    cfg.Redis.Address,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		InstanceID: cfg.Server.InstanceID,
	}); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, status cache disabled")
	} else {
		statusStore = rs
		defer rs.Close()
	}

	// 4. Last-seen persistence (optional)
	var lastSeenRepo repository.LastSeenRepository
	if cfg.Database.Enabled {
		db, err := database.New(cfg.Database.ToDatabase())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		sqlDB, err := db.DB()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to get underlying sql.DB")
		}
		defer sqlDB.Close()

		if err := database.AutoMigrate(db, &domain.LastSeenModel{}); err != nil {
			logger.Fatal().Err(err).Msg("failed to auto-migrate")
		}
		lastSeenRepo = repository.NewGormLastSeenRepository(db)
		logger.Info().Str("driver", cfg.Database.Driver).Msg("last-seen persistence enabled")
	}

	// 5. Presence core
	recorder := service.NewStatusRecorder(statusStore, lastSeenRepo, cfg.Presence.StatusTTL, cfg.Presence.StatusQueueSize)

	h := hub.NewHub()

	// 6. Backplane for multi-instance fan-out
	var (
		bus         pubsub.PubSub
		broadcaster service.Broadcaster
		subscriber  *backplane.Subscriber
		forwarder   *backplane.Notifier
		notifier    presence.Notifier = h
	)
	if psCfg, ok := cfg.PubSub(); ok {
		bus, err = pubsub.NewPubSub(psCfg)
		if err != nil {
			logger.Warn().Err(err).Str("driver", psCfg.Driver).Msg("backplane unavailable, running single-instance")
		} else {
			publisher := backplane.NewPublisher(bus, cfg.Server.InstanceID)
			broadcaster = publisher
			subscriber = backplane.NewSubscriber(bus, h, cfg.Server.InstanceID)
			forwarder = backplane.NewNotifier(h, publisher, 0)
			notifier = forwarder
		}
	}

	registry := presence.NewRegistry(notifier, presence.Config{
		IdleThreshold:       cfg.Presence.IdleThreshold,
		DisconnectThreshold: cfg.Presence.DisconnectThreshold,
		SweepInterval:       cfg.Presence.SweepInterval,
		GracePeriod:         cfg.Presence.GracePeriod,
	}, presence.WithStatusListener(recorder.Enqueue))

	jwtManager, err := pkgjwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create jwt manager")
	}

	svc := service.NewPresenceService(registry, h, jwtManager, statusStore, lastSeenRepo, broadcaster)

	// 7. Background loops
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder.Start(context.Background())
	if forwarder != nil {
		forwarder.Start(context.Background())
	}
	registry.Start(ctx)
	if subscriber != nil {
		go subscriber.Run(ctx)
		logger.Info().Msg("backplane subscriber started")
	}

	var kafkaConsumer kafka.SocialEventConsumer
	if cfg.Kafka.Brokers != "" && cfg.Kafka.Topic != "" {
		if kc, err := kafka.NewConfluentConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.Topic,
			cfg.Kafka.GroupID,
			svc, // service implements NotifyHandler
		); err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka consumer, social event intake disabled")
		} else if err := kc.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to start kafka consumer")
		} else {
			kafkaConsumer = kc
			logger.Info().Str("topic", cfg.Kafka.Topic).Msg("kafka consumer started")
		}
	}

	// 8. Public server: WebSocket, status API, health, metrics
	wsHandler := handler.NewWSHandler(svc, hub.ClientConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.PongWait,
		WriteWait:      cfg.WebSocket.WriteWait,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
	})
	httpHandler := handler.NewHTTPHandler(svc)

	router := mux.NewRouter()
	router.HandleFunc("/ws", wsHandler.HandleWebSocket)
	router.HandleFunc("/api/v1/users/status", httpHandler.GetStatuses).Methods("GET")
	router.HandleFunc("/api/v1/users/{user_id}/status", httpHandler.GetStatus).Methods("GET")
	router.HandleFunc("/health", httpHandler.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      pkglog.HTTPMiddleware(logger)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 9. Internal server: notify API for the web application
	gin.SetMode(gin.ReleaseMode)
	internalRouter := gin.New()
	internalRouter.Use(gin.Recovery())
	internalRouter.Use(pkglog.GinMiddleware(logger))
	handler.NewNotifyHandler(svc, middleware.NewAuthMiddleware(jwtManager)).RegisterRoutes(internalRouter)

	internalAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Internal.Port)
	internalServer := &http.Server{Addr: internalAddr, Handler: internalRouter}

	go func() {
		logger.Info().Str("addr", addr).Msg("realtime-gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()
	go func() {
		logger.Info().Str("addr", internalAddr).Msg("internal API listening")
		if err := internalServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("internal server error")
		}
	}()

	// 10. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down realtime-gateway")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		// 1. stop accepting pushes and new connections
		if err := internalServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("internal server shutdown error")
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("server shutdown error")
		}

		cancel() // 2. stop Kafka consumer, backplane subscriber, sweep loop

		if kafkaConsumer != nil {
			if err := kafkaConsumer.Close(); err != nil { // 3. wait for in-flight social event
				logger.Warn().Err(err).Msg("error closing kafka consumer")
			}
		}
		if subscriber != nil {
			<-subscriber.Done()
		}
		<-registry.Done()

		registry.Stop() // 4. drop all sessions, flush offline transitions
		h.Stop()

		recorder.Stop() // 5. write queued status changes, forward queued emits
		<-recorder.Done()
		if forwarder != nil {
			forwarder.Stop()
			<-forwarder.Done()
		}

		if bus != nil {
			if err := bus.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing backplane")
			}
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("realtime-gateway stopped")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out after 30s")
	}
}
