// Command server runs the inbound HTTP endpoint: it receives gateway
// events, routes them through the conversational event service, and
// persists scheduled messages. The delivery worker runs as a separate
// process (cmd/worker).
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/auth"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/clock"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/config"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/events"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/flow"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/gateway"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/handlers"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/inboundlog"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/repository"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/runtimeconfig"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/scheduling"
)

const flowTTL = 30 * time.Minute

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := sql.Open("postgres", dsn(cfg.Database))
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	repo, err := repository.NewRepository(db, repository.Config{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("failed to build repository", zap.Error(err))
	}

	runtime := runtimeconfig.NewRuntimeConfig(cfg.Gateway.CommonConfigPath, cfg.Gateway.TimedMessagesPath, logger)
	sysClock := clock.System{}

	var flowStore flow.Store
	var pendingStore auth.PendingStore
	if cfg.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr(cfg.Redis),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		flowStore = flow.NewRedisStore(rdb, flowTTL)
		pendingStore = auth.NewRedisPendingStore(rdb, flowTTL)
	} else {
		flowStore = flow.NewInMemoryStore(flowTTL, sysClock)
		pendingStore = auth.NewInMemoryPendingStore(flowTTL, sysClock)
	}

	transport := gateway.New(cfg.Gateway.URL)

	notifier := func(ctx context.Context, adminChatID, message string) error {
		_, err := transport.Send(ctx, adminChatID, message, "", "")
		return err
	}
	authService := auth.NewService(runtime, pendingStore, nil, notifier)

	schedulingService := scheduling.NewService(repo, sysClock, logger, scheduling.Options{
		AssistantMode:      cfg.Gateway.AssistantMode,
		MaxAssistantWindow: time.Duration(cfg.Gateway.MaxScheduleHours) * time.Hour,
		LeaseTimeout:       cfg.Worker.LeaseTimeout,
	})

	eventsService := events.NewService(
		schedulingService, transport, flowStore, authService, runtime,
		sysClock, cfg.Gateway.AssistantMode, cfg.Gateway.DefaultTimezone, logger,
	)

	inLog := inboundlog.NewPostgresLog(db)
	webhookHandler := handlers.NewWebhookHandler(eventsService, inLog, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/events", webhookHandler.HandleInbound)
	router.GET("/healthz", webhookHandler.HandleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + portString(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}

func dsn(cfg config.DatabaseConfig) string {
	return "host=" + cfg.Host +
		" port=" + portString(cfg.Port) +
		" dbname=" + cfg.Name +
		" user=" + cfg.User +
		" password=" + cfg.Password +
		" sslmode=" + cfg.SSLMode
}

func redisAddr(cfg config.RedisConfig) string {
	return cfg.Host + ":" + portString(cfg.Port)
}

func portString(port int) string {
	return strconv.Itoa(port)
}
