// Command worker runs the delivery polling loop: it claims due
// scheduled messages and drives them to the WhatsApp gateway.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/clock"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/config"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/gateway"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/repository"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/scheduling"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/worker"
)

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

	transport := gateway.New(cfg.Gateway.URL)
	sysClock := clock.System{}
	schedulingService := scheduling.NewService(repo, sysClock, logger, scheduling.Options{
		AssistantMode:      cfg.Gateway.AssistantMode,
		MaxAssistantWindow: time.Duration(cfg.Gateway.MaxScheduleHours) * time.Hour,
		LeaseTimeout:       cfg.Worker.LeaseTimeout,
	})

	w := worker.New(schedulingService, transport, logger, worker.Options{
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		RateLimit:    rate.Limit(cfg.Worker.RateLimit),
		RateBurst:    cfg.Worker.RateBurst,
	})

	ctx, cancel := context.WithCancel(context.Background())

	metricsSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Server.Port), Handler: promhttp.Handler()}
	go func() {
		logger.Info("worker metrics listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go w.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func dsn(cfg config.DatabaseConfig) string {
	return "host=" + cfg.Host +
		" port=" + strconv.Itoa(cfg.Port) +
		" dbname=" + cfg.Name +
		" user=" + cfg.User +
		" password=" + cfg.Password +
		" sslmode=" + cfg.SSLMode
}
