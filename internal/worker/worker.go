// Package worker polls for due scheduled messages and drives them to
// completion.
package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/gateway"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/scheduling"
)

var (
	batchSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timed_message_worker_batch_size",
		Help: "Number of due messages found in the most recent poll",
	})
	dispatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timed_message_worker_dispatch_errors_total",
		Help: "Total number of dispatch errors observed by the worker loop",
	})
)

// Options configures the worker's polling cadence and outbound rate
// limit. The defaults size the worker for tens of messages per second,
// not thousands.
type Options struct {
	PollInterval time.Duration
	BatchSize    int
	RateLimit    rate.Limit
	RateBurst    int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 20
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 5
	}
	return o
}

// Worker is a single polling loop. Several may run concurrently, in one
// process or many: the repository's LockForSending is the sole
// synchronization point between them.
type Worker struct {
	service   *scheduling.Service
	transport gateway.Sender
	limiter   *rate.Limiter
	logger    *zap.Logger
	opts      Options
}

// New builds a Worker dispatching due records from service through
// transport.
func New(service *scheduling.Service, transport gateway.Sender, logger *zap.Logger, opts Options) *Worker {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		service:   service,
		transport: transport,
		limiter:   rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		logger:    logger,
		opts:      opts,
	}
}

// Run polls until ctx is cancelled. A panic in one iteration is recovered
// and logged; the loop sleeps one poll interval and resumes.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("timed message worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("timed message worker stopping")
			return
		default:
		}
		w.runOnceSafely(ctx)
	}
}

func (w *Worker) runOnceSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker loop panic", zap.Any("panic", r))
			sleep(ctx, w.opts.PollInterval)
		}
	}()
	w.runOnce(ctx)
}

func (w *Worker) runOnce(ctx context.Context) {
	due, err := w.service.ListDue(ctx, w.opts.BatchSize)
	if err != nil {
		w.logger.Error("failed to list due messages", zap.Error(err))
		sleep(ctx, w.opts.PollInterval)
		return
	}

	batchSizeGauge.Set(float64(len(due)))
	if len(due) == 0 {
		sleep(ctx, w.opts.PollInterval)
		return
	}

	w.logger.Info("found due messages", zap.Int("count", len(due)))
	for _, msg := range due {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		if err := w.service.Dispatch(ctx, msg.ID, w.transport, ""); err != nil {
			dispatchErrors.Inc()
			w.logger.Warn("failed to dispatch scheduled message", zap.String("id", msg.ID.String()), zap.Error(err))
			continue
		}
		w.logger.Info("dispatched scheduled message", zap.String("id", msg.ID.String()))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
