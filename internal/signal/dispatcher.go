package signal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"hodler/internal/oracle"
)

var (
	ErrQueueFull   = errors.New("signal queue full")
	ErrRateLimited = errors.New("signal rate limited")
)

// Sink is a downstream consumer of signals. Publish must honour ctx.
type Sink interface {
	Name() string
	Publish(ctx context.Context, sig oracle.Signal) error
}

type Options struct {
	QueueSize    int
	Timeout      time.Duration // per publish
	MaxPerSecond float64       // 0 means unlimited
}

// Dispatcher decouples signal producers from sinks with a bounded queue.
// Delivery is at most once: full queues, rate limits, timeouts and sink
// errors all drop the signal.
type Dispatcher struct {
	sink    Sink
	queue   chan oracle.Signal
	timeout time.Duration
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewDispatcher(sink Sink, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Millisecond
	}
	limit := rate.Inf
	burst := 0
	if opts.MaxPerSecond > 0 {
		limit = rate.Limit(opts.MaxPerSecond)
		burst = max(1, int(opts.MaxPerSecond))
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan oracle.Signal, opts.QueueSize),
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(limit, burst),
		log:     logger,
	}
}

// Submit enqueues sig without blocking.
func (d *Dispatcher) Submit(sig oracle.Signal) error {
	if !d.limiter.Allow() {
		return ErrRateLimited
	}
	select {
	case d.queue <- sig:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports how many signals are waiting for the worker.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run publishes queued signals until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("signal dispatcher started",
		slog.String("sink", d.sink.Name()),
		slog.Int("queue_size", cap(d.queue)),
		slog.Duration("timeout", d.timeout),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-d.queue:
			d.publish(ctx, sig)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, sig oracle.Signal) {
	pctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	if err := d.sink.Publish(pctx, sig); err != nil {
		d.log.Warn("signal publish failed",
			slog.String("sink", d.sink.Name()),
			slog.String("key", sig.Key()),
			slog.String("err", err.Error()),
		)
		return
	}
	if took := time.Since(start); took > d.timeout {
		d.log.Warn("signal published late",
			slog.String("sink", d.sink.Name()),
			slog.String("key", sig.Key()),
			slog.Duration("took", took),
		)
	}
}
