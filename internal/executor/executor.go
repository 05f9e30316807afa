// Package executor settles committed sales off the request path: it hands
// each sale to a Transferer, retries with exponential backoff, and attaches
// the resulting transfer reference back to the sale.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc/pool"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// Transferer moves the asset and funds for a sale and returns a transfer
// reference (a transaction hash for on-chain settlement).
type Transferer interface {
	Transfer(ctx context.Context, sale domain.Sale) (string, error)
}

// Settler records a transfer reference against a sale.
type Settler interface {
	AttachSettlement(ctx context.Context, saleID, txRef string) (domain.Settlement, error)
}

// Observer receives settlement outcomes ("settled", "failed", "duplicate",
// "dropped") for metrics.
type Observer interface {
	SettlementOutcome(outcome string, elapsed time.Duration)
}

// FailureHandler is told about a sale that could not be settled after all
// retries.
type FailureHandler func(ctx context.Context, sale domain.Sale, err error)

// Config tunes the executor.
type Config struct {
	Workers        int
	QueueSize      int
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DedupTTL       time.Duration
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      1024,
		MaxAttempts:    5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		DedupTTL:       10 * time.Minute,
	}
}

// Executor reads sales from a bounded queue and settles them on a bounded
// worker pool.
type Executor struct {
	cfg        Config
	queue      chan domain.Sale
	transferer Transferer
	settler    Settler
	dedup      *Dedup
	observer   Observer
	onFailure  FailureHandler
	logger     *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config, transferer Transferer, settler Settler, logger *slog.Logger) *Executor {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = def.DedupTTL
	}
	return &Executor{
		cfg:             cfg,
		queue:           make(chan domain.Sale, cfg.QueueSize),
		transferer:      transferer,
		settler:         settler,
		dedup:           NewDedup(cfg.DedupTTL),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: time.Minute,
	}
}

// WithObserver sets the metrics observer.
func (e *Executor) WithObserver(o Observer) *Executor {
	e.observer = o
	return e
}

// WithFailureHandler sets the callback for sales that exhaust their retries.
func (e *Executor) WithFailureHandler(fn FailureHandler) *Executor {
	e.onFailure = fn
	return e
}

// Enqueue schedules a sale for settlement without blocking. It returns false
// when the sale is a recent duplicate or the queue is full.
func (e *Executor) Enqueue(sale domain.Sale) bool {
	if e.dedup.IsDuplicate(sale.ID) {
		e.observe("duplicate", 0)
		return false
	}
	select {
	case e.queue <- sale:
		return true
	default:
		e.dedup.Forget(sale.ID)
		e.observe("dropped", 0)
		e.logger.Error("settlement queue full, sale not scheduled",
			slog.String("sale_id", sale.ID),
			slog.Int("queue_size", e.cfg.QueueSize),
		)
		return false
	}
}

// Pending returns the number of queued sales.
func (e *Executor) Pending() int {
	return len(e.queue)
}

// Run settles queued sales until ctx is cancelled, then drains what is left
// with a short deadline.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "executor started", slog.Int("workers", e.cfg.Workers))
	defer e.logger.Info("executor stopped")

	p := pool.New().WithMaxGoroutines(e.cfg.Workers)
	cleanup := time.NewTicker(e.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Wait()
			e.drain()
			return ctx.Err()
		case sale := <-e.queue:
			p.Go(func() { e.settle(ctx, sale) })
		case <-cleanup.C:
			e.dedup.Cleanup()
		}
	}
}

func (e *Executor) drain() {
	for {
		select {
		case sale := <-e.queue:
			e.logger.Warn("settling sale during shutdown", slog.String("sale_id", sale.ID))
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.settle(drainCtx, sale)
			cancel()
		default:
			return
		}
	}
}

func (e *Executor) settle(ctx context.Context, sale domain.Sale) {
	start := time.Now()
	log := e.logger.With(slog.String("sale_id", sale.ID))

	txRef, err := e.transferWithRetry(ctx, sale)
	if err == nil {
		_, err = e.settler.AttachSettlement(ctx, sale.ID, txRef)
		if errors.Is(err, domain.ErrState) {
			log.InfoContext(ctx, "sale already settled")
			e.observe("duplicate", time.Since(start))
			return
		}
	}
	if err != nil {
		e.observe("failed", time.Since(start))
		log.ErrorContext(ctx, "settlement failed", slog.String("error", err.Error()))
		if e.onFailure != nil {
			e.onFailure(ctx, sale, err)
		}
		return
	}

	e.observe("settled", time.Since(start))
	log.InfoContext(ctx, "sale settled", slog.String("tx_ref", txRef))
}

func (e *Executor) transferWithRetry(ctx context.Context, sale domain.Sale) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff

	attempt := 0
	txRef, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		ref, err := e.transferer.Transfer(ctx, sale)
		if err != nil {
			var perm *PermanentError
			if errors.As(err, &perm) {
				return "", backoff.Permanent(err)
			}
			e.logger.WarnContext(ctx, "transfer attempt failed",
				slog.String("sale_id", sale.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return "", err
		}
		return ref, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(e.cfg.MaxAttempts))
	if err != nil {
		return "", fmt.Errorf("executor: transfer sale %s after %d attempts: %w", sale.ID, attempt, err)
	}
	return txRef, nil
}

func (e *Executor) observe(outcome string, elapsed time.Duration) {
	if e.observer != nil {
		e.observer.SettlementOutcome(outcome, elapsed)
	}
}

// PermanentError marks a transfer failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }
