package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// ErrSweepRunning is returned when a sweep is requested while another one is
// still in progress.
var ErrSweepRunning = errors.New("market: sweep already running")

// SweepLockKey is the distributed lock held for the duration of a sweep when
// a LockManager is configured.
const SweepLockKey = "sweep"

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Scanned  int           `json:"scanned"`
	Settled  int           `json:"settled"`
	Expired  int           `json:"expired"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Sales    []domain.Sale `json:"sales,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExpirySweeper closes listings whose ends_at has passed: auctions with a
// qualifying bid are settled to the highest bidder, everything else expires.
type ExpirySweeper struct {
	store   *Store
	locks   domain.LockManager
	lockTTL time.Duration
	logger  *slog.Logger
	running atomic.Bool
	observe SweepObserver
}

// SweepObserver is told about every finished pass, including passes that
// returned an error. It is not called when a pass was refused because another
// one was running.
type SweepObserver func(ctx context.Context, report SweepReport, err error)

// NewExpirySweeper creates a sweeper over the shared store.
func NewExpirySweeper(store *Store, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{store: store, logger: logger, lockTTL: time.Minute}
}

// WithLockManager makes every sweep hold SweepLockKey so that only one
// process sweeps at a time.
func (s *ExpirySweeper) WithLockManager(lm domain.LockManager, ttl time.Duration) *ExpirySweeper {
	s.locks = lm
	if ttl > 0 {
		s.lockTTL = ttl
	}
	return s
}

// WithObserver registers fn to receive sweep reports.
func (s *ExpirySweeper) WithObserver(fn SweepObserver) *ExpirySweeper {
	s.observe = fn
	return s
}

// Sweep runs one pass. A failure on one listing is logged and counted; it
// never stops the pass.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepReport, error) {
	report, err := s.sweep(ctx)
	if s.observe != nil && !errors.Is(err, ErrSweepRunning) {
		s.observe(ctx, report, err)
	}
	return report, err
}

func (s *ExpirySweeper) sweep(ctx context.Context) (SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return SweepReport{}, ErrSweepRunning
	}
	defer s.running.Store(false)

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, SweepLockKey, s.lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return SweepReport{}, ErrSweepRunning
			}
			return SweepReport{}, fmt.Errorf("market: acquire sweep lock: %w", err)
		}
		defer unlock()
	}

	start := time.Now()
	var due []string
	s.store.read(func(t *tx) {
		for id, l := range t.s.listings {
			if l.Status == domain.ListingStatusActive && !t.now.Before(l.EndsAt) {
				due = append(due, id)
			}
		}
	})

	report := SweepReport{Scanned: len(due)}
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, sale, err := s.closeOne(ctx, id)
		switch {
		case err != nil:
			report.Failed++
			s.logger.ErrorContext(ctx, "sweep: close listing failed",
				slog.String("listing_id", id),
				slog.String("error", err.Error()),
			)
		case outcome == sweepSettled:
			report.Settled++
			report.Sales = append(report.Sales, sale)
		case outcome == sweepExpired:
			report.Expired++
		default:
			report.Skipped++
		}
	}
	report.Duration = time.Since(start)

	if report.Scanned > 0 {
		s.logger.InfoContext(ctx, "sweep complete",
			slog.Int("scanned", report.Scanned),
			slog.Int("settled", report.Settled),
			slog.Int("expired", report.Expired),
			slog.Int("failed", report.Failed),
			slog.Int("skipped", report.Skipped),
		)
	}
	return report, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.InfoContext(ctx, "expiry sweeper started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepRunning) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

type sweepOutcome int

const (
	sweepSkipped sweepOutcome = iota
	sweepExpired
	sweepSettled
)

// closeOne settles or expires a single listing in its own critical section.
// A listing that is no longer active or no longer due is skipped, which is
// what makes repeated sweeps idempotent.
func (s *ExpirySweeper) closeOne(ctx context.Context, id string) (sweepOutcome, domain.Sale, error) {
	const op = "sweep"
	outcome := sweepSkipped
	var sale domain.Sale
	err := s.store.commit(ctx, func(t *tx) error {
		l, err := t.listing(op, id)
		if err != nil {
			return err
		}
		if l.Status != domain.ListingStatusActive || t.now.Before(l.EndsAt) {
			return nil
		}

		if l.Type.AcceptsBids() {
			if b := t.activeBid(l.ID); b != nil && meetsReserve(*l, b.Amount) {
				sale, err = t.settleListing(op, l, b.Bidder, b.Amount, domain.SaleSourceAuction, b)
				if err != nil {
					return err
				}
				outcome = sweepSettled
				return nil
			}
		}

		if err := t.closeListing(op, l, domain.ListingStatusExpired); err != nil {
			return err
		}
		t.releaseBids(l.ID, domain.BidStatusRefunded)
		t.emitActivity(domain.Activity{
			ID:         uuid.NewString(),
			Type:       domain.ActivityExpire,
			AssetKey:   l.Asset.Key(),
			Collection: l.Asset.Collection,
			Actor:      l.Seller,
			ListingID:  l.ID,
			Amount:     l.CurrentBid,
			Currency:   l.Currency,
		})
		outcome = sweepExpired
		return nil
	})
	return outcome, sale, err
}

// meetsReserve reports whether a winning bid satisfies the listing's reserve.
// Only reserve auctions carry one.
func meetsReserve(l domain.Listing, amount domain.Amount) bool {
	if l.Type != domain.ListingTypeReserveAuction {
		return true
	}
	return amount >= l.ReservePrice
}
