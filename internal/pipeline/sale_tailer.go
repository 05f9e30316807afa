package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// saleEnvelope mirrors the relay's bus frame.
type saleEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SaleTailer replays the durable sales stream into the sale journal. The
// journal ignores duplicate ids, so replaying from the start after a restart
// is safe.
type SaleTailer struct {
	bus      domain.SignalBus
	journal  domain.SaleJournal
	batch    int
	interval time.Duration
	lastID   string
	logger   *slog.Logger
}

// NewSaleTailer creates a SaleTailer that polls every interval.
func NewSaleTailer(bus domain.SignalBus, journal domain.SaleJournal, interval time.Duration, logger *slog.Logger) *SaleTailer {
	if interval <= 0 {
		interval = time.Second
	}
	return &SaleTailer{
		bus:      bus,
		journal:  journal,
		batch:    100,
		interval: interval,
		lastID:   "0",
		logger:   logger.With(slog.String("component", "sale_tailer")),
	}
}

// LastID returns the id of the last stream entry processed.
func (t *SaleTailer) LastID() string { return t.lastID }

// Poll reads and journals one batch. It returns the number of sales written.
// The cursor only advances past entries that were handled.
func (t *SaleTailer) Poll(ctx context.Context) (int, error) {
	msgs, err := t.bus.StreamRead(ctx, domain.StreamSales, t.lastID, t.batch)
	if err != nil {
		return 0, fmt.Errorf("pipeline: read sales stream: %w", err)
	}

	written := 0
	for _, m := range msgs {
		var env saleEnvelope
		if err := json.Unmarshal(m.Payload, &env); err != nil || env.Type != "sale" {
			t.logger.WarnContext(ctx, "skipping malformed stream entry", slog.String("id", m.ID))
			t.lastID = m.ID
			continue
		}
		var sale domain.Sale
		if err := json.Unmarshal(env.Data, &sale); err != nil {
			t.logger.WarnContext(ctx, "skipping undecodable sale", slog.String("id", m.ID), slog.String("error", err.Error()))
			t.lastID = m.ID
			continue
		}
		if err := t.journal.InsertSale(ctx, sale); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return written, fmt.Errorf("pipeline: journal sale %s: %w", sale.ID, err)
		}
		t.lastID = m.ID
		written++
	}
	return written, nil
}

// Run polls until ctx is cancelled, backing off while the journal or bus is
// failing.
func (t *SaleTailer) Run(ctx context.Context) error {
	t.logger.InfoContext(ctx, "sale tailer started", slog.Duration("interval", t.interval))
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.interval
	bo.MaxInterval = 30 * t.interval

	wait := t.interval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		n, err := t.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait = bo.NextBackOff()
			t.logger.WarnContext(ctx, "sale tailer poll failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait),
			)
			continue
		}
		bo.Reset()
		wait = t.interval
		if n == t.batch {
			wait = 0
		}
		if n > 0 {
			t.logger.DebugContext(ctx, "journaled sales from stream", slog.Int("count", n), slog.String("last_id", t.lastID))
		}
	}
}
