package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/assetmarket/internal/domain"
	"github.com/alanyoungcy/assetmarket/internal/market"
	"github.com/alanyoungcy/assetmarket/internal/metrics"
	"github.com/alanyoungcy/assetmarket/internal/notify"
)

// Monitor records background job outcomes (sweep passes, failed
// settlements) in metrics and the audit log and raises alerts for failures.
type Monitor struct {
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewMonitor creates a Monitor. audit and notifier may be nil.
func NewMonitor(audit domain.AuditStore, notifier *notify.Notifier, logger *slog.Logger) *Monitor {
	return &Monitor{audit: audit, notifier: notifier, logger: logger.With(slog.String("component", "monitor"))}
}

// Observe implements market.SweepObserver.
func (m *Monitor) Observe(ctx context.Context, report market.SweepReport, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case report.Failed > 0:
		result = "partial"
	}
	metrics.RecordSweep(result, report.Settled, report.Expired, report.Failed, report.Skipped, report.Duration)

	if report.Scanned > 0 && m.audit != nil {
		detail := map[string]any{
			"scanned": report.Scanned,
			"settled": report.Settled,
			"expired": report.Expired,
			"failed":  report.Failed,
			"skipped": report.Skipped,
		}
		if aerr := m.audit.Log(context.WithoutCancel(ctx), "sweep.completed", detail); aerr != nil {
			metrics.RecordRelayFailure("audit")
			m.logger.WarnContext(ctx, "sweep audit failed", slog.String("error", aerr.Error()))
		}
	}

	if (err != nil || report.Failed > 0) && m.notifier.Enabled(notify.EventSweepFailed) {
		msg := notify.SweepFailedMessage(report.Failed, err)
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = m.notifier.Notify(nctx, msg)
		}()
	}
}

// SettlementFailed alerts about a sale the executor gave up on.
func (m *Monitor) SettlementFailed(ctx context.Context, sale domain.Sale, err error) {
	if m.audit != nil {
		if aerr := m.audit.Log(context.WithoutCancel(ctx), "sale.settlement_failed", map[string]any{
			"sale_id": sale.ID,
			"error":   err.Error(),
		}); aerr != nil {
			m.logger.WarnContext(ctx, "settlement audit failed", slog.String("error", aerr.Error()))
		}
	}
	if m.notifier.Enabled(notify.EventSettlementFailed) {
		_ = m.notifier.Notify(context.WithoutCancel(ctx), notify.SettlementFailedMessage(sale, err))
	}
}
