package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// Archiver moves journal records older than the retention window to cold
// storage on a cron schedule.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// ArchiveResult counts the records moved by one run.
type ArchiveResult struct {
	Cutoff     time.Time
	Sales      int64
	Activities int64
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass over sales and activities. A failed
// sales export does not stop the activity export.
func (a *Archiver) Run(ctx context.Context) (ArchiveResult, error) {
	res := ArchiveResult{Cutoff: a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)}
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", res.Cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	var firstErr error
	n, err := a.blobArchiver.ArchiveSales(ctx, res.Cutoff)
	if err != nil {
		firstErr = fmt.Errorf("pipeline: archive sales before %s: %w", res.Cutoff.Format(time.RFC3339), err)
		a.logger.ErrorContext(ctx, "archive sales failed", slog.String("error", err.Error()))
	}
	res.Sales = n

	n, err = a.blobArchiver.ArchiveActivities(ctx, res.Cutoff)
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("pipeline: archive activities before %s: %w", res.Cutoff.Format(time.RFC3339), err)
		}
		a.logger.ErrorContext(ctx, "archive activities failed", slog.String("error", err.Error()))
	}
	res.Activities = n

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("sales_archived", res.Sales),
		slog.Int64("activities_archived", res.Activities),
	)
	return res, firstErr
}

// RunCron runs the archiver on a standard 5-field cron schedule (UTC) until
// ctx is cancelled. Overlapping runs are skipped.
func (a *Archiver) RunCron(ctx context.Context, spec string) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", spec, err)
	}

	logger := cronLogger{a.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("pipeline: schedule archive: %w", err)
	}

	c.Start()
	a.logger.InfoContext(ctx, "archiver cron started",
		slog.String("cron", spec),
		slog.Time("next_run", sched.Next(a.now().UTC())),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
