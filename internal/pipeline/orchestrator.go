// Package pipeline runs the worker-side background jobs: replaying the sales
// stream into the journal and archiving old journal records.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the pipeline jobs that are configured. A nil job is
// skipped.
type Orchestrator struct {
	archiver    *Archiver
	tailer      *SaleTailer
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(archiver *Archiver, tailer *SaleTailer, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		archiver:    archiver,
		tailer:      tailer,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts every configured job under an errgroup. A job that stops with a
// non-context error cancels the others.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline orchestrator starting",
		slog.Bool("archiver", o.archiver != nil),
		slog.Bool("sale_tailer", o.tailer != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.tailer != nil {
		g.Go(func() error {
			err := o.tailer.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sale tailer: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
