package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/assetmarket/internal/pipeline"
	"github.com/alanyoungcy/assetmarket/internal/server"
	"github.com/alanyoungcy/assetmarket/internal/server/handler"
	"github.com/alanyoungcy/assetmarket/internal/server/middleware"
	"github.com/alanyoungcy/assetmarket/internal/server/ws"
)

// ServerMode runs the engine-bound jobs: the HTTP API and websocket hub, the
// expiry sweeper and the settlement executor. The in-memory book lives in this
// process, so everything that mutates it runs here.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngineJobs(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// WorkerMode runs the journal-side jobs only: replaying the sales stream into
// PostgreSQL and the scheduled cold archive.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startPipeline(ctx, g, deps, true); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs everything in one process. The relay journals sales directly
// here, so the stream tailer is not started.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngineJobs(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if err := a.startPipeline(ctx, g, deps, false); err != nil {
		return err
	}
	return g.Wait()
}

func (a *App) startEngineJobs(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Executor != nil {
		g.Go(func() error {
			return ignoreCanceled(ctx, deps.Executor.Run(ctx))
		})
	}

	if a.cfg.Sweeper.Enabled {
		interval := a.cfg.Sweeper.Interval.Duration
		g.Go(func() error {
			return ignoreCanceled(ctx, deps.Market.Sweeper().Run(ctx, interval))
		})
	} else {
		a.logger.WarnContext(ctx, "expiry sweeper disabled; auctions settle only on manual sweep")
	}
}

func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, tail bool) error {
	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}

	var tailer *pipeline.SaleTailer
	if tail {
		if deps.SaleJournal == nil {
			return errors.New("app: worker mode requires the postgres journal")
		}
		tailer = pipeline.NewSaleTailer(deps.SignalBus, deps.SaleJournal, a.cfg.Archive.TailInterval.Duration, a.logger)
	}

	if archiver == nil && tailer == nil {
		a.logger.InfoContext(ctx, "no pipeline jobs configured")
		return nil
	}

	orch := pipeline.NewOrchestrator(archiver, tailer, a.cfg.Archive.Cron, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	return nil
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Stats:          deps.Market.Stats,
	})
	g.Go(func() error {
		return ignoreCanceled(ctx, hub.Run(ctx))
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Pingers, a.cfg.Mode, a.logger),
		Listings: handler.NewListingHandler(deps.Market, a.logger),
		Offers:   handler.NewOfferHandler(deps.Market, a.logger),
		Sales:    handler.NewSaleHandler(deps.Market, a.logger),
		Feed:     handler.NewFeedHandler(deps.Market, a.logger),
		Admin:    handler.NewAdminHandler(deps.Market, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: slices.Clone(a.cfg.Server.CORSOrigins),
		Auth: middleware.AuthConfig{
			APIKey:      a.cfg.Server.APIKey,
			JWTSecret:   a.cfg.Server.JWTSecret,
			PublicReads: a.cfg.Server.PublicReads,
		},
		RateLimit:  a.cfg.Server.RateLimit,
		RateWindow: a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	if a.cfg.Server.APIKey == "" && a.cfg.Server.JWTSecret == "" {
		a.logger.WarnContext(ctx, "HTTP authentication disabled; every caller is treated as admin")
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled turns the error a job returns because ctx ended into nil so
// that errgroup only reports real failures.
func ignoreCanceled(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}
