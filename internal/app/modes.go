package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftpayments/internal/bus"
	"github.com/alanyoungcy/nftpayments/internal/chain"
	"github.com/alanyoungcy/nftpayments/internal/domain"
	"github.com/alanyoungcy/nftpayments/internal/server"
	"github.com/alanyoungcy/nftpayments/internal/server/handler"
	"github.com/alanyoungcy/nftpayments/internal/server/ws"
	"github.com/alanyoungcy/nftpayments/internal/service"
)

// soldBuffer is the capacity of the channel between the Sold watcher and the
// reconciler.
const soldBuffer = 64

// FullMode serves listing commands on the bus and over HTTP, sweeps expired
// listings, reconciles Sold events and exports the sale ledger.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	listings, settlement := a.buildListingServices(deps)
	a.startCommandServer(ctx, g, deps, listings, settlement)
	a.startSweeper(ctx, g, deps)
	a.startReconciler(ctx, g, deps)
	a.startExporter(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, listings, settlement)
	}

	return g.Wait()
}

// APIMode serves listing commands only. Sold events are left to a separate
// reconcile-mode process.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)

	listings, settlement := a.buildListingServices(deps)
	a.startCommandServer(ctx, g, deps, listings, settlement)
	a.startSweeper(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, listings, settlement)
	}

	return g.Wait()
}

// ReconcileMode runs the Sold reconciler and the ledger export without
// serving any commands. It needs no signing key.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startReconciler(ctx, g, deps)
	a.startExporter(ctx, g, deps)

	return g.Wait()
}

// buildListingServices constructs the listing lifecycle and settlement
// services shared by the bus and HTTP surfaces.
func (a *App) buildListingServices(deps *Dependencies) (*service.ListingService, *service.SettlementService) {
	listings := service.NewListingService(
		deps.Listings,
		deps.Owners,
		service.NewApprovalGate(deps.Asset),
		deps.Asset,
		deps.Settlement.Address(),
		deps.Audit,
		a.logger,
	).
		WithMaxExpiry(a.cfg.Listing.MaxExpiry.Duration).
		WithMetrics(deps.Metrics)
	if a.cfg.Listing.LockAssets {
		listings.WithAssetLocks(deps.LockManager, a.cfg.Listing.LockTTL.Duration)
	}

	settlement := service.NewSettlementService(
		deps.Listings,
		deps.Signer,
		deps.Settlement,
		a.cfg.Listing.VoucherTTL.Duration,
		a.logger,
	).WithMetrics(deps.Metrics)

	return listings, settlement
}

// startCommandServer serves create-listing and fill-listing on the command
// queue.
func (a *App) startCommandServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	listings *service.ListingService,
	settlement *service.SettlementService,
) {
	srv := bus.NewServer(deps.Redis.Underlying(), a.cfg.Bus.CommandQueue, domain.ErrorKind, a.logger)
	registerCommands(srv, listings, settlement)

	g.Go(func() error {
		return srv.Serve(ctx)
	})
}

// startSweeper periodically deletes expired listings.
func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sweeper := service.NewListingSweeper(deps.Listings, a.cfg.Listing.SweepInterval.Duration, deps.Metrics, a.logger)
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
}

// startReconciler feeds Sold events from the subscription endpoint into the
// reconciler. It is a no-op when the reconciler is disabled.
func (a *App) startReconciler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Reconciler.Enabled || deps.Events == nil {
		a.logger.InfoContext(ctx, "reconciler disabled")
		return
	}

	rc := a.cfg.Reconciler
	watcher := chain.NewSoldWatcher(deps.Events, deps.Settlement, rc.ResubscribeDelay.Duration, a.logger).
		WithAlerter(deps.Notifier)

	retry := service.RetryPolicy{
		Attempts: rc.RetryAttempts,
		Initial:  rc.RetryInitial.Duration,
		Max:      rc.RetryMax.Duration,
	}
	reconciler := service.NewReconciler(deps.Sales, deps.Listings, deps.Owners, deps.Audit, retry, a.logger).
		WithSignalBus(deps.SignalBus).
		WithAlerter(deps.Notifier).
		WithMetrics(deps.Metrics)
	if deps.Publisher != nil {
		reconciler.WithPublisher(deps.Publisher)
	}

	events := make(chan domain.SoldEvent, soldBuffer)
	g.Go(func() error {
		defer close(events)
		return watcher.Watch(ctx, events)
	})
	g.Go(func() error {
		return reconciler.Run(ctx, events)
	})
}

// startExporter periodically uploads the sale ledger to object storage. It is
// a no-op unless export is enabled.
func (a *App) startExporter(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.BlobWriter == nil {
		return
	}

	ec := a.cfg.Export
	exporter := service.NewSaleExporter(
		deps.Sales,
		deps.Cursors,
		deps.BlobWriter,
		deps.BlobReader,
		ec.Prefix,
		ec.BatchSize,
		ec.Interval.Duration,
		a.logger,
	).
		WithAlerter(deps.Notifier).
		WithSettleLag(ec.SettleLag.Duration).
		WithMetrics(deps.Metrics)

	g.Go(func() error {
		return exporter.Run(ctx)
	})
}

// startHTTPServer registers the HTTP routes and the WebSocket hub and
// launches the server inside the errgroup. It shuts the server down
// gracefully when ctx is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	listings *service.ListingService,
	settlement *service.SettlementService,
) {
	checks := map[string]handler.Check{
		"postgres": deps.Postgres.Ping,
		"redis":    deps.Redis.Ping,
		"chain": func(ctx context.Context) error {
			_, err := deps.RPC.ChainID(ctx)
			return err
		},
	}
	if deps.Blob != nil {
		checks["s3"] = deps.Blob.Ping
	}
	health := handler.NewHealthHandler(checks, a.logger)

	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:   health,
			Listings: handler.NewListingHandler(listings, settlement, a.logger),
			Sales:    handler.NewSaleHandler(deps.Sales, deps.SignalBus, a.logger),
		},
		server.Options{
			Hub:      hub,
			Limiter:  deps.RateLimiter,
			Gatherer: deps.MetricsRegistry,
		},
		a.logger,
	)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})
}
