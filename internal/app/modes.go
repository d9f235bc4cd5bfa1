package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openlaunch/saled/internal/engine"
	"github.com/openlaunch/saled/internal/server"
	"github.com/openlaunch/saled/internal/server/handler"
	"github.com/openlaunch/saled/internal/server/ws"
	"github.com/openlaunch/saled/internal/service"
)

// priceSampleInterval is how often the price monitor reads the oracle.
const priceSampleInterval = 30 * time.Second

// shutdownTimeout bounds graceful HTTP shutdown after context cancellation.
const shutdownTimeout = 5 * time.Second

// saleCore bundles the engine and its application services for one mode.
type saleCore struct {
	engine *engine.Engine
	sale   *service.SaleService
	admin  *service.AdminService
}

// buildSaleCore constructs the engine, its event sink, and the sale and admin
// services. withLock selects whether the sale service competes for the leader
// lock; read-only replicas must not.
func (a *App) buildSaleCore(deps *Dependencies, withLock bool) (*saleCore, error) {
	sink := service.NewLedgerSink(
		deps.LedgerStore,
		deps.SignalBus,
		deps.Notifier,
		deps.AuditStore,
		a.logger,
	)

	eng, err := engine.New(a.cfg.DomainSale(), deps.Oracle, deps.Transfer, sink, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build sale core: %w", err)
	}

	locks := deps.LockManager
	if !withLock {
		locks = nil
	}
	sale := service.NewSaleService(
		eng,
		deps.LedgerStore,
		deps.PurchaseStore,
		deps.ClaimStore,
		deps.PriceCache,
		locks,
		a.logger,
	)
	admin := service.NewAdminService(
		eng,
		deps.LedgerStore,
		deps.Transfer,
		deps.AuditStore,
		deps.SignalBus,
		deps.Notifier,
		deps.BlobReader,
		deps.BlobDeleter,
		a.logger,
	)

	return &saleCore{engine: eng, sale: sale, admin: admin}, nil
}

// ServeMode runs the transactional API: the sale engine behind the full HTTP
// surface, holding the leader lock.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	core, err := a.buildSaleCore(deps, true)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}
	if err := core.sale.Start(ctx); err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}
	defer core.sale.Stop()

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, core, false)
	a.startExporter(ctx, g, deps)

	return g.Wait()
}

// MonitorMode runs read-only monitoring: the oracle sampler, the WebSocket
// bridge, and the read surface of the HTTP API. No leader lock is taken and
// nothing settles.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	core, err := a.buildSaleCore(deps, false)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	if err := core.sale.Start(ctx); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	monitor := service.NewPriceMonitor(
		deps.Oracle, deps.PriceCache, deps.SignalBus, priceSampleInterval, a.logger,
	)
	g.Go(func() error {
		return monitor.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, core, true)

	return g.Wait()
}

// ExportMode archives aged ledger history to object storage, once at startup
// and then on the configured interval.
func (a *App) ExportMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting export mode")

	if deps.Archiver == nil {
		return fmt.Errorf("export mode: blob storage is not configured")
	}

	exporter := service.NewExporter(
		deps.Archiver,
		a.cfg.Export.Interval.Duration,
		a.cfg.Export.RetentionDays,
		a.logger,
	)
	if err := exporter.RunOnce(ctx); err != nil {
		return fmt.Errorf("export mode: %w", err)
	}
	return exporter.Run(ctx)
}

// FullMode runs every subsystem: the transactional API, the oracle sampler,
// and periodic exports.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	core, err := a.buildSaleCore(deps, true)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if err := core.sale.Start(ctx); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	defer core.sale.Stop()

	g, ctx := errgroup.WithContext(ctx)

	monitor := service.NewPriceMonitor(
		deps.Oracle, deps.PriceCache, deps.SignalBus, priceSampleInterval, a.logger,
	)
	g.Go(func() error {
		return monitor.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, core, false)
	a.startExporter(ctx, g, deps)

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, core *saleCore, readOnly bool) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by configuration")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			AdminAPIKey: a.cfg.Server.AdminAPIKey,
			ReadOnly:    readOnly,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Sale:   handler.NewSaleHandler(core.sale, a.logger),
			Admin:  handler.NewAdminHandler(core.admin, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startExporter adds the periodic exporter goroutine when exports are enabled
// and blob storage is wired.
func (a *App) startExporter(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Export.Enabled || deps.Archiver == nil {
		return
	}

	exporter := service.NewExporter(
		deps.Archiver,
		a.cfg.Export.Interval.Duration,
		a.cfg.Export.RetentionDays,
		a.logger,
	)
	g.Go(func() error {
		return exporter.Run(ctx)
	})
}
