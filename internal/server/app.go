// Package server wires the catalogue engine together: storage, peer
// client, services, HTTP transport, and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/server/config"
	"github.com/shelfmesh/shelfmesh/internal/server/httpapi"
	"github.com/shelfmesh/shelfmesh/internal/server/peerclient"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/repomanager"
	"github.com/shelfmesh/shelfmesh/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	rm     repomanager.RepositoryManager

	Operators *services.OperatorService

	httpSrv *http.Server
}

// NewApp opens the store, runs migrations, and builds the full service
// graph.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, rm, err := repomanager.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	client := peerclient.New(cfg.PeerTimeout)

	registry := services.NewRegistry(db, rm, cfg, client, logger)
	processor := services.NewSyncProcessor(db, rm, logger)
	inventory := services.NewInventorySync(db, rm, client, logger)
	loanSvc := services.NewLoanService(db, rm, cfg, logger)
	borrow := services.NewBorrowCoordinator(db, rm, cfg, client, registry, loanSvc, logger)
	replicator := services.NewReplicator(db, rm, client, logger)
	operators := services.NewOperatorService(db, rm, cfg, logger)
	export := services.NewExportService(db, rm, cfg, logger)

	api := httpapi.NewServer(cfg, registry, processor, inventory, borrow,
		loanSvc, replicator, operators, export, client, logger)

	return &App{
		config:    cfg,
		logger:    logger,
		db:        db,
		rm:        rm,
		Operators: operators,
		httpSrv: &http.Server{
			Addr:              cfg.EndpointAddr,
			Handler:           api.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Migrate opens the store, applies pending migrations, and closes it.
func Migrate(ctx context.Context, cfg *config.Config) error {
	db, rm, err := repomanager.Open(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	defer db.Close()
	return rm.RunMigrations(ctx, db)
}

func (app *App) Close() error {
	return app.db.Close()
}

// Run serves HTTP until ctx is cancelled or a termination signal
// arrives, then shuts down draining in-flight requests.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "server listening", "addr", app.config.EndpointAddr, "library", app.config.LibraryName)
		errCh <- app.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := app.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	app.logger.Info(context.Background(), "server stopped")
	return nil
}
