/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the trip budget server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and configuration (YAML + ENV + defaults)
  2. Build the slog logger (stderr or rotating file)
  3. Open the SQLite store and apply migrations
  4. Wire Ledger -> RecomputeScheduler -> Recalculator, and the Promoter
  5. Seed empty parameters for every workspace
  6. Configure HTTP router and start serving

CONFIGURATION:
  CONFIG_PATH       YAML file (default ./config.yaml, optional)
  SERVER_PORT       HTTP server port (default: 8080)
  DATABASE_PATH     SQLite database path (default: budget.db)
                    Use ":memory:" for in-memory database
  LOG_LEVEL, LOG_FORMAT, LOG_FILE
  RECALC_DELAY      Debounce before auto items are recomputed (default: 750ms)
  See config/config.go for the full list.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (shutdown timeout)
  3. Cancel pending recomputes and wait for running ones
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/warp/trip-budget/api"
	"github.com/warp/trip-budget/budget"
	"github.com/warp/trip-budget/config"
	"github.com/warp/trip-budget/logging"
	"github.com/warp/trip-budget/store/sqlite"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger(cfg.Log)
	err = run(cfg, logger)
	closer.Close()
	if err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	metrics := api.NewMetrics()

	ledger := budget.NewLedger(store, budget.WithLogger(logger))
	recalc := budget.NewRecalculator(store,
		budget.WithRecalcLogger(logger),
		budget.WithRecalcActor(cfg.Recalc.Actor),
	)
	scheduler := budget.NewRecomputeScheduler(recalc, cfg.Recalc.Delay, logger)
	scheduler.OnRun = metrics.ObserveRecompute
	defer scheduler.Stop()
	ledger.SetInputsChanged(scheduler.Schedule)

	for _, ws := range budget.Workspaces() {
		if _, err := ledger.SeedParameters(ctx, ws, cfg.Recalc.Actor); err != nil {
			return fmt.Errorf("seed parameters for %s: %w", ws, err)
		}
	}

	handler := api.NewHandler(api.Deps{
		Ledger:   ledger,
		Recalc:   recalc,
		Promoter: budget.NewPromoter(store, logger),
		Resetter: store,
		Metrics:  metrics,
		Logger:   logger,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORS.Origins(),
		Logger:         logger,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", server.Addr),
			slog.String("database", cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
