package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/warp/trip-budget/budget"
	"github.com/warp/trip-budget/config"
	"github.com/warp/trip-budget/logging"
	"github.com/warp/trip-budget/store/sqlite"
)

// app holds the flags shared by every command and the opened services.
type app struct {
	dbPath string
	actor  string

	store    *sqlite.Store
	logger   *slog.Logger
	closeLog io.Closer

	ledger   *budget.Ledger
	recalc   *budget.Recalculator
	promoter *budget.Promoter
}

func newRootCmd() *cobra.Command {
	return newRootCmdFor(&app{})
}

func newRootCmdFor(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "budgetctl",
		Short:         "Trip budget operator CLI",
		Long:          "Promote workspaces, recompute automatic items and inspect budgets and their change log.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (default from config)")
	root.PersistentFlags().StringVar(&a.actor, "actor", defaultActor(), "Actor recorded in the change log")

	root.AddCommand(
		newPromoteCmd(a),
		newRecalcCmd(a),
		newRecoverCmd(a),
		newSummaryCmd(a),
		newChangelogCmd(a),
	)
	return root
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

// open loads configuration and wires the budget services on the SQLite store.
// Services already set (tests) are kept.
func (a *app) open() error {
	if a.ledger != nil {
		return nil
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbPath == "" {
		a.dbPath = cfg.Database.Path
	}
	a.logger, a.closeLog = logging.NewLogger(cfg.Log)

	store, err := sqlite.New(a.dbPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.dbPath, err)
	}
	a.store = store
	a.wire(store)
	return nil
}

func (a *app) wire(store budget.Store) {
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.ledger = budget.NewLedger(store, budget.WithLogger(a.logger))
	a.recalc = budget.NewRecalculator(store, budget.WithRecalcLogger(a.logger))
	a.promoter = budget.NewPromoter(store, a.logger)
}

func (a *app) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if a.closeLog != nil {
		a.closeLog.Close()
		a.closeLog = nil
	}
	return err
}

func workspaceFlag(cmd *cobra.Command, name string) (budget.Workspace, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", err
	}
	return budget.ParseWorkspace(raw)
}
