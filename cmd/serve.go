package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"botbuilder/internal/api"
	"botbuilder/internal/config"
	"botbuilder/internal/db"
	"botbuilder/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status API (health, metrics, sessions)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(false); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Environment == config.EnvProduction {
			gin.SetMode(gin.ReleaseMode)
		}

		sessions, closeSessions, err := openSessions(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeSessions()

		var (
			ledger api.Ledger
			health api.HealthChecker
		)
		database, l := openLedger(cfg)
		if database != nil {
			defer database.Close()
			ledger, health = l, database
		}

		var collector *metrics.LedgerCollector
		if database != nil {
			collector = metrics.NewLedgerCollector(database.DB, 30*time.Second)
		} else {
			collector = metrics.NewLedgerCollector(nil, 30*time.Second)
		}
		collector.Start(ctx)
		defer collector.Stop()

		return api.NewServer(sessions, ledger, health, version).Run(ctx, cfg.Server.Addr)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.NewDatabase(db.Config{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN,
			Debug:  verbose,
		})
		if err != nil {
			return err
		}
		defer database.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "Ledger ready (%s)\n", cfg.Database.Driver)
		return nil
	},
}
