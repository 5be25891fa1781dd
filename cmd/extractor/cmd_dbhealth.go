package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/expense-extractor/internal/repository"
)

var dbhealthFlags struct {
	timeout time.Duration
}

var dbhealthCmd = &cobra.Command{
	Use:   "dbhealth",
	Short: "Open the database, apply migrations and ping it",
	Args:  cobra.NoArgs,
	RunE:  runDBHealth,
}

func init() {
	dbhealthCmd.Flags().DurationVar(&dbhealthFlags.timeout, "timeout", time.Second, "ping timeout")
}

func runDBHealth(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	logger := newLogger(cmd, cfg.LogLevel)
	db, err := repository.Open(cmd.Context(), repository.Config{
		Driver:      cfg.Database.Driver,
		DSN:         cfg.Database.DSN,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		DialTimeout: cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("opening DB: %w", err)
	}
	defer db.Close()

	if err := db.HealthCheck(cmd.Context(), dbhealthFlags.timeout); err != nil {
		return fmt.Errorf("DB health: FAIL (%w)", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "DB health: OK (%s)\n", db.Driver())
	return nil
}
