package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/expense-extractor/internal/app"
	"github.com/joseph-ayodele/expense-extractor/internal/common"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel string
	dbURL    string
	dataDir  string
}

var rootCmd = &cobra.Command{
	Use:   "extractor",
	Short: "Expense document extraction toolkit",
	Long: "extractor runs and inspects expense extraction requests: OCR plus\n" +
		"text and vision models, merged into an ERP expense draft.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "debug|info|warn|error (default LOG_LEVEL or info)")
	pf.StringVar(&rootFlags.dbURL, "db", "", "database DSN (default DB_URL)")
	pf.StringVar(&rootFlags.dataDir, "artifacts", "", "artifact directory (default ARTIFACT_DIR)")

	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(dbhealthCmd)
	rootCmd.Version = version
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig applies the persistent flags on top of the environment.
func loadConfig() *common.Config {
	cfg := common.LoadConfig()
	if rootFlags.logLevel != "" {
		cfg.LogLevel = rootFlags.logLevel
	}
	if rootFlags.dbURL != "" {
		cfg.Database.DSN = rootFlags.dbURL
	}
	if rootFlags.dataDir != "" {
		cfg.Storage.ArtifactDir = rootFlags.dataDir
	}
	return cfg
}

func newLogger(cmd *cobra.Command, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
}

// openApp builds the pipeline for a command. Read-only commands pass
// skipQueue so nothing gets processed behind their back.
func openApp(cmd *cobra.Command, cfg *common.Config, opts app.Options) (*app.App, *slog.Logger, error) {
	logger := newLogger(cmd, cfg.LogLevel)
	slog.SetDefault(logger)
	a, err := app.Build(cmd.Context(), cfg, logger, opts)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}

func closeApp(a *app.App) {
	a.Close(context.Background())
}
