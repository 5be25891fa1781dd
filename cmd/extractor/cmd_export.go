package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/expense-extractor/internal/app"
)

var exportFlags struct {
	out string
}

var exportCmd = &cobra.Command{
	Use:   "export REQUEST_ID",
	Short: "Write the strategy evaluation of a request as XLSX",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFlags.out, "out", "o", "", "output path (default evaluation-<id>.xlsx)")
}

func runExport(cmd *cobra.Command, args []string) error {
	a, _, err := openApp(cmd, loadConfig(), app.Options{SkipQueue: true})
	if err != nil {
		return err
	}
	defer closeApp(a)

	b, err := a.Service.ExportXLSX(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	path := exportFlags.out
	if path == "" {
		path = "evaluation-" + args[0] + ".xlsx"
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(b))
	return nil
}
