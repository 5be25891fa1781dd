package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/expense-extractor/internal/app"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
)

var retryFlags struct {
	file         string
	set          []string
	instructions string
}

var retryCmd = &cobra.Command{
	Use:   "retry REQUEST_ID",
	Short: "Apply reviewer corrections to a finished request",
	Long: "retry replaces top-level draft fields (Masraf, MasrafAlt, Dosya) with\n" +
		"the given values and writes the corrected final artifact.",
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func init() {
	f := retryCmd.Flags()
	f.StringVar(&retryFlags.file, "file", "", "JSON file with {\"corrections\": {...}, \"instructions\": \"...\"}")
	f.StringArrayVar(&retryFlags.set, "set", nil, "KEY=JSON correction, repeatable")
	f.StringVar(&retryFlags.instructions, "instructions", "", "free-text instructions recorded with the corrections")
}

// parseCorrections merges --file and --set; --set wins on the same key.
func parseCorrections() (entity.Corrections, error) {
	var c entity.Corrections
	if retryFlags.file != "" {
		b, err := os.ReadFile(retryFlags.file)
		if err != nil {
			return c, fmt.Errorf("read corrections: %w", err)
		}
		if err := json.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse corrections: %w", err)
		}
	}
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	for _, kv := range retryFlags.set {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return c, fmt.Errorf("--set %q: want KEY=JSON", kv)
		}
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			return c, fmt.Errorf("--set %s: %w", k, err)
		}
		c.Fields[strings.TrimSpace(k)] = val
	}
	if retryFlags.instructions != "" {
		c.Instructions = retryFlags.instructions
	}
	return c, nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	c, err := parseCorrections()
	if err != nil {
		return err
	}
	a, _, err := openApp(cmd, loadConfig(), app.Options{SkipQueue: true})
	if err != nil {
		return err
	}
	defer closeApp(a)

	ok, err := a.Service.Retry(cmd.Context(), args[0], c)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("request %s has no draft to correct", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "corrections applied to %s\n", args[0])
	return nil
}
