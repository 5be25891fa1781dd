package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/expense-extractor/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status REQUEST_ID",
	Short: "Show the state of a request",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var eventsFlags struct {
	after int64
	json  bool
}

var eventsCmd = &cobra.Command{
	Use:   "events REQUEST_ID",
	Short: "List the event history of a request",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	f := eventsCmd.Flags()
	f.Int64Var(&eventsFlags.after, "after", 0, "only events with seq greater than this")
	f.BoolVar(&eventsFlags.json, "json", false, "print JSON instead of a table")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, _, err := openApp(cmd, loadConfig(), app.Options{SkipQueue: true})
	if err != nil {
		return err
	}
	defer closeApp(a)

	r, err := a.Service.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Request:  %s\n", r.ID)
	fmt.Fprintf(out, "State:    %s\n", r.State)
	fmt.Fprintf(out, "Progress: %.0f%%\n", r.Progress*100)
	fmt.Fprintf(out, "Message:  %s\n", r.Message)
	fmt.Fprintf(out, "Files:    %d\n", len(r.Files))
	for _, f := range r.Files {
		fmt.Fprintf(out, "  [%d] %s (%s, %d bytes)\n", f.Index, f.Filename, f.MimeType, f.Size)
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(out, "Errors:\n")
		for _, e := range r.Errors {
			fmt.Fprintf(out, "  %s: %s\n", e.Filename, e.Message)
		}
	}
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	a, _, err := openApp(cmd, loadConfig(), app.Options{SkipQueue: true})
	if err != nil {
		return err
	}
	defer closeApp(a)

	evs, err := a.Service.Events(cmd.Context(), args[0], eventsFlags.after)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if eventsFlags.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(evs)
	}
	for _, ev := range evs {
		fmt.Fprintf(out, "%3d  %-12s %4.0f%%  %s  %s\n",
			ev.Seq, ev.State, ev.Progress*100, ev.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), ev.Message)
	}
	return nil
}
