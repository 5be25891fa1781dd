package main

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/expense-extractor/internal/app"
	"github.com/joseph-ayodele/expense-extractor/internal/events"
	"github.com/joseph-ayodele/expense-extractor/internal/services/extraction"
)

var evaluateFlags struct {
	description string
	locale      string
	currency    string
	timeout     time.Duration
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate FILE...",
	Short: "Run one extraction request over local files and print the draft",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEvaluate,
}

func init() {
	f := evaluateCmd.Flags()
	f.StringVar(&evaluateFlags.description, "description", "", "free-text description sent to the models")
	f.StringVar(&evaluateFlags.locale, "locale", "", "locale (default tr_TR)")
	f.StringVar(&evaluateFlags.currency, "currency", "", "ISO 4217 currency (default TRY)")
	f.DurationVar(&evaluateFlags.timeout, "timeout", 20*time.Minute, "give up waiting after this long")
}

func detectMime(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	cfg.Queue.Kind = "memory"
	cfg.Queue.Workers = 1

	req := extraction.SubmitRequest{
		Description: evaluateFlags.description,
		Locale:      evaluateFlags.locale,
		Currency:    evaluateFlags.currency,
	}
	for _, p := range args {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		req.Files = append(req.Files, extraction.SubmitFile{
			Filename:   filepath.Base(p),
			Mime:       detectMime(p, data),
			Size:       int64(len(data)),
			ContentB64: base64.StdEncoding.EncodeToString(data),
		})
	}

	logger := newLogger(cmd, cfg.LogLevel)
	a, _, err := openApp(cmd, cfg, app.Options{ExtraSinks: []events.Sink{events.Logging{Logger: logger}}})
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx := cmd.Context()
	r, err := a.Service.Submit(ctx, req)
	if err != nil {
		return err
	}

	live, cancel := a.Stream.Subscribe(r.ID)
	defer cancel()
	st, err := a.Service.Status(ctx, r.ID)
	if err != nil {
		return err
	}
	deadline := time.After(evaluateFlags.timeout)
	// the broadcaster drops events for slow readers, so poll as well
	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()
	for !st.State.Terminal() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("request %s still %s after %s", r.ID, st.State, evaluateFlags.timeout)
		case ev := <-live:
			st.State, st.Message = ev.State, ev.Message
		case <-poll.C:
			if st, err = a.Service.Status(ctx, r.ID); err != nil {
				return err
			}
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(cmd.ErrOrStderr(), "request %s: %s (%s)\n", r.ID, st.State, st.Message)
	draft, err := a.Service.Draft(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("request %s ended %s without a draft: %w", r.ID, st.State, err)
	}
	_, err = out.Write(append(draft, '\n'))
	return err
}
