package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"
)

// InboxFile is one file dropped into the inbox.
type InboxFile struct {
	Path     string
	Filename string
	MimeType string
	Data     []byte
}

// SubmitFunc turns an inbox file into a request.
type SubmitFunc func(ctx context.Context, f InboxFile) (requestID string, err error)

type InboxConfig struct {
	Dir         string
	Debounce    time.Duration
	InitialScan bool
}

// Inbox submits every new file in a drop folder as a single-file request.
type Inbox struct {
	cfg    InboxConfig
	submit SubmitFunc
	logger *slog.Logger
}

func NewInbox(cfg InboxConfig, submit SubmitFunc, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{cfg: cfg, submit: submit, logger: logger}
}

// Run blocks until ctx is done.
func (in *Inbox) Run(ctx context.Context) error {
	if in.cfg.Dir == "" {
		return fmt.Errorf("inbox dir is required")
	}
	if err := os.MkdirAll(in.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	events, errs, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{in.cfg.Dir},
		InitialScan: in.cfg.InitialScan,
		Debounce:    in.cfg.Debounce,
		Logger:      in.logger,
	})
	if err != nil {
		return err
	}
	in.logger.Info("inbox.watch.started", "dir", in.cfg.Dir, "debounce", in.cfg.Debounce)

	for {
		select {
		case <-ctx.Done():
			in.logger.Info("inbox.watch.stopped", "dir", in.cfg.Dir)
			return nil
		case p, ok := <-events:
			if !ok {
				return nil
			}
			in.handle(ctx, p)
		case err, ok := <-errs:
			if ok && err != nil {
				in.logger.Warn("inbox.watch.error", "error", err)
			}
		}
	}
}

func (in *Inbox) handle(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// renamed away or still being written; a later event retries
		in.logger.Warn("inbox.file.read_failed", "path", path, "error", err)
		return
	}
	if len(data) == 0 {
		return
	}
	f := InboxFile{
		Path:     path,
		Filename: filepath.Base(path),
		MimeType: mimeByExt(path),
		Data:     data,
	}
	id, err := in.submit(ctx, f)
	if err != nil {
		in.logger.Error("inbox.file.submit_failed", "path", path, "error", err)
		return
	}
	in.logger.Info("inbox.file.submitted", "path", path, "request_id", id, "bytes", len(data))
}

func mimeByExt(path string) string {
	switch normalizeExtOf(path) {
	case "eml":
		return "message/rfc822"
	case "msg":
		return "application/vnd.ms-outlook"
	case "heic", "heif":
		return "image/" + normalizeExtOf(path)
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
		return t
	}
	return "application/octet-stream"
}
