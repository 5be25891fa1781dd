// Package ingest turns submitted files into ordered page images with native
// text, and watches an inbox folder for new files.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/ocr"
)

// ErrUnsupported is returned for payloads no normalizer handles.
var ErrUnsupported = errors.New("unsupported document")

// Page is one normalized page image with the text layer found in the source, if any.
type Page struct {
	PNG        []byte
	NativeText string
}

// Document is the normalized form of one submitted file.
type Document struct {
	Pages      []Page
	EmailBody  string
	Descriptor entity.FileDescriptor
}

// Normalizer converts raw file bytes into a Document.
type Normalizer interface {
	Normalize(ctx context.Context, filename, mime string, data []byte) (Document, error)
}

type Config struct {
	Pdftotext    string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm     string // binary name or absolute path; if empty -> "pdftoppm"
	DPI          int    // rasterization DPI, default 200
	MaxPages     int    // 0 = no limit
	MaxImageSide int    // longest side after downscale, default 2000
	// HeicConverter converts HEIC/HEIF photos to PNG: magick (default),
	// heif-convert, sips or none.
	HeicConverter string
}

// DocumentNormalizer routes PDFs, images and .eml containers.
type DocumentNormalizer struct {
	cfg    Config
	runner ocr.Runner
	logger *slog.Logger
	now    func() time.Time
}

func NewNormalizer(cfg Config, runner ocr.Runner, logger *slog.Logger) *DocumentNormalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ocr.ExecRunner{Logger: logger}
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if cfg.MaxImageSide <= 0 {
		cfg.MaxImageSide = 2000
	}
	if cfg.HeicConverter == "" {
		cfg.HeicConverter = "magick"
	}
	return &DocumentNormalizer{cfg: cfg, runner: runner, logger: logger, now: time.Now}
}

func (n *DocumentNormalizer) Normalize(ctx context.Context, filename, mime string, data []byte) (Document, error) {
	start := time.Now()
	kind := constants.GuessKind(filename, mime, data)
	doc := Document{Descriptor: Describe(filename, mime, data, n.now())}

	n.logger.Debug("ingest.normalize.start", "filename", filename, "kind", kind, "bytes", len(data))
	var err error
	switch kind {
	case constants.PDF:
		doc.Pages, err = n.pdfPages(ctx, data)
	case constants.IMAGE:
		raw := data
		if isHEIC(filename, mime, data) {
			raw, err = n.convertHEIC(ctx, data)
		}
		if err == nil {
			var png []byte
			png, err = NormalizePNG(raw, n.cfg.MaxImageSide)
			if err == nil {
				doc.Pages = []Page{{PNG: png}}
			}
		}
	case constants.EMAIL:
		doc.Pages, doc.EmailBody, err = n.emailPages(ctx, filename, data)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, filename)
	}
	if err != nil {
		n.logger.Warn("ingest.normalize.failed", "filename", filename, "kind", kind, "error", err)
		return Document{}, err
	}
	if n.cfg.MaxPages > 0 && len(doc.Pages) > n.cfg.MaxPages {
		doc.Pages = doc.Pages[:n.cfg.MaxPages]
	}
	n.logger.Info("ingest.normalize.done",
		"filename", filename,
		"kind", kind,
		"pages", len(doc.Pages),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}
