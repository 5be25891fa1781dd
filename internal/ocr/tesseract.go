// Package ocr wraps the tesseract binary as a best-effort page recognizer.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Recognizer turns one page image into text. Failures yield "".
type Recognizer interface {
	Recognize(ctx context.Context, png []byte) string
}

type Config struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	TesseractLang string // default "tur+eng"
	TessdataDir   string

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	// EnableTSVConfidence runs a second TSV pass to log mean word confidence.
	EnableTSVConfidence bool
}

// Tesseract is the Recognizer backed by the tesseract CLI.
type Tesseract struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseract(cfg Config, runner Runner, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "tur+eng"
	}
	return &Tesseract{cfg: cfg, runner: runner, logger: logger}
}

func (t *Tesseract) baseArgs(path string) []string {
	args := []string{path, "stdout", "-l", t.cfg.TesseractLang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	return args
}

func (t *Tesseract) Recognize(ctx context.Context, png []byte) string {
	if len(png) == 0 {
		return ""
	}
	start := time.Now()

	tmpDir, err := os.MkdirTemp("", "ee-ocr-*")
	if err != nil {
		t.logger.Warn("ocr.tempdir.failed", "error", err)
		return ""
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	path := filepath.Join(tmpDir, "page.png")
	if err := os.WriteFile(path, png, 0o600); err != nil {
		t.logger.Warn("ocr.write.failed", "error", err)
		return ""
	}

	// tesseract <file> stdout -l <lang>
	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, t.baseArgs(path)...)
	if err != nil {
		t.logger.Warn("ocr.tesseract.failed", "error", err, "stderr", Truncate(string(errb), 512))
		return ""
	}
	txt := Normalize(string(out))

	attrs := []any{
		"chars", len(txt),
		"heuristic_conf", heuristicConfidence(txt),
		"elapsed_ms", time.Since(start).Milliseconds(),
	}
	if t.cfg.EnableTSVConfidence {
		if c, err := t.tsvConfidence(ctx, path); err == nil {
			attrs = append(attrs, "ocr_conf", c)
		} else {
			attrs = append(attrs, "ocr_conf_error", err.Error())
		}
	}
	t.logger.Debug("ocr.page.done", attrs...)
	return txt
}

// tsvConfidence runs tesseract in TSV mode and returns mean word conf in 0..1.
func (t *Tesseract) tsvConfidence(ctx context.Context, path string) (float32, error) {
	args := append(t.baseArgs(path), "tsv")
	out, _, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		return 0, fmt.Errorf("tesseract TSV: %w", err)
	}
	return meanTSVConfidence(string(out)), nil
}

func meanTSVConfidence(tsv string) float32 {
	var sum, n float64
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || len(ln) == 0 {
			continue
		} // skip header
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := strings.TrimSpace(cols[10]) // level..height, conf, text
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil && v >= 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float32(sum / n / 100.0)
}
