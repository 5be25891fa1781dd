package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/ocr"
)

func isHEIC(filename, mime string, data []byte) bool {
	switch normalizeExtOf(filename) {
	case "heic", "heif":
		return true
	}
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/heic", "image/heif", "image/heic-sequence", "image/heif-sequence":
		return true
	}
	return constants.IsHEIFBrand(data)
}

// convertHEIC shells out to the configured converter; the standard image
// decoders cannot read HEVC-coded stills.
func (n *DocumentNormalizer) convertHEIC(ctx context.Context, data []byte) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "ee-heic-*")
	if err != nil {
		return nil, err
	}
	defer func(path string) {
		if err := os.RemoveAll(path); err != nil {
			n.logger.Warn("ingest.heic.cleanup_failed", "dir", path, "error", err)
		}
	}(tmpDir)

	in := filepath.Join(tmpDir, "in.heic")
	out := filepath.Join(tmpDir, "page.png")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("write heic: %w", err)
	}

	var args []string
	switch n.cfg.HeicConverter {
	case "magick", "heif-convert":
		args = []string{in, out}
	case "sips":
		args = []string{"-s", "format", "png", in, "--out", out}
	default:
		return nil, fmt.Errorf("%w: HEIC needs HEIC_CONVERTER set to magick, heif-convert or sips", ErrUnsupported)
	}
	if _, errb, err := n.runner.Run(ctx, n.cfg.HeicConverter, args...); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", n.cfg.HeicConverter, err, ocr.Truncate(string(errb), 512))
	}

	png, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("HEIC conversion produced no output: %w", err)
	}
	n.logger.Debug("ingest.heic.converted", "converter", n.cfg.HeicConverter, "bytes", len(png))
	return png, nil
}
