package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/expense-extractor/internal/ocr"
)

// pdfPages renders every page with pdftoppm and pairs it with the page's
// text layer from pdftotext.
func (n *DocumentNormalizer) pdfPages(ctx context.Context, data []byte) ([]Page, error) {
	tmpDir, err := os.MkdirTemp("", "ee-pdf-*")
	if err != nil {
		return nil, err
	}
	defer func(path string) {
		if err := os.RemoveAll(path); err != nil {
			n.logger.Warn("ingest.pdf.cleanup_failed", "dir", path, "error", err)
		}
	}(tmpDir)

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", strconv.Itoa(n.cfg.DPI), "-png"}
	if n.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(n.cfg.MaxPages))
	}
	// pdftoppm -r 200 -png <in.pdf> <tmp/page>
	if _, errb, err := n.runner.Run(ctx, n.cfg.Pdftoppm, append(args, in, prefix)...); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, ocr.Truncate(string(errb), 512))
	}

	images, err := renderedPages(prefix)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images")
	}

	native := n.pdfText(ctx, in)

	pages := make([]Page, 0, len(images))
	for i, img := range images {
		raw, err := os.ReadFile(img)
		if err != nil {
			return nil, fmt.Errorf("read rendered page: %w", err)
		}
		png, err := NormalizePNG(raw, n.cfg.MaxImageSide)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		p := Page{PNG: png}
		if i < len(native) {
			p.NativeText = native[i]
		}
		pages = append(pages, p)
	}
	return pages, nil
}

// pdfText returns the text layer per page; scanned PDFs yield empty strings.
func (n *DocumentNormalizer) pdfText(ctx context.Context, path string) []string {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := n.runner.Run(ctx, n.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		n.logger.Warn("ingest.pdf.text_failed", "error", err, "stderr", ocr.Truncate(string(errb), 512))
		return nil
	}
	// a form-feed \f separates pages
	parts := strings.Split(string(out), "\f")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// renderedPages lists prefix-N.png files in page order. pdftoppm zero-pads N
// depending on the page count, so sort numerically.
func renderedPages(prefix string) ([]string, error) {
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	num := func(p string) int {
		s := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), filepath.Base(prefix)+"-"), ".png")
		v, _ := strconv.Atoi(s)
		return v
	}
	sort.Slice(matches, func(i, j int) bool { return num(matches[i]) < num(matches[j]) })
	return matches, nil
}
