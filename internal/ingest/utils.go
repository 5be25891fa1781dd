package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/expense-extractor/constants"
)

// AllowedExt checks if a file extension is accepted by the inbox.
func AllowedExt(ext string) bool {
	ext = constants.NormalizeExt(ext)
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

func normalizeExtOf(path string) string {
	return constants.NormalizeExt(filepath.Ext(path))
}

func defaultExts() map[string]struct{} {
	out := make(map[string]struct{}, len(constants.AllowedExtensions))
	for k := range constants.AllowedExtensions {
		out[k] = struct{}{}
	}
	return out
}
