package constants

import (
	"fmt"
	"path"
)

// DefaultArtifactPrefix is prepended to every per-request artifact key.
const DefaultArtifactPrefix = "expenses"

// ArtifactKeys builds the deterministic artifact key scheme for one request.
type ArtifactKeys struct {
	Prefix    string
	RequestID string
}

func (k ArtifactKeys) base() string {
	return path.Join(k.Prefix, k.RequestID)
}

// Page is the normalized PNG of the 1-based page idx.
func (k ArtifactKeys) Page(idx int) string {
	return path.Join(k.base(), "pages", fmt.Sprintf("%04d.png", idx))
}

// Text is the combined native+OCR text of the 1-based page idx.
func (k ArtifactKeys) Text(idx int) string {
	return path.Join(k.base(), "texts", fmt.Sprintf("%04d.txt", idx))
}

// Upload is the raw bytes of the 1-based submitted file idx.
func (k ArtifactKeys) Upload(idx int) string {
	return path.Join(k.base(), "uploads", fmt.Sprintf("%04d", idx))
}

func (k ArtifactKeys) Evaluation() string { return path.Join(k.base(), "evaluation.json") }
func (k ArtifactKeys) FinalDraft() string { return path.Join(k.base(), "final_draft.json") }
func (k ArtifactKeys) Final() string      { return path.Join(k.base(), "final.json") }
