// Package llm holds the prompts, engine interfaces and candidate parsing
// shared by the text and vision extraction strategies.
package llm

import "context"

// TextEngine completes a chat turn from text only.
type TextEngine interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// VisionEngine completes a chat turn with page images attached.
type VisionEngine interface {
	CompleteVision(ctx context.Context, model, system, user string, images [][]byte) (string, error)
}
