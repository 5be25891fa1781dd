package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/expense-extractor/internal/llm"
)

var (
	_ llm.TextEngine   = (*Client)(nil)
	_ llm.VisionEngine = (*Client)(nil)
)

// Complete implements llm.TextEngine.
func (c *Client) Complete(ctx context.Context, model, system, user string) (string, error) {
	return c.chat(ctx, model, system, user, nil)
}

// CompleteVision implements llm.VisionEngine; each PNG page becomes an image_url part.
func (c *Client) CompleteVision(ctx context.Context, model, system, user string, images [][]byte) (string, error) {
	return c.chat(ctx, model, system, user, images)
}

func (c *Client) chat(ctx context.Context, model, system, user string, images [][]byte) (string, error) {
	start := time.Now()
	kind := "text"
	if len(images) > 0 {
		kind = "vision"
	}
	c.logger.Info("llm.chat.start",
		"model", model,
		"kind", kind,
		"temp", c.cfg.Temperature,
		"user_len", len(user),
		"images", len(images),
	)

	var userContent any = user
	if len(images) > 0 {
		parts := []map[string]any{{"type": "text", "text": user}}
		for _, img := range images {
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)},
			})
		}
		userContent = parts
	}

	body := map[string]any{
		"model":       model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": userContent},
		},
	}
	if c.cfg.JSONMode {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	headers := map[string]string{}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		c.logger.Error("llm.chat.http_error",
			"model", model, "kind", kind, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.chat.decode_error",
			"model", model, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.chat.no_choices",
			"model", model,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("no choices in chat response")
	}

	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	c.logger.Info("llm.chat.ok",
		"model", model,
		"kind", kind,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}
