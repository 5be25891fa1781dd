package filesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-extractor/internal/entity"
)

// InternalAPIConfig configures the ERP file endpoint client.
type InternalAPIConfig struct {
	BaseURL  string
	FilePath string // default /expenses/file
	Token    string
	Timeout  time.Duration
}

// InternalAPI downloads referenced files from the ERP:
// GET {base}{path}?id=&fileId=&fileHash= answering {"data": "<b64>"} or a bare b64 string.
type InternalAPI struct {
	cfg    InternalAPIConfig
	http   *http.Client
	logger *slog.Logger
}

func NewInternalAPI(cfg InternalAPIConfig, logger *slog.Logger) *InternalAPI {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		cfg.FilePath = "/expenses/file"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &InternalAPI{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

func (c *InternalAPI) endpoint(ref *entity.FileRef) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(c.cfg.FilePath, "/")
	q := url.Values{}
	q.Set("id", strconv.FormatInt(ref.Kod, 10))
	q.Set("fileId", strconv.FormatInt(ref.FileID, 10))
	q.Set("fileHash", ref.FileHash)
	return u + "?" + q.Encode()
}

func (c *InternalAPI) Fetch(ctx context.Context, f entity.SubmittedFile) ([]byte, error) {
	if f.Ref == nil {
		return nil, fmt.Errorf("%w: file %q has no reference", ErrFatal, f.Filename)
	}
	reqID := uuid.New().String()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(f.Ref), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFatal, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	c.logger.Info("filesource.http.request", "req_id", reqID, "kod", f.Ref.Kod, "file_id", f.Ref.FileID)
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("filesource.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("filesource.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}
	c.logger.Info("filesource.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("%w: status %d: %s", ErrFatal, resp.StatusCode, truncate(string(raw), 200))
	}

	data, err := DecodePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	return data, nil
}

// DecodePayload accepts {"data": "<b64>"}, a JSON string, or a bare base64 body.
func DecodePayload(raw []byte) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	var b64 string
	switch {
	case len(raw) > 0 && raw[0] == '{':
		var env struct {
			Data *string `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if env.Data == nil {
			return nil, fmt.Errorf("response has no data field")
		}
		b64 = *env.Data
	case len(raw) > 0 && raw[0] == '"':
		if err := json.Unmarshal(raw, &b64); err != nil {
			return nil, fmt.Errorf("decode string: %w", err)
		}
	default:
		b64 = string(raw)
	}
	b64 = strings.TrimSpace(b64)
	// data URLs: data:application/pdf;base64,....
	if i := strings.Index(b64, ";base64,"); i >= 0 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+len(";base64,"):]
	}
	if b64 == "" {
		return nil, fmt.Errorf("empty payload")
	}
	out, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
