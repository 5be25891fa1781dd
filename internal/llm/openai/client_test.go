package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-extractor/internal/llm"
)

type chatBody struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func TestClient_Complete(t *testing.T) {
	var got chatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  {\"Masraf\":{}}  "}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "k", JSONMode: true}, nil)
	out, err := c.Complete(context.Background(), "mixtral", "sys", "user text")
	require.NoError(t, err)
	assert.Equal(t, `{"Masraf":{}}`, out)

	assert.Equal(t, "mixtral", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.JSONEq(t, `"user text"`, string(got.Messages[1].Content))
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
}

func TestClient_CompleteVision(t *testing.T) {
	var got chatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "")
	c := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.CompleteVision(context.Background(), "qwen", "sys", "look", [][]byte{[]byte("png1"), []byte("png2")})
	require.NoError(t, err)

	var parts []map[string]any
	require.NoError(t, json.Unmarshal(got.Messages[1].Content, &parts))
	require.Len(t, parts, 3)
	assert.Equal(t, "text", parts[0]["type"])
	img := parts[1]["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(img, "data:image/png;base64,"))
	assert.Nil(t, got.ResponseFormat)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "non-2xx", status: http.StatusBadGateway, body: `upstream down`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "garbage", status: http.StatusOK, body: `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL}, nil)
			_, err := c.Complete(context.Background(), "m", "s", "u")
			require.Error(t, err)
			if tt.status != http.StatusOK {
				var se *llm.StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, tt.status, se.Status)
			}
		})
	}
}
