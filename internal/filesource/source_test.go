package filesource

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/storage"
)

type scriptedSource struct {
	errs  []error
	calls int
}

func (s *scriptedSource) Fetch(context.Context, entity.SubmittedFile) ([]byte, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return []byte("ok"), nil
}

func TestRetrying(t *testing.T) {
	transient := ErrTransient
	fatal := ErrFatal

	tests := []struct {
		name      string
		errs      []error
		retries   int
		wantCalls int
		wantErr   error
	}{
		{name: "first attempt succeeds", errs: nil, retries: 3, wantCalls: 1},
		{name: "recovers after transient", errs: []error{transient, transient}, retries: 3, wantCalls: 3},
		{name: "budget exhausted", errs: []error{transient, transient, transient, transient, transient}, retries: 3, wantCalls: 4, wantErr: ErrTransient},
		{name: "fatal stops immediately", errs: []error{fatal}, retries: 3, wantCalls: 1, wantErr: ErrFatal},
		{name: "no retries", errs: []error{transient}, retries: 0, wantCalls: 1, wantErr: ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{errs: tt.errs}
			r := NewRetrying(src, tt.retries, time.Millisecond, nil)
			b, err := r.Fetch(context.Background(), entity.SubmittedFile{Filename: "a.pdf"})
			assert.Equal(t, tt.wantCalls, src.calls)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", string(b))
		})
	}
}

type cancelingSource struct {
	cancel context.CancelFunc
	calls  int
}

func (s *cancelingSource) Fetch(context.Context, entity.SubmittedFile) ([]byte, error) {
	s.calls++
	s.cancel()
	return nil, ErrTransient
}

func TestRetrying_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancelingSource{cancel: cancel}

	r := NewRetrying(src, 5, time.Hour, nil)
	done := make(chan error, 1)
	go func() {
		_, err := r.Fetch(ctx, entity.SubmittedFile{Filename: "a.pdf"})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTransient))
		assert.Equal(t, 1, src.calls)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch kept retrying after cancel")
	}
}

func TestInternalAPI_Fetch(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4"))

	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "envelope", status: 200, body: `{"data":"` + payload + `"}`, want: "%PDF-1.4"},
		{name: "bare base64", status: 200, body: payload, want: "%PDF-1.4"},
		{name: "json string", status: 200, body: `"` + payload + `"`, want: "%PDF-1.4"},
		{name: "server error is transient", status: 502, body: "bad gateway", wantErr: ErrTransient},
		{name: "throttled is transient", status: 429, body: "", wantErr: ErrTransient},
		{name: "not found is fatal", status: 404, body: "nope", wantErr: ErrFatal},
		{name: "garbage is fatal", status: 200, body: `{"data":"***"}`, wantErr: ErrFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/file", r.URL.Path)
				assert.Equal(t, "7", r.URL.Query().Get("id"))
				assert.Equal(t, "42", r.URL.Query().Get("fileId"))
				assert.Equal(t, "h", r.URL.Query().Get("fileHash"))
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewInternalAPI(InternalAPIConfig{BaseURL: srv.URL + "/", FilePath: "/api/file", Token: "secret"}, nil)
			b, err := c.Fetch(context.Background(), entity.SubmittedFile{
				Filename: "x.pdf",
				Ref:      &entity.FileRef{Kod: 7, FileID: 42, FileHash: "h"},
			})
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))
		})
	}
}

func TestInternalAPI_RetriedThroughWrapper(t *testing.T) {
	var hits atomic.Int32
	payload := base64.StdEncoding.EncodeToString([]byte("img"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	src := NewRetrying(NewInternalAPI(InternalAPIConfig{BaseURL: srv.URL}, nil), 3, time.Millisecond, nil)
	b, err := src.Fetch(context.Background(), entity.SubmittedFile{Ref: &entity.FileRef{Kod: 1, FileID: 2}})
	require.NoError(t, err)
	assert.Equal(t, "img", string(b))
	assert.Equal(t, int32(3), hits.Load())
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.Put(ctx, "expenses/r/uploads/0001", []byte("bytes"), ""))

	r := Router{Uploads: StoreSource{Store: store}}
	b, err := r.Fetch(ctx, entity.SubmittedFile{UploadKey: "expenses/r/uploads/0001"})
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(b))

	_, err = r.Fetch(ctx, entity.SubmittedFile{UploadKey: "expenses/r/uploads/0002"})
	assert.True(t, errors.Is(err, ErrFatal))

	_, err = r.Fetch(ctx, entity.SubmittedFile{Ref: &entity.FileRef{Kod: 1}})
	assert.True(t, errors.Is(err, ErrFatal))

	_, err = r.Fetch(ctx, entity.SubmittedFile{Filename: "empty"})
	assert.True(t, errors.Is(err, ErrFatal))
}
