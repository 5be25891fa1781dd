package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/ingest"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := common.LoadConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file:" + filepath.Join(dir, "app.db") + "?_pragma=busy_timeout(5000)"
	cfg.Storage.ArtifactDir = filepath.Join(dir, "artifacts")
	cfg.Queue.Kind = "memory"
	cfg.Queue.NATSURL = ""
	cfg.InternalAPI.BaseURL = ""
	return cfg
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.Kind = "kafka"
	_, err := Build(context.Background(), cfg, nil, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestBuild_UnusableInboxFileFails(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), nil, Options{})
	require.NoError(t, err)
	defer a.Close(ctx)

	require.NotNil(t, a.Queue)
	require.NotNil(t, a.Service)

	id, err := a.SubmitInboxFile(ctx, ingest.InboxFile{
		Path:     "/inbox/note.png",
		Filename: "note.png",
		MimeType: "image/png",
		Data:     []byte("not really a png"),
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		req, err := a.Service.Status(ctx, id)
		return err == nil && req.State == constants.StateFailed
	}, 5*time.Second, 20*time.Millisecond)

	req, err := a.Service.Status(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, req.Message, "no usable pages")
	require.Len(t, req.Errors, 1)
	assert.Equal(t, "note.png", req.Errors[0].Filename)
}

func TestBuild_SkipQueue(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), nil, Options{SkipQueue: true})
	require.NoError(t, err)
	defer a.Close(ctx)
	assert.Nil(t, a.Queue)
	assert.NoError(t, a.DB.HealthCheck(ctx, time.Second))
}
