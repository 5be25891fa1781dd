package core

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/core/evaluate"
	"github.com/joseph-ayodele/expense-extractor/internal/core/state"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/filesource"
	"github.com/joseph-ayodele/expense-extractor/internal/ingest"
	"github.com/joseph-ayodele/expense-extractor/internal/repository"
	"github.com/joseph-ayodele/expense-extractor/internal/storage"
)

type fakeNormalizer struct{}

func (fakeNormalizer) Normalize(_ context.Context, filename, mime string, data []byte) (ingest.Document, error) {
	if string(data) == "junk" {
		return ingest.Document{}, ingest.ErrUnsupported
	}
	name := filename
	return ingest.Document{
		Pages: []ingest.Page{
			{PNG: []byte("png-1"), NativeText: "native"},
			{PNG: []byte("png-2")},
		},
		Descriptor: entity.FileDescriptor{OriginalName: &name, MimeType: &mime},
	}, nil
}

type fakeOCR struct{}

func (fakeOCR) Recognize(_ context.Context, png []byte) string { return "ocr " + string(png) }

type fakeText struct{ answer string }

func (f fakeText) Complete(context.Context, string, string, string) (string, error) {
	return f.answer, nil
}

type panickingEvaluator struct{}

func (panickingEvaluator) Run(context.Context, evaluate.Input) entity.EvaluationReport {
	panic("boom")
}

type fixture struct {
	machine *state.Machine
	repo    repository.RequestRepository
	store   *storage.Memory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "core.db") + "?_pragma=busy_timeout(5000)"
	db, err := repository.Open(context.Background(), repository.Config{Driver: repository.DriverSQLite, DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	repo := repository.NewRequestRepository(db, nil)
	return fixture{machine: state.NewMachine(repo, nil, nil), repo: repo, store: storage.NewMemory()}
}

func (f fixture) processor(ev Evaluator) *Processor {
	return NewProcessor(ProcessorDeps{
		Machine:    f.machine,
		Requests:   f.repo,
		Files:      filesource.Router{Uploads: filesource.StoreSource{Store: f.store}},
		Normalizer: fakeNormalizer{},
		OCR:        fakeOCR{},
		Evaluator:  ev,
		Store:      f.store,
	}, nil)
}

func textEvaluator(answer string) Evaluator {
	return evaluate.New(evaluate.Config{TextModels: []string{"t1"}}, fakeText{answer: answer}, nil, nil)
}

// submit stores uploads for every payload ("" means a missing upload) and creates the request.
func (f fixture) submit(t *testing.T, id string, payloads ...string) {
	t.Helper()
	ctx := context.Background()
	keys := constants.ArtifactKeys{Prefix: constants.DefaultArtifactPrefix, RequestID: id}
	req := entity.Request{ID: id, Description: "taksi"}
	for i, p := range payloads {
		key := keys.Upload(i + 1)
		if p != "" {
			require.NoError(t, f.store.Put(ctx, key, []byte(p), ""))
		}
		req.Files = append(req.Files, entity.SubmittedFile{
			Index: i + 1, Filename: "f" + string(rune('a'+i)) + ".pdf", MimeType: "application/pdf", UploadKey: key,
		})
	}
	_, err := f.machine.Create(ctx, req)
	require.NoError(t, err)
}

func messages(t *testing.T, f fixture, id string) []string {
	t.Helper()
	evs, err := f.machine.Events(context.Background(), id, 0)
	require.NoError(t, err)
	var out []string
	for _, ev := range evs {
		out = append(out, string(ev.State)+":"+ev.Message)
	}
	return out
}

const cleanAnswer = `{"Masraf":{"Aciklama":"X"},"MasrafAlt":[{"BirimMasrafTutari":10,"Miktar":2,"ToplamMasrafTutari":20}]}`

func TestProcess_AutoApproved(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "r1", "%PDF-1.4")

	require.NoError(t, f.processor(textEvaluator(cleanAnswer)).Process(context.Background(), "r1"))

	assert.Equal(t, []string{
		"queued:queued",
		"processing:ingesting",
		"processing:ocr",
		"processing:evaluating",
		"processing:comparing",
		"done:auto-approved",
	}, messages(t, f, "r1"))

	ctx := context.Background()
	keys := constants.ArtifactKeys{Prefix: constants.DefaultArtifactPrefix, RequestID: "r1"}
	png, err := f.store.Get(ctx, keys.Page(2))
	require.NoError(t, err)
	assert.Equal(t, "png-2", string(png))
	text, err := f.store.Get(ctx, keys.Text(1))
	require.NoError(t, err)
	assert.Equal(t, "native\nocr png-1", string(text))
	text, err = f.store.Get(ctx, keys.Text(2))
	require.NoError(t, err)
	assert.Equal(t, "ocr png-2", string(text))

	var report entity.EvaluationReport
	require.NoError(t, storage.GetJSON(ctx, f.store, keys.Evaluation(), &report))
	assert.Len(t, report.Comparisons, 1)

	var final entity.FinalDraft
	require.NoError(t, storage.GetJSON(ctx, f.store, keys.FinalDraft(), &final))
	assert.Equal(t, 0.95, final.Confidence)
	assert.Empty(t, final.Flags)
	require.NotNil(t, final.Provenance)
	assert.Equal(t, constants.ModeTextOnly, final.Provenance.Mode)
	require.Len(t, final.Final.Files, 1)
	assert.Equal(t, "fa.pdf", *final.Final.Files[0].OriginalName)

	raw, err := f.store.Get(ctx, keys.FinalDraft())
	require.NoError(t, err)
	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, []any{}, generic["flags"])
}

func TestProcess_NeedsReview(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "r1", "%PDF-1.4")

	mismatch := strings.Replace(cleanAnswer, `"ToplamMasrafTutari":20`, `"ToplamMasrafTutari":25`, 1)
	require.NoError(t, f.processor(textEvaluator(mismatch)).Process(context.Background(), "r1"))

	st, err := f.machine.Status(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateNeedsReview, st.State)
	assert.Equal(t, 0.8, st.Progress)
	assert.Equal(t, "human review required", st.Message)
}

func TestProcess_PartialFileFailure(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "r1", "", "junk", "%PDF-1.4")

	require.NoError(t, f.processor(textEvaluator(cleanAnswer)).Process(context.Background(), "r1"))

	req, err := f.repo.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateDone, req.State)
	require.Len(t, req.Errors, 2)
	assert.Equal(t, "fa.pdf", req.Errors[0].Filename)
	assert.Contains(t, req.Errors[0].Message, "fetch")
	assert.Equal(t, "fb.pdf", req.Errors[1].Filename)
	assert.Contains(t, req.Errors[1].Message, "normalize")
}

func TestProcess_NoUsablePages(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "r1", "junk")

	err := f.processor(textEvaluator(cleanAnswer)).Process(context.Background(), "r1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPages))

	st, err := f.machine.Status(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateFailed, st.State)
	assert.Equal(t, 1.0, st.Progress)
	assert.True(t, strings.HasPrefix(st.Message, "error: no usable pages"))
}

func TestProcess_PanicFailsRequest(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "r1", "%PDF-1.4")

	err := f.processor(panickingEvaluator{}).Process(context.Background(), "r1")
	require.Error(t, err)

	st, err := f.machine.Status(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateFailed, st.State)
	assert.Equal(t, "error: panic: boom", st.Message)
}

func TestProcess_NotQueued(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "r1", "%PDF-1.4")
	p := f.processor(textEvaluator(cleanAnswer))
	require.NoError(t, p.Process(context.Background(), "r1"))

	err := p.Process(context.Background(), "r1")
	assert.Error(t, err)
	st, err := f.machine.Status(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateDone, st.State)
	assert.Equal(t, int64(6), st.Seq)
}
