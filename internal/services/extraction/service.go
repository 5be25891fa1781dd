// Package extraction is the use-case façade shared by the HTTP API and the CLI.
package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/core/async"
	"github.com/joseph-ayodele/expense-extractor/internal/core/feedback"
	"github.com/joseph-ayodele/expense-extractor/internal/core/state"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/export"
	"github.com/joseph-ayodele/expense-extractor/internal/repository"
	"github.com/joseph-ayodele/expense-extractor/internal/storage"
)

const (
	defaultLocale   = "tr_TR"
	defaultCurrency = "TRY"
)

// SubmitFile is one file of a submission: inline base64 content or an ERP reference.
type SubmitFile struct {
	Filename   string          `json:"filename"`
	Mime       string          `json:"mime"`
	Size       int64           `json:"size"`
	ContentB64 string          `json:"content_b64,omitempty"`
	Ref        *entity.FileRef `json:"ref,omitempty"`
}

type SubmitRequest struct {
	Description string       `json:"description"`
	Locale      string       `json:"locale"`
	Currency    string       `json:"currency"`
	Files       []SubmitFile `json:"files"`
}

type Deps struct {
	Machine  *state.Machine
	Requests repository.RequestRepository
	Store    storage.Store
	Prefix   string
	Queue    async.Queue
	Feedback *feedback.Handler
	Export   *export.Service
}

// Service handles extraction request business logic.
type Service struct {
	deps   Deps
	logger *slog.Logger
}

// NewService creates a new extraction service.
func NewService(deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Prefix == "" {
		deps.Prefix = constants.DefaultArtifactPrefix
	}
	return &Service{deps: deps, logger: logger}
}

func (s *Service) keys(id string) constants.ArtifactKeys {
	return constants.ArtifactKeys{Prefix: s.deps.Prefix, RequestID: id}
}

func validateSubmit(req SubmitRequest) error {
	if len(req.Files) == 0 {
		return common.InvalidArgumentError("at least one file is required")
	}
	v := common.NewValidator()
	v.Field("currency", req.Currency, common.CurrencyCode)
	v.Field("description", req.Description, common.MaxLength(4000))
	for i, f := range req.Files {
		prefix := fmt.Sprintf("files[%d].", i)
		v.Field(prefix+"filename", f.Filename, common.Required, common.MaxLength(255))
		v.Field(prefix+"mime", f.Mime, common.Required)
		v.Field(prefix+"content_b64", f.ContentB64, common.Base64)
		hasContent, hasRef := f.ContentB64 != "", f.Ref != nil
		if hasContent == hasRef {
			v.Field(prefix+"content_b64", nil, func(name string, _ interface{}) *common.ValidationError {
				return &common.ValidationError{Field: name, Message: "exactly one of content_b64 and ref is required"}
			})
		}
	}
	return common.ValidateAndReturnError(v)
}

// Submit validates the payload, stores inline uploads, creates the request
// in queued and enqueues it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (entity.Request, error) {
	if err := validateSubmit(req); err != nil {
		s.logger.Warn("extraction.submit.invalid", "error", err)
		return entity.Request{}, err
	}
	if s.deps.Queue == nil {
		return entity.Request{}, errNoQueue
	}

	id := uuid.NewString()
	keys := s.keys(id)
	r := entity.Request{
		ID:          id,
		Description: strings.TrimSpace(req.Description),
		Locale:      req.Locale,
		Currency:    req.Currency,
	}
	if r.Locale == "" {
		r.Locale = defaultLocale
	}
	if r.Currency == "" {
		r.Currency = defaultCurrency
	}

	for i, f := range req.Files {
		sf := entity.SubmittedFile{
			Index:    i + 1,
			Filename: f.Filename,
			MimeType: f.Mime,
			Size:     f.Size,
			Ref:      f.Ref,
		}
		if f.ContentB64 != "" {
			data, err := base64.StdEncoding.DecodeString(f.ContentB64)
			if err != nil {
				return entity.Request{}, common.InvalidArgumentErrorf("files[%d].content_b64: %v", i, err)
			}
			sf.UploadKey = keys.Upload(i + 1)
			if sf.Size == 0 {
				sf.Size = int64(len(data))
			}
			if err := s.deps.Store.Put(ctx, sf.UploadKey, data, f.Mime); err != nil {
				s.logger.Error("extraction.submit.store_failed", "request_id", id, "index", i+1, "error", err)
				return entity.Request{}, fmt.Errorf("store upload: %w", err)
			}
		}
		r.Files = append(r.Files, sf)
	}

	ev, err := s.deps.Machine.Create(ctx, r)
	if err != nil {
		return entity.Request{}, fmt.Errorf("create request: %w", err)
	}
	r.State, r.Progress, r.Message = ev.State, ev.Progress, ev.Message
	r.CreatedAt, r.UpdatedAt = ev.CreatedAt, ev.CreatedAt

	if err := s.deps.Queue.Enqueue(ctx, async.Job{RequestID: id, SubmittedAt: ev.CreatedAt}); err != nil {
		s.logger.Error("extraction.submit.enqueue_failed", "request_id", id, "error", err)
		if fev, ferr := s.deps.Machine.Fail(context.WithoutCancel(ctx), id, "enqueue: "+err.Error()); ferr == nil {
			r.State, r.Progress, r.Message = fev.State, fev.Progress, fev.Message
		}
		return r, fmt.Errorf("enqueue: %w", err)
	}

	s.logger.Info("extraction.submitted", "request_id", id, "files", len(r.Files))
	return r, nil
}

var errNoQueue = errors.New("no job queue configured")

func validateID(id string) error {
	return common.ValidateAndReturnError(common.NewValidator().Field("request_id", id, common.UUID))
}

// Status returns the request with state, progress and message taken from
// its latest event, plus per-file errors.
func (s *Service) Status(ctx context.Context, id string) (entity.Request, error) {
	if err := validateID(id); err != nil {
		return entity.Request{}, err
	}
	req, err := s.deps.Requests.Get(ctx, id)
	if err != nil {
		return entity.Request{}, err
	}
	ev, err := s.deps.Machine.Status(ctx, id)
	if err != nil {
		return entity.Request{}, err
	}
	req.State, req.Progress, req.Message = ev.State, ev.Progress, ev.Message
	return req, nil
}

// Events returns the event history after afterSeq.
func (s *Service) Events(ctx context.Context, id string, afterSeq int64) ([]entity.Event, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return s.deps.Machine.Events(ctx, id, afterSeq)
}

// Draft returns the corrected final artifact when present, else the final draft.
func (s *Service) Draft(ctx context.Context, id string) ([]byte, error) {
	if _, err := s.Status(ctx, id); err != nil {
		return nil, err
	}
	keys := s.keys(id)
	for _, key := range []string{keys.Final(), keys.FinalDraft()} {
		b, err := s.deps.Store.Get(ctx, key)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
	}
	return nil, common.NotFoundError("draft", id)
}

// Retry applies reviewer corrections. It reports false when no draft exists yet.
func (s *Service) Retry(ctx context.Context, id string, c entity.Corrections) (bool, error) {
	if _, err := s.Status(ctx, id); err != nil {
		return false, err
	}
	ok := s.deps.Feedback.ApplyFeedback(ctx, id, c)
	if !ok {
		return false, nil
	}
	if _, err := s.deps.Machine.Annotate(ctx, id, "corrections applied"); err != nil {
		s.logger.Warn("extraction.retry.annotate_failed", "request_id", id, "error", err)
	}
	return true, nil
}

// ExportXLSX renders the evaluation report of a request.
func (s *Service) ExportXLSX(ctx context.Context, id string) ([]byte, error) {
	if _, err := s.Status(ctx, id); err != nil {
		return nil, err
	}
	return s.deps.Export.ExportEvaluationXLSX(ctx, id)
}

// ResumeQueued re-enqueues requests still queued in the database. Requests
// left in processing by a crashed worker are not touched.
func (s *Service) ResumeQueued(ctx context.Context) (int, error) {
	if s.deps.Queue == nil {
		return 0, errNoQueue
	}
	start := time.Now()
	ids, err := s.deps.Requests.ListIDsByState(ctx, constants.StateQueued)
	if err != nil {
		return 0, fmt.Errorf("list queued: %w", err)
	}
	n := 0
	for _, id := range ids {
		if err := s.deps.Queue.Enqueue(ctx, async.Job{RequestID: id, SubmittedAt: time.Now().UTC()}); err != nil {
			return n, fmt.Errorf("enqueue %s: %w", id, err)
		}
		n++
	}
	s.logger.Info("extraction.resume.done", "requeued", n, "elapsed_ms", time.Since(start).Milliseconds())
	return n, nil
}
