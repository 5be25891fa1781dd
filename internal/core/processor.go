package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/core/evaluate"
	"github.com/joseph-ayodele/expense-extractor/internal/core/selection"
	"github.com/joseph-ayodele/expense-extractor/internal/core/state"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/filesource"
	"github.com/joseph-ayodele/expense-extractor/internal/ingest"
	"github.com/joseph-ayodele/expense-extractor/internal/metrics"
	"github.com/joseph-ayodele/expense-extractor/internal/ocr"
	"github.com/joseph-ayodele/expense-extractor/internal/repository"
	"github.com/joseph-ayodele/expense-extractor/internal/storage"
)

// ErrNoPages is returned when no submitted file produced a page.
var ErrNoPages = errors.New("no usable pages")

// Evaluator runs the extraction strategies over normalized input.
type Evaluator interface {
	Run(ctx context.Context, in evaluate.Input) entity.EvaluationReport
}

// ProcessorDeps are the collaborators of a Processor.
type ProcessorDeps struct {
	Machine    *state.Machine
	Requests   repository.RequestRepository
	Files      filesource.Source
	Normalizer ingest.Normalizer
	OCR        ocr.Recognizer // nil skips OCR
	Evaluator  Evaluator
	Policy     selection.Policy
	Store      storage.Store
	Prefix     string
	Metrics    *metrics.Metrics
}

// Processor drives one request from queued to a terminal state:
// normalize, OCR, evaluate, persist, decide.
type Processor struct {
	deps   ProcessorDeps
	logger *slog.Logger
}

func NewProcessor(deps ProcessorDeps, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Prefix == "" {
		deps.Prefix = constants.DefaultArtifactPrefix
	}
	if deps.Policy == (selection.Policy{}) {
		deps.Policy = selection.DefaultPolicy()
	}
	return &Processor{deps: deps, logger: logger}
}

// pipelineInput is what the ingest stage hands to the later stages.
type pipelineInput struct {
	pages       []ingest.Page
	email       string
	descriptors []entity.FileDescriptor
}

// Process runs the pipeline for requestID. Any failure after the request
// entered processing, including a panic, ends it in failed with
// "error: <message>"; the error is also returned.
func (p *Processor) Process(ctx context.Context, requestID string) (err error) {
	ctx = common.WithRequestID(ctx, requestID)
	logger := common.LoggerFromContext(ctx, p.logger)
	start := time.Now()

	if _, err := p.deps.Machine.Transition(ctx, requestID, constants.StateProcessing, 0.05, "ingesting"); err != nil {
		logger.Error("processor.start.failed", "error", err)
		return fmt.Errorf("start processing: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("processor.panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			// the terminal write must outlive an expired pipeline context
			fctx := context.WithoutCancel(ctx)
			if _, ferr := p.deps.Machine.Fail(fctx, requestID, err.Error()); ferr != nil {
				logger.Error("processor.fail.record_failed", "error", ferr)
			}
			logger.Error("processor.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		}
	}()

	final, err := p.run(ctx, logger, requestID)
	if err != nil {
		return err
	}

	next := p.deps.Policy.Decide(entity.StrategyResult{Flags: final.Flags, Confidence: final.Confidence})
	progress, message := 1.0, "auto-approved"
	if next == constants.StateNeedsReview {
		progress, message = 0.8, "human review required"
	}
	if _, err := p.deps.Machine.Transition(ctx, requestID, next, progress, message); err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	logger.Info("processor.done",
		"state", next,
		"flags", len(final.Flags),
		"confidence", final.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Processor) run(ctx context.Context, logger *slog.Logger, requestID string) (entity.FinalDraft, error) {
	keys := constants.ArtifactKeys{Prefix: p.deps.Prefix, RequestID: requestID}

	req, err := p.deps.Requests.Get(ctx, requestID)
	if err != nil {
		return entity.FinalDraft{}, fmt.Errorf("load request: %w", err)
	}

	in, err := p.ingest(ctx, logger, req)
	if err != nil {
		return entity.FinalDraft{}, err
	}

	if err := p.advance(ctx, requestID, 0.3, "ocr"); err != nil {
		return entity.FinalDraft{}, err
	}
	images := make([][]byte, len(in.pages))
	texts := make([]string, len(in.pages))
	for i, page := range in.pages {
		recognized := ""
		if p.deps.OCR != nil {
			recognized = p.deps.OCR.Recognize(ctx, page.PNG)
		}
		images[i] = page.PNG
		texts[i] = strings.TrimSpace(page.NativeText + "\n" + recognized)

		if err := p.deps.Store.Put(ctx, keys.Page(i+1), page.PNG, "image/png"); err != nil {
			return entity.FinalDraft{}, fmt.Errorf("store page %d: %w", i+1, err)
		}
		if err := p.deps.Store.Put(ctx, keys.Text(i+1), []byte(texts[i]), "text/plain; charset=utf-8"); err != nil {
			return entity.FinalDraft{}, fmt.Errorf("store text %d: %w", i+1, err)
		}
	}
	logger.Debug("processor.ocr.done", "pages", len(in.pages))

	if err := p.advance(ctx, requestID, 0.5, "evaluating"); err != nil {
		return entity.FinalDraft{}, err
	}
	report := p.deps.Evaluator.Run(ctx, evaluate.Input{
		Pages:       images,
		PageTexts:   texts,
		Description: req.Description,
		Email:       in.email,
	})

	if err := p.advance(ctx, requestID, 0.75, "comparing"); err != nil {
		return entity.FinalDraft{}, err
	}
	if err := storage.PutJSON(ctx, p.deps.Store, keys.Evaluation(), report); err != nil {
		return entity.FinalDraft{}, fmt.Errorf("store evaluation: %w", err)
	}
	if report.Chosen == nil {
		return entity.FinalDraft{}, errors.New("no strategy produced a result")
	}

	chosen := report.Chosen
	final := entity.FinalDraft{
		Final:      chosen.Merged,
		Flags:      chosen.Flags,
		Confidence: chosen.Confidence,
		Provenance: &entity.Provenance{
			Mode:        chosen.Mode,
			TextModel:   chosen.TextModel,
			VisionModel: chosen.VisionModel,
		},
	}
	if len(final.Final.Files) == 0 {
		final.Final.Files = in.descriptors
	}
	if final.Flags == nil {
		final.Flags = []entity.ConflictFlag{}
	}
	if err := storage.PutJSON(ctx, p.deps.Store, keys.FinalDraft(), final); err != nil {
		return entity.FinalDraft{}, fmt.Errorf("store final draft: %w", err)
	}
	return final, nil
}

// ingest fetches and normalizes every file. Per-file failures are recorded
// on the request and skipped.
func (p *Processor) ingest(ctx context.Context, logger *slog.Logger, req entity.Request) (pipelineInput, error) {
	var (
		in      pipelineInput
		lastErr error
	)
	for _, f := range req.Files {
		doc, err := p.ingestFile(ctx, f)
		if err != nil {
			lastErr = err
			logger.Warn("processor.file.failed", "filename", f.Filename, "error", err)
			p.deps.Metrics.FileError()
			if aerr := p.deps.Requests.AddFileError(ctx, req.ID, entity.FileError{Filename: f.Filename, Message: err.Error()}); aerr != nil {
				logger.Error("processor.file_error.record_failed", "filename", f.Filename, "error", aerr)
			}
			continue
		}
		in.pages = append(in.pages, doc.Pages...)
		if in.email == "" {
			in.email = doc.EmailBody
		}
		in.descriptors = append(in.descriptors, doc.Descriptor)
		logger.Debug("processor.file.ok", "filename", f.Filename, "pages", len(doc.Pages))
	}
	if len(in.pages) == 0 {
		if lastErr != nil {
			return in, fmt.Errorf("%w: %v", ErrNoPages, lastErr)
		}
		return in, ErrNoPages
	}
	return in, nil
}

func (p *Processor) ingestFile(ctx context.Context, f entity.SubmittedFile) (ingest.Document, error) {
	data, err := p.deps.Files.Fetch(ctx, f)
	if err != nil {
		return ingest.Document{}, fmt.Errorf("fetch: %w", err)
	}
	doc, err := p.deps.Normalizer.Normalize(ctx, f.Filename, f.MimeType, data)
	if err != nil {
		return ingest.Document{}, fmt.Errorf("normalize: %w", err)
	}
	return doc, nil
}

func (p *Processor) advance(ctx context.Context, requestID string, progress float64, message string) error {
	if _, err := p.deps.Machine.Transition(ctx, requestID, constants.StateProcessing, progress, message); err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	return nil
}
