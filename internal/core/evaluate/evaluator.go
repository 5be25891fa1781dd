// Package evaluate runs every text, vision and merged extraction strategy
// over one normalized request and picks the winner.
package evaluate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/core/merge"
	"github.com/joseph-ayodele/expense-extractor/internal/core/selection"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/llm"
	"github.com/joseph-ayodele/expense-extractor/internal/metrics"
)

const (
	defaultConcurrency = 4
	defaultCallTimeout = 120 * time.Second
)

var errNoEngine = errors.New("engine not configured")

// Config lists the models to evaluate and bounds the engine calls.
type Config struct {
	OCREngines   []string // informational, copied into the report
	TextModels   []string
	VisionModels []string
	Concurrency  int
	CallTimeout  time.Duration
	Policy       selection.Policy
}

// Input is the shared, read-only material every strategy sees.
type Input struct {
	Pages       [][]byte // PNG per page
	PageTexts   []string
	Description string
	Email       string
}

// Evaluator runs strategies over a bounded goroutine pool.
type Evaluator struct {
	cfg     Config
	text    llm.TextEngine
	vision  llm.VisionEngine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMetrics records engine calls and flags.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

func New(cfg Config, text llm.TextEngine, vision llm.VisionEngine, logger *slog.Logger, opts ...Option) *Evaluator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Policy == (selection.Policy{}) {
		cfg.Policy = selection.DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{cfg: cfg, text: text, vision: vision, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// candidate is the outcome of one engine call.
type candidate struct {
	draft   *entity.ExpenseDraft
	seconds float64
	issues  []string // schema repairs, "rejected" when unusable
}

// Run evaluates text-only per text model, vision-only per vision model and
// both-merge per (text, vision) pair, in that order. Every engine is called
// once per model and its candidate shared by the combinations using it.
// Engine failures yield empty candidates and never abort the run.
func (e *Evaluator) Run(ctx context.Context, in Input) entity.EvaluationReport {
	logger := common.LoggerFromContext(ctx, e.logger)
	start := time.Now()

	texts := make([]candidate, len(e.cfg.TextModels))
	visions := make([]candidate, len(e.cfg.VisionModels))

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	userText := llm.TextUserPrompt(in.Description, in.PageTexts, "", in.Email)
	for i, model := range e.cfg.TextModels {
		g.Go(func() error {
			texts[i] = e.call(ctx, logger, "text", model, func(cctx context.Context) (string, error) {
				if e.text == nil {
					return "", errNoEngine
				}
				return e.text.Complete(cctx, model, llm.SchemaPrompt, userText)
			})
			return nil
		})
	}
	userVision := llm.VisionUserPrompt(in.Description)
	for i, model := range e.cfg.VisionModels {
		g.Go(func() error {
			visions[i] = e.call(ctx, logger, "vision", model, func(cctx context.Context) (string, error) {
				if e.vision == nil {
					return "", errNoEngine
				}
				return e.vision.CompleteVision(cctx, model, llm.SchemaPrompt, userVision, in.Pages)
			})
			return nil
		})
	}
	_ = g.Wait() // failures are empty candidates

	report := entity.EvaluationReport{
		OCREngines:   nonNil(e.cfg.OCREngines),
		TextModels:   nonNil(e.cfg.TextModels),
		VisionModels: nonNil(e.cfg.VisionModels),
		Comparisons:  []entity.StrategyResult{},
	}

	for i, tm := range e.cfg.TextModels {
		report.Comparisons = append(report.Comparisons,
			e.result(constants.ModeTextOnly, &tm, nil, nil, &texts[i]))
	}
	for j, vm := range e.cfg.VisionModels {
		report.Comparisons = append(report.Comparisons,
			e.result(constants.ModeVisionOnly, nil, &vm, &visions[j], nil))
	}
	for i, tm := range e.cfg.TextModels {
		for j, vm := range e.cfg.VisionModels {
			report.Comparisons = append(report.Comparisons,
				e.result(constants.ModeBothMerge, &tm, &vm, &visions[j], &texts[i]))
		}
	}

	if idx, ok := e.cfg.Policy.Select(report.Comparisons); ok {
		chosen := report.Comparisons[idx]
		report.Chosen = &chosen
		logger.Info("evaluate.run.done",
			"strategies", len(report.Comparisons),
			"chosen_mode", chosen.Mode,
			"chosen_score", chosen.Score,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	} else {
		logger.Warn("evaluate.run.empty", "elapsed_ms", time.Since(start).Milliseconds())
	}
	return report
}

func (e *Evaluator) call(ctx context.Context, logger *slog.Logger, kind, model string, fn func(context.Context) (string, error)) candidate {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	out, err := fn(cctx)
	var raw []byte
	if err == nil {
		raw, err = llm.ExtractJSON(out)
	}
	seconds := time.Since(start).Seconds()

	if err != nil {
		e.metrics.EngineCall(kind, seconds, metrics.OutcomeError)
		logger.Warn("evaluate.engine.failed", "kind", kind, "model", model, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return candidate{draft: &entity.ExpenseDraft{}, seconds: seconds}
	}

	outcome := metrics.OutcomeOK
	var issues []string
	if verr := llm.ValidateDraft(raw); verr != nil {
		cleaned, dropped, serr := llm.SanitizeDraft(raw)
		if serr == nil {
			serr = llm.ValidateDraft(cleaned)
		}
		if serr != nil {
			e.metrics.EngineCall(kind, seconds, metrics.OutcomeSchemaRejected)
			logger.Warn("evaluate.engine.schema_rejected", "kind", kind, "model", model,
				"error", verr, "after_sanitize", serr)
			return candidate{draft: &entity.ExpenseDraft{}, seconds: seconds, issues: []string{"rejected"}}
		}
		logger.Warn("evaluate.engine.sanitized", "kind", kind, "model", model, "error", verr, "dropped", dropped)
		raw, issues, outcome = cleaned, dropped, metrics.OutcomeSchemaMismatch
	}
	e.metrics.EngineCall(kind, seconds, outcome)

	draft := merge.DecodeCandidate(raw)
	if draft.Empty() {
		logger.Warn("evaluate.engine.no_candidate", "kind", kind, "model", model)
	}
	logger.Debug("evaluate.engine.ok", "kind", kind, "model", model, "bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds())
	return candidate{draft: draft, seconds: seconds, issues: issues}
}

func (e *Evaluator) result(mode constants.StrategyMode, tm, vm *string, vision, text *candidate) entity.StrategyResult {
	var vd, td *entity.ExpenseDraft
	var seconds float64
	var issues []string
	if text != nil {
		td = text.draft
		seconds += text.seconds
		issues = appendIssues(issues, "text", text.issues)
	}
	if vision != nil {
		vd = vision.draft
		seconds += vision.seconds
		issues = appendIssues(issues, "vision", vision.issues)
	}
	m := merge.Merge(vd, td)
	r := entity.StrategyResult{
		Mode:         mode,
		TextModel:    copyStr(tm),
		VisionModel:  copyStr(vm),
		Seconds:      seconds,
		Merged:       m.Draft,
		Flags:        m.Flags,
		Confidence:   m.Confidence,
		SchemaIssues: issues,
	}
	r.Score = e.cfg.Policy.Score(r)
	e.metrics.Flags(string(mode), len(r.Flags))
	e.logger.Debug("evaluate.strategy.done", "mode", mode, "flags", len(r.Flags), "score", r.Score)
	return r
}

func appendIssues(dst []string, kind string, issues []string) []string {
	for _, issue := range issues {
		dst = append(dst, kind+": "+issue)
	}
	return dst
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
