// Package app wires the extraction pipeline from configuration. The daemon
// and the CLI share it.
package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/core"
	"github.com/joseph-ayodele/expense-extractor/internal/core/async"
	"github.com/joseph-ayodele/expense-extractor/internal/core/evaluate"
	"github.com/joseph-ayodele/expense-extractor/internal/core/feedback"
	"github.com/joseph-ayodele/expense-extractor/internal/core/selection"
	"github.com/joseph-ayodele/expense-extractor/internal/core/state"
	"github.com/joseph-ayodele/expense-extractor/internal/events"
	"github.com/joseph-ayodele/expense-extractor/internal/export"
	"github.com/joseph-ayodele/expense-extractor/internal/filesource"
	"github.com/joseph-ayodele/expense-extractor/internal/ingest"
	"github.com/joseph-ayodele/expense-extractor/internal/llm/openai"
	"github.com/joseph-ayodele/expense-extractor/internal/metrics"
	"github.com/joseph-ayodele/expense-extractor/internal/ocr"
	"github.com/joseph-ayodele/expense-extractor/internal/repository"
	"github.com/joseph-ayodele/expense-extractor/internal/services/extraction"
	"github.com/joseph-ayodele/expense-extractor/internal/storage"
)

// Options tweak what Build assembles.
type Options struct {
	// ExtraSinks receive every event next to the broadcaster and NATS.
	ExtraSinks []events.Sink
	// SkipQueue leaves App.Queue nil; read-only CLI commands use it.
	SkipQueue bool
}

// App holds the assembled components.
type App struct {
	Config    *common.Config
	DB        *repository.DB
	Store     storage.Store
	Stream    *events.Broadcaster
	Machine   *state.Machine
	Processor *core.Processor
	Queue     async.Queue
	Service   *extraction.Service
	Metrics   *metrics.Metrics

	nc     *nats.Conn
	logger *slog.Logger
}

// Build opens the database and artifact store and wires every component.
// Callers must Close the result.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, logger: logger, Metrics: metrics.New()}

	db, err := repository.Open(ctx, repository.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db

	store, err := storage.NewFS(cfg.Storage.ArtifactDir, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	a.Store = store

	if cfg.Queue.NATSURL != "" {
		nc, err := nats.Connect(cfg.Queue.NATSURL,
			nats.Name("expense-extractor"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.nc = nc
		logger.Info("nats.connected", "url", nc.ConnectedUrl())
	}

	a.Stream = events.NewBroadcaster()
	sinks := events.Multi{a.Stream}
	if a.nc != nil {
		sinks = append(sinks, events.NewNATS(a.nc))
	}
	sinks = append(sinks, opts.ExtraSinks...)

	repo := repository.NewRequestRepository(db, logger)
	a.Machine = state.NewMachine(repo, sinks, logger, state.WithMetrics(a.Metrics))

	policy := selection.Policy{
		FlagPenalty:          cfg.Strategy.FlagPenalty,
		AutoApproveThreshold: cfg.Strategy.AutoApproveThreshold,
	}

	runner := ocr.ExecRunner{Logger: logger}
	llmClient := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		JSONMode:    cfg.LLM.JSONMode,
	}, logger)

	var refs filesource.Source
	if cfg.InternalAPI.BaseURL != "" {
		refs = filesource.NewRetrying(filesource.NewInternalAPI(filesource.InternalAPIConfig{
			BaseURL:  cfg.InternalAPI.BaseURL,
			FilePath: cfg.InternalAPI.FilePath,
			Token:    cfg.InternalAPI.Token,
			Timeout:  cfg.InternalAPI.Timeout,
		}, logger), cfg.InternalAPI.MaxRetries, cfg.InternalAPI.Backoff, logger)
	}

	a.Processor = core.NewProcessor(core.ProcessorDeps{
		Machine:  a.Machine,
		Requests: repo,
		Files:    filesource.Router{Uploads: filesource.StoreSource{Store: store}, Refs: refs},
		Normalizer: ingest.NewNormalizer(ingest.Config{
			Pdftotext:     cfg.OCR.Pdftotext,
			Pdftoppm:      cfg.OCR.Pdftoppm,
			DPI:           cfg.OCR.DPI,
			MaxPages:      cfg.OCR.MaxPages,
			MaxImageSide:  cfg.OCR.MaxImageSide,
			HeicConverter: cfg.OCR.HeicConverter,
		}, runner, logger),
		OCR: ocr.NewTesseract(ocr.Config{
			Tesseract:     cfg.OCR.Tesseract,
			TesseractLang: cfg.OCR.TesseractLang,
			TessdataDir:   cfg.OCR.TessdataDir,
			PSM:           6,
		}, runner, logger),
		Evaluator: evaluate.New(evaluate.Config{
			OCREngines:   cfg.Strategy.OCREngines,
			TextModels:   cfg.Strategy.TextModels,
			VisionModels: cfg.Strategy.VisionModels,
			Concurrency:  cfg.Strategy.Concurrency,
			CallTimeout:  cfg.Strategy.CallTimeout,
			Policy:       policy,
		}, llmClient, llmClient, logger, evaluate.WithMetrics(a.Metrics)),
		Policy:  policy,
		Store:   store,
		Prefix:  cfg.Storage.Prefix,
		Metrics: a.Metrics,
	}, logger)

	queue, err := a.buildQueue(opts)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Queue = queue

	a.Service = extraction.NewService(extraction.Deps{
		Machine:  a.Machine,
		Requests: repo,
		Store:    store,
		Prefix:   cfg.Storage.Prefix,
		Queue:    queue,
		Feedback: feedback.NewHandler(store, cfg.Storage.Prefix, logger),
		Export:   export.NewService(store, cfg.Storage.Prefix, logger),
	}, logger)

	logger.Info("app.built",
		"db_driver", db.Driver(),
		"queue", cfg.Queue.Kind,
		"text_models", cfg.Strategy.TextModels,
		"vision_models", cfg.Strategy.VisionModels,
	)
	return a, nil
}

func (a *App) buildQueue(opts Options) (async.Queue, error) {
	if opts.SkipQueue {
		return nil, nil
	}
	qopts := []async.Option{
		async.WithWorkers(a.Config.Queue.Workers),
		async.WithQueueSize(a.Config.Queue.Size),
		async.WithProcessTimeout(a.Config.Queue.ProcessTimeout),
	}
	if a.Config.Queue.Kind == "jetstream" {
		if a.nc == nil {
			return nil, common.NewAppError("CONFIG_ERROR", "jetstream queue needs NATS_URL", common.ErrInvalidInput)
		}
		q, err := async.NewJetStreamQueue(a.nc, a.Processor, a.logger, qopts...)
		if err != nil {
			return nil, fmt.Errorf("jetstream queue: %w", err)
		}
		return q, nil
	}
	return async.NewProcessorQueue(a.Processor, a.logger, qopts...), nil
}

// SubmitInboxFile turns a dropped file into a single-file request.
func (a *App) SubmitInboxFile(ctx context.Context, f ingest.InboxFile) (string, error) {
	req, err := a.Service.Submit(ctx, extraction.SubmitRequest{
		Files: []extraction.SubmitFile{{
			Filename:   f.Filename,
			Mime:       f.MimeType,
			Size:       int64(len(f.Data)),
			ContentB64: base64.StdEncoding.EncodeToString(f.Data),
		}},
	})
	if err != nil {
		return "", err
	}
	return req.ID, nil
}

// Close drains the queue, then releases NATS and the database.
func (a *App) Close(ctx context.Context) {
	if a.Queue != nil {
		a.Queue.Shutdown(ctx)
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("nats.drain.failed", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
