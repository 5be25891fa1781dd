package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/storage"
)

const (
	strategiesSheet = "Strategies"
	lineItemsSheet  = "LineItems"
)

// Service is a tiny façade over the artifact store that produces XLSX bytes for exports.
type Service struct {
	store  storage.Store
	prefix string
	logger *slog.Logger
}

func NewService(store storage.Store, prefix string, logger *slog.Logger) *Service {
	if prefix == "" {
		prefix = constants.DefaultArtifactPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, prefix: prefix, logger: logger}
}

// ExportEvaluationXLSX loads the evaluation report of a request and renders it.
func (s *Service) ExportEvaluationXLSX(ctx context.Context, requestID string) ([]byte, error) {
	start := time.Now()
	keys := constants.ArtifactKeys{Prefix: s.prefix, RequestID: requestID}

	var report entity.EvaluationReport
	if err := storage.GetJSON(ctx, s.store, keys.Evaluation(), &report); err != nil {
		return nil, fmt.Errorf("load evaluation: %w", err)
	}
	b, err := EvaluationXLSX(report)
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok",
		"request_id", requestID,
		"strategies", len(report.Comparisons),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return b, nil
}

// EvaluationXLSX renders one row per strategy on "Strategies" and the chosen
// draft's line items on "LineItems".
func EvaluationXLSX(report entity.EvaluationReport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", strategiesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(lineItemsSheet); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	writeRow(f, strategiesSheet, 1, "Mode", "Text Model", "Vision Model", "Seconds", "Flags", "Confidence", "Score", "Chosen", "Flag Details", "Schema Issues")
	for i, r := range report.Comparisons {
		details := make([]string, 0, len(r.Flags))
		for _, fl := range r.Flags {
			details = append(details, fmt.Sprintf("%s %s: %s", fl.Path, fl.Issue, fl.Detail))
		}
		writeRow(f, strategiesSheet, i+2,
			string(r.Mode),
			deref(r.TextModel),
			deref(r.VisionModel),
			round(r.Seconds, 3),
			len(r.Flags),
			r.Confidence,
			round(r.Score, 4),
			isChosen(r, report.Chosen),
			strings.Join(details, "; "),
			strings.Join(r.SchemaIssues, "; "),
		)
	}

	writeRow(f, lineItemsSheet, 1,
		"Kod", "MasrafTarihi", "MasrafTuru", "Butce", "Tedarikci", "Miktar", "Birim",
		"BirimMasrafTutari", "KDVOrani", "ToplamMasrafTutari", "Aciklama")
	if report.Chosen != nil {
		for i, li := range report.Chosen.Merged.LineItems {
			writeRow(f, lineItemsSheet, i+2,
				deref(li.Code), deref(li.Date), deref(li.Type), deref(li.BudgetCode), deref(li.Vendor),
				num(li.Quantity), deref(li.Unit), num(li.UnitAmount), num(li.VATRate), num(li.Total), deref(li.Note))
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(strategiesSheet, "A", "A", 14) // mode
	_ = f.SetColWidth(strategiesSheet, "B", "C", 28) // models
	_ = f.SetColWidth(strategiesSheet, "I", "J", 60) // flag details, schema issues
	_ = f.SetColWidth(lineItemsSheet, "B", "E", 18)
	_ = f.SetColWidth(lineItemsSheet, "K", "K", 48) // notes

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func isChosen(r entity.StrategyResult, chosen *entity.StrategyResult) bool {
	return chosen != nil &&
		r.Mode == chosen.Mode &&
		deref(r.TextModel) == deref(chosen.TextModel) &&
		deref(r.VisionModel) == deref(chosen.VisionModel)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// num leaves missing numbers as empty cells.
func num(f *float64) any {
	if f == nil {
		return ""
	}
	return *f
}

func round(f float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return float64(int64(f*p+0.5)) / p
}
