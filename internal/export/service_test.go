package export

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/storage"
)

func sp(s string) *string   { return &s }
func fp(f float64) *float64 { return &f }

func sampleReport() entity.EvaluationReport {
	text := entity.StrategyResult{
		Mode:       constants.ModeTextOnly,
		TextModel:  sp("t1"),
		Seconds:    1.23456,
		Confidence: 0.95,
		Score:      0.95,
		Flags:      []entity.ConflictFlag{},
		Merged: entity.ExpenseDraft{LineItems: []entity.LineItem{
			{Vendor: sp("ACME"), Quantity: fp(2), UnitAmount: fp(10), Total: fp(20)},
			{Vendor: sp("Taksi")},
		}},
	}
	vision := entity.StrategyResult{
		Mode:        constants.ModeVisionOnly,
		VisionModel: sp("v1"),
		Confidence:  0.6,
		Score:       0.55,
		Flags: []entity.ConflictFlag{{
			Path: "MasrafAlt[0].ToplamMasrafTutari", Issue: constants.IssueSumMismatch, Detail: "calc=20 vs stated=25",
		}},
		SchemaIssues: []string{"vision: MasrafAlt[1](type)"},
	}
	return entity.EvaluationReport{
		TextModels:   []string{"t1"},
		VisionModels: []string{"v1"},
		Comparisons:  []entity.StrategyResult{text, vision},
		Chosen:       &text,
	}
}

func TestEvaluationXLSX(t *testing.T) {
	b, err := EvaluationXLSX(sampleReport())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{strategiesSheet, lineItemsSheet}, f.GetSheetList())

	rows, err := f.GetRows(strategiesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Mode", rows[0][0])
	assert.Equal(t, []string{"text-only", "t1", "", "1.235", "0", "0.95", "0.95", "TRUE"}, rows[1][:8])
	assert.Equal(t, "vision-only", rows[2][0])
	assert.Equal(t, "FALSE", rows[2][7])
	assert.Contains(t, rows[2][8], "sum_mismatch")
	require.Len(t, rows[2], 10)
	assert.Equal(t, "vision: MasrafAlt[1](type)", rows[2][9])

	items, err := f.GetRows(lineItemsSheet)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "ACME", items[1][4])
	assert.Equal(t, "2", items[1][5])
	assert.Equal(t, "20", items[1][9])
	assert.Equal(t, "Taksi", items[2][4])
}

func TestEvaluationXLSX_NoChosen(t *testing.T) {
	b, err := EvaluationXLSX(entity.EvaluationReport{})
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(lineItemsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestService_ExportEvaluationXLSX(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	keys := constants.ArtifactKeys{Prefix: constants.DefaultArtifactPrefix, RequestID: "r1"}
	require.NoError(t, storage.PutJSON(ctx, store, keys.Evaluation(), sampleReport()))

	s := NewService(store, "", nil)
	b, err := s.ExportEvaluationXLSX(ctx, "r1")
	require.NoError(t, err)
	assert.NotEmpty(t, b)

	_, err = s.ExportEvaluationXLSX(ctx, "missing")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}
