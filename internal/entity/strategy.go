package entity

import "github.com/joseph-ayodele/expense-extractor/constants"

// ConflictFlag is a detected disagreement or inconsistency in a draft.
type ConflictFlag struct {
	Path   string              `json:"path"`
	Issue  constants.FlagIssue `json:"issue"`
	Detail string              `json:"detail"`
}

// StrategyResult is one evaluated engine combination.
type StrategyResult struct {
	Mode        constants.StrategyMode `json:"mode"`
	TextModel   *string                `json:"text_model"`
	VisionModel *string                `json:"vision_model"`
	Seconds     float64                `json:"seconds"`
	Flags       []ConflictFlag         `json:"flags"`
	Confidence  float64                `json:"confidence"`
	Score       float64                `json:"score"`
	Merged      ExpenseDraft           `json:"merged"`
	// SchemaIssues lists candidate fields repaired or rejected by schema
	// validation, prefixed with the engine kind.
	SchemaIssues []string `json:"schema_issues,omitempty"`
}

// EvaluationReport is the persisted record of one evaluator run.
type EvaluationReport struct {
	OCREngines   []string         `json:"ocr_engines"`
	TextModels   []string         `json:"text_models"`
	VisionModels []string         `json:"vision_models"`
	Comparisons  []StrategyResult `json:"comparisons"`
	Chosen       *StrategyResult  `json:"chosen"`
}

// Provenance names the strategy that produced a final draft.
type Provenance struct {
	Mode        constants.StrategyMode `json:"mode"`
	TextModel   *string                `json:"text_model"`
	VisionModel *string                `json:"vision_model"`
}

// FinalDraft is the finalized artifact written after evaluation.
type FinalDraft struct {
	Final      ExpenseDraft   `json:"final"`
	Flags      []ConflictFlag `json:"flags"`
	Confidence float64        `json:"confidence"`
	Provenance *Provenance    `json:"provenance,omitempty"`
}

// Corrections is a reviewer payload applied to a finalized draft.
// Fields is matched against the draft's top-level keys only.
type Corrections struct {
	Fields       map[string]any `json:"corrections,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
}
