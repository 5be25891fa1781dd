package constants

// StrategyMode tags which engines produced a StrategyResult.
type StrategyMode string

const (
	ModeTextOnly   StrategyMode = "text-only"
	ModeVisionOnly StrategyMode = "vision-only"
	ModeBothMerge  StrategyMode = "both-merge"
)

// FlagIssue is the kind of a ConflictFlag.
type FlagIssue string

const (
	IssueSumMismatch FlagIssue = "sum_mismatch"
)

const (
	// ConfidenceClean is assigned to merges without flags.
	ConfidenceClean = 0.95
	// ConfidenceFlagged is assigned to merges with at least one flag.
	ConfidenceFlagged = 0.6
	// ConfidenceCorrected is assigned to human-corrected drafts.
	ConfidenceCorrected = 0.99
	// SumTolerance is the allowed |calc - stated| before a sum_mismatch.
	SumTolerance = 0.01

	DefaultFlagPenalty          = 0.05
	DefaultAutoApproveThreshold = 0.90
)
