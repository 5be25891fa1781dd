// Package selection scores strategy results, picks the winner and decides
// whether it can be approved without a reviewer.
package selection

import (
	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
)

// Policy holds the scoring and approval knobs.
type Policy struct {
	FlagPenalty          float64
	AutoApproveThreshold float64
}

// DefaultPolicy is the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		FlagPenalty:          constants.DefaultFlagPenalty,
		AutoApproveThreshold: constants.DefaultAutoApproveThreshold,
	}
}

// Score is the confidence minus a penalty per flag.
func (p Policy) Score(r entity.StrategyResult) float64 {
	return r.Confidence - p.FlagPenalty*float64(len(r.Flags))
}

// Select returns the index of the highest scoring result; the first one
// seen wins ties. ok is false only for an empty list.
func (p Policy) Select(results []entity.StrategyResult) (idx int, ok bool) {
	if len(results) == 0 {
		return 0, false
	}
	best := p.Score(results[0])
	for i := 1; i < len(results); i++ {
		if s := p.Score(results[i]); s > best {
			idx, best = i, s
		}
	}
	return idx, true
}

// Decide routes a chosen result to done or needs_review.
func (p Policy) Decide(r entity.StrategyResult) constants.RequestState {
	if len(r.Flags) == 0 && r.Confidence >= p.AutoApproveThreshold {
		return constants.StateDone
	}
	return constants.StateNeedsReview
}
