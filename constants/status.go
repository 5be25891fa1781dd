package constants

// RequestState is the lifecycle state of an extraction request.
type RequestState string

// Stable values (stored as exact strings in the DB and on the wire).
const (
	StateQueued      RequestState = "queued"
	StateProcessing  RequestState = "processing"
	StateDone        RequestState = "done"
	StateNeedsReview RequestState = "needs_review"
	StateFailed      RequestState = "failed"
)

// Terminal reports whether no further transition may leave the state.
func (s RequestState) Terminal() bool {
	switch s {
	case StateDone, StateNeedsReview, StateFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s RequestState) Valid() bool {
	switch s {
	case StateQueued, StateProcessing, StateDone, StateNeedsReview, StateFailed:
		return true
	}
	return false
}
