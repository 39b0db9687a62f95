package collector

import (
	"errors"
	"fmt"
	"time"
)

// State is a step of a collection cycle
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateLocking    State = "locking"
	StateDisabled   State = "disabled"
	StateFetching   State = "fetching"
	StateForwarding State = "forwarding"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
)

// Outcome summarizes a CollectionResult for callers and metrics
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomePartial  Outcome = "partial"
	OutcomeFailure  Outcome = "failure"
	OutcomeDisabled Outcome = "disabled"
	OutcomeSkipped  Outcome = "skipped"
)

// ErrCycleInProgress is reported when a trigger arrives while the previous cycle for the
// same integration still holds its lock
var ErrCycleInProgress = errors.New("skipped: previous cycle in progress")

// Error kinds recorded on a CycleError. Fetch failures use the fetcher's kinds.
const (
	KindValidation = "validation"
	KindHeaders    = "headers"
	KindLock       = "lock"
	KindDelivery   = "delivery"
	KindPartialAck = "partial_ack"
	KindCancelled  = "cancelled"
	KindPanic      = "panic"
)

// CycleError wraps the error that ended a cycle with the step it happened in
type CycleError struct {
	Step State
	Kind string
	Err  error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// CollectionResult reports one collection cycle. Forwarded includes Retried.
type CollectionResult struct {
	Integration     string
	RunID           string
	State           State
	Step            State
	Fetched         int
	Dropped         int
	Forwarded       int
	Retried         int
	FailedToForward int
	Archived        int
	Pages           int
	Truncated       bool
	Error           error
	StartedAt       time.Time
	Duration        time.Duration
}

// Outcome classifies the result. A forwarding failure that still delivered some events
// is partial.
func (r CollectionResult) Outcome() Outcome {
	switch r.State {
	case StateDone:
		return OutcomeSuccess
	case StateDisabled:
		return OutcomeDisabled
	case StateSkipped:
		return OutcomeSkipped
	case StateFailed:
		if r.Step == StateForwarding && r.Forwarded > 0 {
			return OutcomePartial
		}
		return OutcomeFailure
	default:
		return OutcomeFailure
	}
}

func (r *CollectionResult) enter(state State) {
	r.State = state
	r.Step = state
}

func (r *CollectionResult) fail(kind string, err error) {
	r.Error = &CycleError{Step: r.Step, Kind: kind, Err: err}
	r.State = StateFailed
}
