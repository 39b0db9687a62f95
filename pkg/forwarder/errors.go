package forwarder

import "fmt"

// PartialAckError is returned by a Sink when the backend accepted the first Accepted
// events of a batch and rejected the rest
type PartialAckError struct {
	Accepted int
	Rejected int
	Reason   string
}

func (e *PartialAckError) Error() string {
	return fmt.Sprintf("backend accepted %d and rejected %d events: %s", e.Accepted, e.Rejected, e.Reason)
}

// ForwardError reports events that were not delivered after retries were exhausted
type ForwardError struct {
	Failed int
	Total  int
	Err    error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("failed to forward %d of %d events: %v", e.Failed, e.Total, e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}

// Partial reports whether some events of the same call were delivered
func (e *ForwardError) Partial() bool {
	return e.Failed < e.Total
}
