package fetcher

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure
type Kind string

const (
	// KindTransport covers connection failures, timeouts and cancellation
	KindTransport Kind = "transport"
	// KindAuth is a 401 or 403 from the upstream
	KindAuth Kind = "auth"
	// KindParse means the body did not match the expected event container
	KindParse Kind = "parse"
	// KindUpstream is any other non-2xx response
	KindUpstream Kind = "upstream"
)

// FetchError is returned by Fetch for every failure after headers were built
type FetchError struct {
	Kind       Kind
	StatusCode int
	Page       int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error on page %d (status %d): %v", e.Kind, e.Page, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s error on page %d: %v", e.Kind, e.Page, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a FetchError of the given kind
func IsKind(err error, kind Kind) bool {
	var ferr *FetchError
	return errors.As(err, &ferr) && ferr.Kind == kind
}
