package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoAccounts is returned when the identity pool is empty.
var ErrNoAccounts = errors.New("no accounts configured, run with --login first")

// AllRateLimitedError is returned when every identity is rate limited and
// the soonest reset is further away than the configured wait bound.
type AllRateLimitedError struct {
	Wait time.Duration
}

func (e *AllRateLimitedError) Error() string {
	return fmt.Sprintf("all accounts rate limited, earliest reset in %s", e.Wait.Round(time.Second))
}

// UpstreamError is a non-retriable upstream failure, or the last upstream
// failure once retries are exhausted.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Message)
}

// TransportError is a local or network failure that survived the whole
// endpoint fallback chain.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
