package domain

import (
	"errors"
	"fmt"
)

// Common errors used throughout the application.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSyncInProgress    = errors.New("sync already in progress")
	ErrConfiguration     = errors.New("configuration error")
	ErrNoZoneRuleset     = errors.New("zone has no ruleset of kind zone")
	ErrBootstrapDisabled = errors.New("bootstrap key disabled - API keys exist")
)

// RemoteErrorKind classifies failures of calls to the firewall API.
type RemoteErrorKind string

const (
	KindConnectionFailure RemoteErrorKind = "connection_failure"
	KindRateLimited       RemoteErrorKind = "rate_limited"
	KindRemoteStatus      RemoteErrorKind = "remote_status"
)

// Sentinels matched by RemoteError.Is.
var (
	ErrConnectionFailure = errors.New("connection failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrRemoteStatus      = errors.New("remote status error")
)

// RemoteError is a classified failure of a firewall API call.
type RemoteError struct {
	Kind       RemoteErrorKind
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	switch e.Kind {
	case KindConnectionFailure:
		return fmt.Sprintf("%s: connection failure: %v", e.Op, e.Err)
	case KindRateLimited:
		return fmt.Sprintf("%s: rate limited (status %d)", e.Op, e.StatusCode)
	default:
		if e.StatusCode != 0 {
			return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match a RemoteError against the kind sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrConnectionFailure:
		return e.Kind == KindConnectionFailure
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrRemoteStatus:
		return e.Kind == KindRemoteStatus
	}
	return false
}

// AsRemoteError returns err as a RemoteError. Errors that were not
// classified by the API adapter are reported as remote status errors.
func AsRemoteError(op string, err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	return &RemoteError{Kind: KindRemoteStatus, Op: op, Err: err}
}

// APIError represents an error response from the API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}
