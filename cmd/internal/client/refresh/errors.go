package refresh

import (
	"errors"

	"portal/cmd/internal/client/transport"
)

// ErrRefreshFailed matches every *RefreshError via errors.Is.
var ErrRefreshFailed = errors.New("session refresh failed")

// errRefreshAborted resolves waiters when the leader exits without an outcome (panic).
var errRefreshAborted = errors.New("session refresh aborted")

// RefreshError is returned to the leader and to every waiter of a failed refresh cycle.
//
// It unwraps to both the refresh failure and the original 401, so errors.As
// finds the refresh failure first while errors.Is still matches either.
type RefreshError struct {
	Refresh  error
	Original *transport.APIError
}

func (e *RefreshError) Error() string {
	if e.Refresh == nil {
		return ErrRefreshFailed.Error()
	}
	return ErrRefreshFailed.Error() + ": " + e.Refresh.Error()
}

func (e *RefreshError) Unwrap() []error {
	errs := []error{ErrRefreshFailed}
	if e.Refresh != nil {
		errs = append(errs, e.Refresh)
	}
	if e.Original != nil {
		errs = append(errs, e.Original)
	}
	return errs
}
