package poller

import (
	"errors"

	"parcelwatch/internal/integrations"
)

var (
	// ErrCannotConnect is returned by Setup when credential validation fails
	// for any reason other than rejected credentials.
	ErrCannotConnect = errors.New("cannot connect")
	// ErrNotReady is returned by Setup when the first refresh fails. The
	// host may retry setup later.
	ErrNotReady = errors.New("first refresh failed")
	// ErrStopped is returned by Refresh after Shutdown.
	ErrStopped = errors.New("scheduler stopped")
)

// SetupValidationError reports that the remote service rejected the
// credentials during setup. Retrying with the same credentials is pointless.
type SetupValidationError struct {
	Err error
}

func (e *SetupValidationError) Error() string { return "invalid credentials: " + e.Err.Error() }
func (e *SetupValidationError) Unwrap() error { return e.Err }

// SetupErrorCode maps a Setup error to the short code shown to operators.
func SetupErrorCode(err error) string {
	var sv *SetupValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &sv):
		return "invalid_auth"
	case errors.Is(err, ErrCannotConnect), errors.Is(err, ErrNotReady), errors.Is(err, integrations.ErrTransport):
		return "cannot_connect"
	default:
		return "unknown"
	}
}
