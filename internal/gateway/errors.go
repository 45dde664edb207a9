package gateway

import "fmt"

// ValidationError reports malformed local input. It is raised before any
// write is attempted.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// WriteFailure reports that the backend rejected or could not receive an
// alert configuration write. The caller owns rollback and user
// notification; the write is never retried here.
type WriteFailure struct {
	DeviceID string
	Err      error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("alert config write for device %s failed: %v", e.DeviceID, e.Err)
}

func (e *WriteFailure) Unwrap() error {
	return e.Err
}
