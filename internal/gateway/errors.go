package gateway

import "fmt"

// AuthError reports a credential acquisition failure. These are typically
// configuration problems an operator has to fix, so the upstream status and
// body are preserved for diagnostics.
type AuthError struct {
	Status int
	Body   string
	Reason string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason != "" {
		return fmt.Sprintf("gateway auth failed: %s", e.Reason)
	}
	return fmt.Sprintf("gateway auth failed: status %d", e.Status)
}

// Error reports a failed gateway operation other than authentication.
type Error struct {
	Op     string
	Status int
	Body   string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s: status %d", e.Op, e.Status)
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
