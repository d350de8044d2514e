// Package errs defines the error kinds shared by the bootstrap
// orchestrator and the challenge sync handler. Each kind wraps its
// cause in Sub so callers can both branch on the kind (errors.As) and
// keep the underlying detail for logs.
package errs

import "fmt"

// ErrFatalProvisioning is returned when a bootstrap step before the
// health probe fails. The host cannot recover from it in place and is
// expected to be relaunched.
type ErrFatalProvisioning struct {
	Step string
	Sub  error
}

func (e *ErrFatalProvisioning) Error() string {
	return fmt.Sprintf("fatal provisioning failure at step %s: %v", e.Step, e.Sub)
}

func (e *ErrFatalProvisioning) Unwrap() error { return e.Sub }

// ErrHealthTimeout is returned when the application never answered the
// liveness probe within the polling budget. Services keep running, the
// deployment is simply left uncredentialed.
type ErrHealthTimeout struct {
	Attempts int
	Sub      error
}

func (e *ErrHealthTimeout) Error() string {
	return fmt.Sprintf("application not healthy after %d attempts: %v", e.Attempts, e.Sub)
}

func (e *ErrHealthTimeout) Unwrap() error { return e.Sub }

// ErrCredentialUnavailable is returned when the secret record has no
// usable value, either because bootstrap has not completed or because
// the store is unreachable.
type ErrCredentialUnavailable struct {
	Name string
	Sub  error
}

func (e *ErrCredentialUnavailable) Error() string {
	return fmt.Sprintf("credential %q unavailable: %v", e.Name, e.Sub)
}

func (e *ErrCredentialUnavailable) Unwrap() error { return e.Sub }

// ErrObjectUnavailable is returned when a challenge asset cannot be
// fetched from the object store (not found or access denied).
type ErrObjectUnavailable struct {
	Bucket string
	Key    string
	Sub    error
}

func (e *ErrObjectUnavailable) Error() string {
	return fmt.Sprintf("object %s/%s unavailable: %v", e.Bucket, e.Key, e.Sub)
}

func (e *ErrObjectUnavailable) Unwrap() error { return e.Sub }

// ErrMalformedInput is returned when a challenge asset does not decode
// into challenge records. Nothing is applied in that case.
type ErrMalformedInput struct {
	Key string
	Sub error
}

func (e *ErrMalformedInput) Error() string {
	return fmt.Sprintf("malformed challenge asset %s: %v", e.Key, e.Sub)
}

func (e *ErrMalformedInput) Unwrap() error { return e.Sub }

// ErrDuplicate is returned when the application refuses a challenge
// because one with the same name already exists. Expected on event
// re-delivery, and handled as a per-record failure.
type ErrDuplicate struct {
	Name string
	Sub  error
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("challenge %q already exists: %v", e.Name, e.Sub)
}

func (e *ErrDuplicate) Unwrap() error { return e.Sub }

// ErrInternal wraps everything that does not fit a more precise kind.
type ErrInternal struct {
	Sub error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal error: %v", e.Sub)
}

func (e *ErrInternal) Unwrap() error { return e.Sub }
