// Package secrets abstracts the named secret record the bootstrap
// writes and every other automation only reads. Exactly one writer
// exists per deployment, so Put carries overwrite semantics: one live
// value per name at any time.
package secrets

import "context"

// Store is the secret record access contract.
type Store interface {
	// Get returns the current value for name. When the record has no
	// usable value (bootstrap not done, record missing, store down) it
	// returns an error matching *errs.ErrCredentialUnavailable.
	Get(ctx context.Context, name string) (string, error)

	// Put overwrites the current value for name.
	Put(ctx context.Context, name, value string) error
}

// Pinger reports store reachability. Get folds "store down" into the
// credential-unavailable kind on purpose, so health surfaces that want
// to distinguish an outage from a record that simply has no value yet
// probe through this instead.
type Pinger interface {
	Ping(ctx context.Context, name string) error
}
