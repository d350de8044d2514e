// Package blob abstracts read access to the challenge asset bucket.
// The sync handler only ever fetches single objects by bucket and key.
package blob

import "context"

// Store fetches object bytes.
type Store interface {
	// Get returns the object's content. Not-found and access-denied
	// conditions are reported as *errs.ErrObjectUnavailable.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}
