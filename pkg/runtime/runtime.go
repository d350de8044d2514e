// Package runtime installs and drives the container runtime on the
// host. The bootstrap state machine only sees the interface; the
// docker implementation shells out, as there is no daemon API before
// the runtime itself is installed.
package runtime

import "context"

// Runtime is what the bootstrap needs from the host container stack.
type Runtime interface {
	// Install installs and enables the runtime. Idempotent when the
	// runtime is already present.
	Install(ctx context.Context) error

	// ComposeUp launches the services declared in the manifest at
	// path, detached. Start order is enforced by the manifest's
	// depends_on declarations, not by this call.
	ComposeUp(ctx context.Context, manifestPath string) error
}
