package inject

import "context"

// Injector delivers text to whatever window currently has input focus.
// Implementations must tolerate being called with the same text twice: the
// engine only retries deltas that were never confirmed committed.
type Injector interface {
	Inject(ctx context.Context, text string) error
}
