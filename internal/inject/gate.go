package inject

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusy is returned by Inject when another injection is still in flight.
var ErrBusy = errors.New("injection already in flight")

// Gate serializes delivery to the sink: at most one injection call is in
// flight at any time. Policy is drop-newest-if-busy: an overlapping request
// is rejected rather than queued, and the caller's unadvanced committed state
// naturally folds the skipped text into the next delta.
type Gate struct {
	sink    Injector
	timeout time.Duration
	log     *slog.Logger
	busy    atomic.Bool
	wg      sync.WaitGroup
}

// NewGate wraps sink. timeout bounds each asynchronous sink call; zero means
// no bound.
func NewGate(sink Injector, timeout time.Duration, log *slog.Logger) *Gate {
	return &Gate{sink: sink, timeout: timeout, log: log}
}

// TryInject attempts to deliver text. Returns false immediately when an
// injection is in flight. When accepted, the sink call runs on its own
// goroutine because the sink may block on the host input system; done is
// invoked with the sink result before the gate frees up, so a caller that
// advances its committed state in done never races the next accepted request.
//
// The sink call runs under the gate's own timeout context rather than the
// caller's. Tearing down the caller must not abort a keystroke sequence the
// sink is already typing into the target window.
func (g *Gate) TryInject(text string, done func(error)) bool {
	if !g.busy.CompareAndSwap(false, true) {
		return false
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx := context.Background()
		cancel := func() {}
		if g.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
		}
		defer cancel()
		err := g.sink.Inject(ctx, text)
		if err != nil {
			g.log.Warn("injection failed", slog.String("error", err.Error()))
		}
		if done != nil {
			done(err)
		}
		g.busy.Store(false)
	}()
	return true
}

// Inject delivers text synchronously. Used for the one-shot finalization
// injection, which is best-effort and never retried.
func (g *Gate) Inject(ctx context.Context, text string) error {
	if !g.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer g.busy.Store(false)
	return g.sink.Inject(ctx, text)
}

// Busy reports whether an injection is currently in flight.
func (g *Gate) Busy() bool {
	return g.busy.Load()
}

// Wait blocks until any in-flight injection resolves.
func (g *Gate) Wait() {
	g.wg.Wait()
}
