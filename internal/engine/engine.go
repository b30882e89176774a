package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/inject"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/stability"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Stats counts what happened during one session.
type Stats struct {
	Ticks           int64
	DeltasCommitted int64
	TokensCommitted int64
	Dropped         int64
	Failures        int64
}

// Engine reconciles the recognizer's revising hypothesis stream with the text
// already delivered to the injector. Committed text only ever grows by
// append; the recognizer may rewrite its trailing words between polls, but
// once a token has been typed there is no way to un-type it, so only tokens
// that survived two consecutive polls are committed.
type Engine struct {
	cfg  config.SyncConfig
	rec  stt.Recognizer
	gate *inject.Gate
	bus  *bus.Client
	log  *slog.Logger

	mu             sync.Mutex
	sessionID      string
	committed      []string
	lastHypothesis string
	stats          Stats

	meter        metric.Meter
	tickCount    metric.Int64Counter
	commitCount  metric.Int64Counter
	tokenCount   metric.Int64Counter
	dropCount    metric.Int64Counter
	failureCount metric.Int64Counter
}

func New(cfg config.SyncConfig, rec stt.Recognizer, gate *inject.Gate, busClient *bus.Client, log *slog.Logger) *Engine {
	e := &Engine{
		cfg:   cfg,
		rec:   rec,
		gate:  gate,
		bus:   busClient,
		log:   log.With(slog.String("component", "sync-engine")),
		meter: otel.Meter("github.com/loqalabs/loqa-dictate/engine"),
	}
	if err := e.initMetrics(); err != nil {
		e.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return e
}

func (e *Engine) initMetrics() error {
	var err error
	if e.tickCount, err = e.meter.Int64Counter("dictate.sync.ticks",
		metric.WithDescription("Poll ticks executed")); err != nil {
		return err
	}
	if e.commitCount, err = e.meter.Int64Counter("dictate.sync.deltas_committed",
		metric.WithDescription("Deltas confirmed injected")); err != nil {
		return err
	}
	if e.tokenCount, err = e.meter.Int64Counter("dictate.sync.tokens_committed",
		metric.WithDescription("Tokens confirmed injected")); err != nil {
		return err
	}
	if e.dropCount, err = e.meter.Int64Counter("dictate.sync.injections_dropped",
		metric.WithDescription("Deltas skipped because an injection was in flight")); err != nil {
		return err
	}
	if e.failureCount, err = e.meter.Int64Counter("dictate.sync.injection_failures",
		metric.WithDescription("Sink calls that failed")); err != nil {
		return err
	}
	return nil
}

// Reset clears all session state for a new session. Nothing carries over
// between sessions.
func (e *Engine) Reset(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionID = sessionID
	e.committed = nil
	e.lastHypothesis = ""
	e.stats = Stats{}
}

// SessionID returns the identifier of the current session.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Committed returns the text delivered to the injector so far.
func (e *Engine) Committed() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.committed, " ")
}

// SessionStats returns a snapshot of the session counters.
func (e *Engine) SessionStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Wait blocks until any in-flight injection resolves.
func (e *Engine) Wait() {
	e.gate.Wait()
}

// Tick runs one poll cycle: fetch the current hypothesis, compare it with the
// previous one, and hand any new stable delta to the gate. Recognizer errors
// and blank hypotheses make the tick a no-op.
//
// Ordering is load-bearing: the stability comparison must see the previous
// poll's hypothesis, and lastHypothesis must advance on every tick whether or
// not a delta was committed. Committed text advances only once the sink
// confirms. A dropped or failed injection leaves it where it was, so the
// same tokens fold into the next delta instead of being lost.
func (e *Engine) Tick(ctx context.Context) {
	if e.tickCount != nil {
		e.tickCount.Add(ctx, 1)
	}

	hypothesis, err := e.rec.Hypothesis(ctx)
	if err != nil {
		e.log.Debug("hypothesis fetch failed", slog.String("error", err.Error()))
		return
	}
	if strings.TrimSpace(hypothesis) == "" {
		return
	}

	e.mu.Lock()
	e.stats.Ticks++
	stable := stability.StablePrefix(hypothesis, e.lastHypothesis)
	e.lastHypothesis = hypothesis

	if len(stable) <= len(e.committed) {
		e.mu.Unlock()
		return
	}
	delta := stable[len(e.committed):]
	payload := strings.Join(delta, " ")
	if len(e.committed) > 0 {
		payload = " " + payload
	}
	sessionID := e.sessionID
	e.mu.Unlock()

	// A canceled session must not issue any further injection, even from a
	// tick that was already in flight when cancellation landed.
	if ctx.Err() != nil {
		return
	}

	accepted := e.gate.TryInject(payload, func(err error) {
		if err != nil {
			e.mu.Lock()
			e.stats.Failures++
			e.mu.Unlock()
			if e.failureCount != nil {
				e.failureCount.Add(context.Background(), 1)
			}
			return
		}
		e.mu.Lock()
		// The gate serializes injections, so committed has not moved since
		// this delta was computed.
		e.committed = stable
		e.stats.DeltasCommitted++
		e.stats.TokensCommitted += int64(len(delta))
		committedText := strings.Join(e.committed, " ")
		e.mu.Unlock()

		if e.commitCount != nil {
			e.commitCount.Add(context.Background(), 1)
		}
		if e.tokenCount != nil {
			e.tokenCount.Add(context.Background(), int64(len(delta)))
		}
		e.publishDelta(sessionID, payload, len(delta), committedText)
	})
	if !accepted {
		e.mu.Lock()
		e.stats.Dropped++
		e.mu.Unlock()
		if e.dropCount != nil {
			e.dropCount.Add(ctx, 1)
		}
		e.log.Debug("injection in flight, delta deferred to next tick")
	}
}

// Finalize reconciles the remaining uncommitted tail against the recognizer's
// terminal hypothesis. The terminal hypothesis is trusted in full, so this is
// a plain token tail-cut rather than a stability comparison. Best-effort: a
// short settle delay lets the target window regain focus, and a failure is
// logged but never retried.
func (e *Engine) Finalize(ctx context.Context, finalHypothesis string) {
	tokens := stability.Tokenize(finalHypothesis)

	e.mu.Lock()
	if len(tokens) <= len(e.committed) {
		e.mu.Unlock()
		return
	}
	delta := tokens[len(e.committed):]
	payload := strings.Join(delta, " ")
	if len(e.committed) > 0 {
		payload = " " + payload
	}
	sessionID := e.sessionID
	e.mu.Unlock()

	if delay := time.Duration(e.cfg.FinalizeDelayMS) * time.Millisecond; delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	if err := e.gate.Inject(ctx, payload); err != nil {
		e.mu.Lock()
		e.stats.Failures++
		e.mu.Unlock()
		if e.failureCount != nil {
			e.failureCount.Add(context.Background(), 1)
		}
		e.log.Warn("finalization injection failed", slog.String("error", err.Error()))
		return
	}

	e.mu.Lock()
	e.committed = tokens
	e.stats.DeltasCommitted++
	e.stats.TokensCommitted += int64(len(delta))
	committedText := strings.Join(e.committed, " ")
	e.mu.Unlock()

	if e.commitCount != nil {
		e.commitCount.Add(context.Background(), 1)
	}
	if e.tokenCount != nil {
		e.tokenCount.Add(context.Background(), int64(len(delta)))
	}
	e.publishDelta(sessionID, payload, len(delta), committedText)
}

func (e *Engine) publishDelta(sessionID, text string, tokens int, committed string) {
	if e.bus == nil {
		return
	}
	msg := protocol.DeltaCommitted{
		SessionID: sessionID,
		Text:      text,
		Tokens:    tokens,
		Committed: committed,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		e.log.Warn("failed to marshal delta event", slog.String("error", err.Error()))
		return
	}
	e.bus.Publish(protocol.SubjectDeltaCommitted, data)
}
