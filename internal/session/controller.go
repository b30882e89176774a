package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/engine"
	"github.com/loqalabs/loqa-dictate/internal/journal"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

// State of the session lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateActive     State = "active"
	StateFinalizing State = "finalizing"
)

var (
	// ErrNoModel rejects Start while no speech model is loaded.
	ErrNoModel = errors.New("no speech model loaded")
	// ErrSessionActive rejects Start while a session is already running.
	ErrSessionActive = errors.New("session already active")
)

// Controller drives the session lifecycle: idle -> active -> finalizing ->
// idle. Exactly one session runs at a time; one poll ticker drives the sync
// engine while the session is active.
type Controller struct {
	cfg     config.SyncConfig
	rec     stt.Recognizer
	engine  *engine.Engine
	bus     *bus.Client
	journal *journal.Journal
	log     *slog.Logger

	mu         sync.Mutex
	state      State
	cancelPoll context.CancelFunc
	pollDone   sync.WaitGroup
	startedAt  time.Time
}

func NewController(cfg config.SyncConfig, rec stt.Recognizer, eng *engine.Engine, busClient *bus.Client, jrnl *journal.Journal, log *slog.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		rec:     rec,
		engine:  eng,
		bus:     busClient,
		journal: jrnl,
		log:     log.With(slog.String("component", "session")),
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Committed returns the text committed so far, for display only.
func (c *Controller) Committed() string {
	return c.engine.Committed()
}

// Start begins a new dictation session. Fails with ErrNoModel when the
// recognizer has no model loaded and ErrSessionActive when a session is
// already running.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrSessionActive
	}
	if !c.rec.ModelReady() {
		return ErrNoModel
	}

	sessionID := uuid.NewString()
	c.engine.Reset(sessionID)
	c.state = StateActive
	c.startedAt = time.Now().UTC()

	pollCtx, cancel := context.WithCancel(context.Background())
	c.cancelPoll = cancel
	c.pollDone.Add(1)
	go c.poll(pollCtx)

	c.log.Info("session started",
		slog.String("session_id", sessionID),
		slog.Int("poll_interval_ms", c.cfg.PollIntervalMS))

	if c.journal != nil {
		if err := c.journal.RecordStart(ctx, sessionID, c.startedAt); err != nil {
			c.log.Warn("failed to journal session start", slog.String("error", err.Error()))
		}
	}
	c.publishStarted(sessionID)
	return nil
}

// Stop ends the active session and reconciles the remaining tail against the
// recognizer's terminal hypothesis. A no-op unless the session is active.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	c.state = StateFinalizing
	c.stopPollingLocked()
	c.mu.Unlock()

	// Let the in-flight injection, if any, settle before finalizing so the
	// terminal delta lands after the interim one.
	c.engine.Wait()

	finalCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.FinalizeTimeoutMS)*time.Millisecond)
	defer cancel()

	final, err := c.rec.FinalHypothesis(finalCtx)
	if err != nil {
		c.log.Warn("final hypothesis fetch failed", slog.String("error", err.Error()))
	} else {
		c.engine.Finalize(finalCtx, final)
	}

	c.finish(ctx, protocol.ReasonStopped)
	return nil
}

// Cancel aborts the active session without finalizing: no further text is
// injected. A no-op unless the session is active.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	c.state = StateFinalizing
	c.stopPollingLocked()
	c.mu.Unlock()

	c.engine.Wait()
	c.finish(ctx, protocol.ReasonCanceled)
	return nil
}

// Close tears down any active session. Used on daemon shutdown.
func (c *Controller) Close(ctx context.Context) {
	_ = c.Cancel(ctx)
}

// stopPollingLocked disarms the poll driver and waits for the poll goroutine
// to exit, so no tick can observe torn-down session state. Callers hold c.mu.
func (c *Controller) stopPollingLocked() {
	if c.cancelPoll != nil {
		c.cancelPoll()
		c.cancelPoll = nil
	}
	c.pollDone.Wait()
}

func (c *Controller) poll(ctx context.Context) {
	defer c.pollDone.Done()

	ticker := time.NewTicker(time.Duration(c.cfg.PollIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick can be queued when cancellation lands; recheck before
			// acting on it.
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.engine.Tick(ctx)
		}
	}
}

func (c *Controller) finish(ctx context.Context, reason string) {
	sessionID := c.engine.SessionID()
	committed := c.engine.Committed()
	stats := c.engine.SessionStats()

	c.mu.Lock()
	startedAt := c.startedAt
	c.mu.Unlock()

	c.log.Info("session ended",
		slog.String("session_id", sessionID),
		slog.String("reason", reason),
		slog.Int64("deltas", stats.DeltasCommitted),
		slog.Int64("tokens", stats.TokensCommitted),
		slog.Int64("dropped", stats.Dropped),
		slog.Int64("failures", stats.Failures))

	if c.journal != nil {
		rec := journal.SessionRecord{
			SessionID:       sessionID,
			StartedAt:       startedAt,
			EndedAt:         time.Now().UTC(),
			Reason:          reason,
			DeltasCommitted: stats.DeltasCommitted,
			TokensCommitted: stats.TokensCommitted,
			Dropped:         stats.Dropped,
			Failures:        stats.Failures,
		}
		if err := c.journal.RecordEnd(ctx, rec); err != nil {
			c.log.Warn("failed to journal session end", slog.String("error", err.Error()))
		}
	}
	c.publishEnded(sessionID, reason, committed)

	// Session state does not survive the session. The slot opens only after
	// the engine is cleared, so a Start racing this teardown cannot have its
	// fresh state wiped.
	c.mu.Lock()
	c.engine.Reset("")
	c.state = StateIdle
	c.mu.Unlock()
}

func (c *Controller) publishStarted(sessionID string) {
	if c.bus == nil {
		return
	}
	msg := protocol.SessionStarted{SessionID: sessionID, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Warn("failed to marshal session event", slog.String("error", err.Error()))
		return
	}
	c.bus.Publish(protocol.SubjectSessionStarted, data)
}

func (c *Controller) publishEnded(sessionID, reason, committed string) {
	if c.bus == nil {
		return
	}
	msg := protocol.SessionEnded{
		SessionID: sessionID,
		Reason:    reason,
		Committed: committed,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Warn("failed to marshal session event", slog.String("error", err.Error()))
		return
	}
	c.bus.Publish(protocol.SubjectSessionEnded, data)
}
