package session

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/engine"
	"github.com/loqalabs/loqa-dictate/internal/inject"
	"github.com/loqalabs/loqa-dictate/internal/journal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRecognizer struct {
	mu      sync.Mutex
	steps   []string
	idx     int
	final   string
	ready   bool
	queried bool
}

func (r *fakeRecognizer) Hypothesis(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.steps) == 0 {
		return "", nil
	}
	text := r.steps[r.idx]
	if r.idx < len(r.steps)-1 {
		r.idx++
	}
	return text, nil
}

func (r *fakeRecognizer) FinalHypothesis(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queried = true
	return r.final, nil
}

func (r *fakeRecognizer) ModelReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

type recordingSink struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSink) Inject(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *recordingSink) concat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out string
	for _, t := range s.texts {
		out += t
	}
	return out
}

func (s *recordingSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

func newController(rec *fakeRecognizer, sink inject.Injector) *Controller {
	return newControllerWith(rec, sink, nil)
}

func newControllerWith(rec *fakeRecognizer, sink inject.Injector, jrnl *journal.Journal) *Controller {
	log := testLogger()
	cfg := config.SyncConfig{PollIntervalMS: 10, FinalizeDelayMS: 0, FinalizeTimeoutMS: 1000}
	gate := inject.NewGate(sink, 0, log)
	eng := engine.New(cfg, rec, gate, nil, log)
	return NewController(cfg, rec, eng, nil, jrnl, log)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartRejectedWithoutModel(t *testing.T) {
	rec := &fakeRecognizer{ready: false}
	sink := &recordingSink{}
	c := newController(rec, sink)

	if err := c.Start(context.Background()); err != ErrNoModel {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected state idle, got %s", c.State())
	}
	if sink.calls() != 0 {
		t.Fatalf("expected no injections, got %d", sink.calls())
	}
}

func TestDoubleStartRejected(t *testing.T) {
	rec := &fakeRecognizer{ready: true}
	c := newController(rec, &recordingSink{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Cancel(context.Background())

	if err := c.Start(context.Background()); err != ErrSessionActive {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestStopFinalizesAgainstTerminalHypothesis(t *testing.T) {
	rec := &fakeRecognizer{
		ready: true,
		steps: []string{"hello", "hello"},
		final: "hello world",
	}
	sink := &recordingSink{}
	c := newController(rec, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State() != StateActive {
		t.Fatalf("expected state active, got %s", c.State())
	}

	// Let interim polling commit the stable prefix.
	waitFor(t, func() bool { return c.Committed() == "hello" })

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected state idle after stop, got %s", c.State())
	}
	if !rec.queried {
		t.Fatal("expected terminal hypothesis to be requested")
	}
	if sink.concat() != "hello world" {
		t.Fatalf("expected typed output %q, got %q", "hello world", sink.concat())
	}
}

func TestStopIsNoOpWhenIdle(t *testing.T) {
	rec := &fakeRecognizer{ready: true, final: "should not appear"}
	sink := &recordingSink{}
	c := newController(rec, sink)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.queried {
		t.Fatal("expected no terminal hypothesis fetch on idle stop")
	}
	if sink.calls() != 0 {
		t.Fatalf("expected no injections, got %d", sink.calls())
	}
}

func TestCancelInjectsNothingFurther(t *testing.T) {
	rec := &fakeRecognizer{
		ready: true,
		steps: []string{"one", "one two", "one two three", "one two three four"},
		final: "one two three four five",
	}
	sink := &recordingSink{}
	c := newController(rec, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return sink.calls() > 0 })

	if err := c.Cancel(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected state idle after cancel, got %s", c.State())
	}
	if rec.queried {
		t.Fatal("expected no terminal hypothesis fetch on cancel")
	}

	calls := sink.calls()
	time.Sleep(60 * time.Millisecond) // several poll intervals
	if sink.calls() != calls {
		t.Fatalf("expected no further injections after cancel, got %d new", sink.calls()-calls)
	}
	if c.Committed() != "" {
		t.Fatalf("expected session state discarded, got committed %q", c.Committed())
	}

	if err := c.Cancel(context.Background()); err != nil {
		t.Fatalf("re-entrant cancel should be a no-op, got %v", err)
	}
}

// heldSink blocks each call until released and honors its context, like an
// exec injector whose subprocess dies when its context is canceled.
type heldSink struct {
	mu      sync.Mutex
	texts   []string
	errs    []error
	entered chan struct{}
	release chan struct{}
}

func newHeldSink() *heldSink {
	return &heldSink{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (s *heldSink) Inject(ctx context.Context, text string) error {
	s.entered <- struct{}{}
	var err error
	select {
	case <-s.release:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
	if err == nil {
		s.texts = append(s.texts, text)
	}
	return err
}

func TestStopWaitsOutInFlightInjection(t *testing.T) {
	rec := &fakeRecognizer{
		ready: true,
		steps: []string{"hello", "hello"},
		final: "hello world",
	}
	sink := newHeldSink()
	c := newController(rec, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-sink.entered // "hello" is being typed

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(context.Background()) }()
	waitFor(t, func() bool { return c.State() != StateActive })

	// Stopping must not cut a keystroke sequence short. Release the sink
	// only after Stop has disarmed polling; the in-flight call must still
	// complete cleanly and its tokens must not be re-sent by finalization.
	close(sink.release)
	if err := <-stopped; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, err := range sink.errs {
		if err != nil {
			t.Fatalf("expected no sink call aborted by teardown, got %v", err)
		}
	}
	if len(sink.texts) != 2 || sink.texts[0] != "hello" || sink.texts[1] != " world" {
		t.Fatalf("expected sink calls [hello, \" world\"], got %v", sink.texts)
	}
}

func TestTeardownCannotWipeSuccessorSession(t *testing.T) {
	jrnl, err := journal.Open(context.Background(), config.JournalConfig{
		Enabled:     true,
		Path:        filepath.Join(t.TempDir(), "sessions.db"),
		MaxSessions: 1000,
	}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer jrnl.Close()

	rec := &fakeRecognizer{ready: true}
	c := newControllerWith(rec, &recordingSink{}, jrnl)

	// The journal write stretches the teardown window; a Start racing it
	// must end up with its own state intact, every time.
	for i := 0; i < 200; i++ {
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		stopped := make(chan struct{})
		go func() {
			_ = c.Stop(context.Background())
			close(stopped)
		}()

		for {
			err := c.Start(context.Background())
			if err == nil {
				break
			}
			if err != ErrSessionActive {
				t.Fatalf("iteration %d: %v", i, err)
			}
		}
		<-stopped

		if c.State() != StateActive {
			t.Fatalf("iteration %d: expected successor session active, got %s", i, c.State())
		}
		if c.engine.SessionID() == "" {
			t.Fatalf("iteration %d: successor session lost its state to the previous teardown", i)
		}
		if err := c.Cancel(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	rec := &fakeRecognizer{ready: true, steps: []string{"first", "first"}, final: "first"}
	sink := &recordingSink{}
	c := newController(rec, sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return c.Committed() == "first" })
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second session starts from empty committed text.
	rec.mu.Lock()
	rec.steps = []string{"second", "second"}
	rec.idx = 0
	rec.final = "second"
	rec.queried = false
	rec.mu.Unlock()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return c.Committed() == "second" })
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sink.concat() != "firstsecond" {
		t.Fatalf("expected each session typed independently, got %q", sink.concat())
	}
}
