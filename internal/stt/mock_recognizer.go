package stt

import (
	"context"
	"sync"
)

type mockRecognizer struct {
	mu    sync.Mutex
	steps []string
	idx   int
}

// NewMockRecognizer replays a scripted sequence of hypotheses, one per poll,
// holding the last one once exhausted. The last entry doubles as the final
// hypothesis. With no script it stays silent and reports the model ready.
func NewMockRecognizer(steps ...string) Recognizer {
	if len(steps) == 0 {
		steps = []string{
			"testing",
			"testing one",
			"testing one too",
			"testing one two",
			"testing one two three",
		}
	}
	return &mockRecognizer{steps: steps}
}

func (m *mockRecognizer) Hypothesis(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text := m.steps[m.idx]
	if m.idx < len(m.steps)-1 {
		m.idx++
	}
	return text, nil
}

func (m *mockRecognizer) FinalHypothesis(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[len(m.steps)-1], nil
}

func (m *mockRecognizer) ModelReady() bool {
	return true
}
