package protocol

import "time"

// SessionStarted announces a new dictation session to presentation layers.
type SessionStarted struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// DeltaCommitted reports a span of stable text delivered to the injector.
type DeltaCommitted struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Tokens    int       `json:"tokens"`
	Committed string    `json:"committed"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEnded announces session teardown. Reason is "stopped" or "canceled".
type SessionEnded struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	Committed string    `json:"committed"`
	Timestamp time.Time `json:"timestamp"`
}

// HypothesisRequest queries a recognizer service over the bus.
type HypothesisRequest struct {
	SessionID string `json:"session_id"`
	Final     bool   `json:"final"`
}

// HypothesisReply carries the recognizer's current best transcription.
type HypothesisReply struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ModelReadyReply answers a model readiness probe.
type ModelReadyReply struct {
	Ready bool `json:"ready"`
}

const (
	SubjectSessionStarted = "dictation.session.started"
	SubjectDeltaCommitted = "dictation.delta.committed"
	SubjectSessionEnded   = "dictation.session.ended"

	SubjectHypothesisCurrent = "stt.hypothesis.current"
	SubjectHypothesisFinal   = "stt.hypothesis.final"
	SubjectModelReady        = "stt.model.ready"

	ReasonStopped  = "stopped"
	ReasonCanceled = "canceled"
)
