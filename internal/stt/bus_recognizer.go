package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

// busRecognizer queries a recognizer service over NATS request/reply.
type busRecognizer struct {
	bus       *bus.Client
	sessionID func() string
	timeout   time.Duration
}

// NewBusRecognizer talks to a recognizer service on the bus. sessionID
// supplies the current session identifier for each request.
func NewBusRecognizer(busClient *bus.Client, cfg config.RecognizerConfig, sessionID func() string) Recognizer {
	return &busRecognizer{
		bus:       busClient,
		sessionID: sessionID,
		timeout:   time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
	}
}

func (r *busRecognizer) Hypothesis(ctx context.Context) (string, error) {
	return r.request(ctx, protocol.SubjectHypothesisCurrent, false)
}

func (r *busRecognizer) FinalHypothesis(ctx context.Context) (string, error) {
	return r.request(ctx, protocol.SubjectHypothesisFinal, true)
}

func (r *busRecognizer) ModelReady() bool {
	data, err := r.bus.Request(protocol.SubjectModelReady, nil, r.timeout)
	if err != nil {
		return false
	}
	var reply protocol.ModelReadyReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return false
	}
	return reply.Ready
}

func (r *busRecognizer) request(ctx context.Context, subject string, final bool) (string, error) {
	req := protocol.HypothesisRequest{SessionID: r.sessionID(), Final: final}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode hypothesis request: %w", err)
	}

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return "", ctx.Err()
	}

	data, err := r.bus.Request(subject, payload, timeout)
	if err != nil {
		return "", err
	}
	var reply protocol.HypothesisReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("decode hypothesis reply: %w", err)
	}
	return reply.Text, nil
}
