package stt

import "context"

// Recognizer is the hypothesis oracle the sync engine polls. The recognition
// engine itself lives elsewhere; this interface only asks for text.
type Recognizer interface {
	// Hypothesis returns the recognizer's current best transcription for the
	// session so far. It may be empty or blank; errors are transient.
	Hypothesis(ctx context.Context) (string, error)

	// FinalHypothesis returns the authoritative terminal transcription.
	// Called exactly once per session, at stop time.
	FinalHypothesis(ctx context.Context) (string, error)

	// ModelReady reports whether a speech model is loaded. Sessions may not
	// start until it returns true.
	ModelReady() bool
}
