package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/mattn/go-shellwords"
)

// execRecognizer queries a recognizer helper process per poll. The helper is
// expected to hold the audio session and reply with JSON {"text": ...} on
// stdout. --current asks for the interim hypothesis, --final for the
// terminal one.
type execRecognizer struct {
	cmd []string
	cfg config.RecognizerConfig
	mu  sync.Mutex
}

type execReply struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.RecognizerConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Hypothesis(ctx context.Context) (string, error) {
	return r.query(ctx, "--current")
}

func (r *execRecognizer) FinalHypothesis(ctx context.Context) (string, error) {
	return r.query(ctx, "--final")
}

// ModelReady mirrors the helper's load gate: the configured model file must
// exist on disk.
func (r *execRecognizer) ModelReady() bool {
	if r.cfg.ModelPath == "" {
		return false
	}
	_, err := os.Stat(r.cfg.ModelPath)
	return err == nil
}

func (r *execRecognizer) query(ctx context.Context, mode string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, mode)
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" && r.cfg.Language != "auto" {
		args = append(args, "--language", r.cfg.Language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("recognizer command failed: %w: %s", err, stderr.String())
	}

	var reply execReply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
		return "", fmt.Errorf("decode recognizer reply: %w", err)
	}
	return reply.Text, nil
}
