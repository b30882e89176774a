package inject

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/mattn/go-shellwords"
)

type execInjector struct {
	cmd        []string
	focusCmd   []string
	focusDelay time.Duration
	mu         sync.Mutex
}

// NewExecInjector builds an injector around a typing command such as
// "wtype --". The text is appended as the final argument. An optional focus
// command (e.g. a compositor dispatch) runs first, followed by a short delay
// so the target window regains input focus before typing begins.
func NewExecInjector(cfg config.InjectorConfig) (Injector, error) {
	parser := shellwords.NewParser()
	cmd, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse injector command: %w", err)
	}
	if len(cmd) == 0 {
		return nil, fmt.Errorf("injector command is empty")
	}

	var focusCmd []string
	if cfg.FocusCommand != "" {
		focusCmd, err = parser.Parse(cfg.FocusCommand)
		if err != nil {
			return nil, fmt.Errorf("parse injector focus command: %w", err)
		}
	}

	return &execInjector{
		cmd:        cmd,
		focusCmd:   focusCmd,
		focusDelay: time.Duration(cfg.FocusDelayMS) * time.Millisecond,
	}, nil
}

func (i *execInjector) Inject(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.focusCmd) > 0 {
		// Focus failures are tolerated: typing into the current window is
		// better than losing the delta.
		cmd := exec.CommandContext(ctx, i.focusCmd[0], i.focusCmd[1:]...)
		_ = cmd.Run()
		if i.focusDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(i.focusDelay):
			}
		}
	}

	args := append(append([]string{}, i.cmd[1:]...), text)
	cmd := exec.CommandContext(ctx, i.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("injector command failed: %w: %s", err, stderr.String())
	}
	return nil
}
