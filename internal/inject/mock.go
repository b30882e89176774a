package inject

import (
	"context"
	"log/slog"
)

type mockInjector struct {
	log *slog.Logger
}

// NewMockInjector logs injected text instead of typing it. Used in
// development mode and demos.
func NewMockInjector(log *slog.Logger) Injector {
	return &mockInjector{log: log}
}

func (m *mockInjector) Inject(_ context.Context, text string) error {
	m.log.Info("mock inject", slog.String("text", text))
	return nil
}
