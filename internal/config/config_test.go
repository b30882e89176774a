package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sync.PollIntervalMS != 400 {
		t.Fatalf("expected default poll interval 400, got %d", cfg.Sync.PollIntervalMS)
	}
	if cfg.Recognizer.Mode != "mock" {
		t.Fatalf("expected default recognizer mode mock, got %q", cfg.Recognizer.Mode)
	}
	if cfg.Injector.Command != "wtype --" {
		t.Fatalf("expected default injector command, got %q", cfg.Injector.Command)
	}
	if cfg.Injector.InjectTimeoutMS != 10000 {
		t.Fatalf("expected default inject timeout 10000, got %d", cfg.Injector.InjectTimeoutMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DICTATE_SYNC_POLL_INTERVAL_MS", "250")
	t.Setenv("DICTATE_RECOGNIZER_MODE", "exec")
	t.Setenv("DICTATE_RECOGNIZER_COMMAND", "whisper-query --socket /tmp/whisper.sock")
	t.Setenv("DICTATE_RECOGNIZER_MODEL_PATH", "/models/ggml-base.bin")
	t.Setenv("DICTATE_INJECTOR_MODE", "exec")
	t.Setenv("DICTATE_INJECTOR_FOCUS_COMMAND", "hyprctl dispatch focuswindow address:0x1")
	t.Setenv("DICTATE_INJECTOR_FOCUS_DELAY_MS", "45")
	t.Setenv("DICTATE_INJECTOR_INJECT_TIMEOUT_MS", "2500")
	t.Setenv("DICTATE_JOURNAL_PATH", "./tmp.db")
	t.Setenv("DICTATE_JOURNAL_MAX_SESSIONS", "123")
	t.Setenv("DICTATE_BUS_ENABLED", "true")
	t.Setenv("DICTATE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("DICTATE_BUS_EMBEDDED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Sync.PollIntervalMS != 250 {
		t.Fatalf("expected poll interval 250, got %d", cfg.Sync.PollIntervalMS)
	}
	if cfg.Recognizer.Mode != "exec" {
		t.Fatalf("expected recognizer mode override")
	}
	if cfg.Recognizer.ModelPath != "/models/ggml-base.bin" {
		t.Fatalf("expected model path override, got %q", cfg.Recognizer.ModelPath)
	}
	if cfg.Injector.FocusDelayMS != 45 {
		t.Fatalf("expected focus delay override, got %d", cfg.Injector.FocusDelayMS)
	}
	if cfg.Injector.InjectTimeoutMS != 2500 {
		t.Fatalf("expected inject timeout override, got %d", cfg.Injector.InjectTimeoutMS)
	}
	if cfg.Journal.Path != "./tmp.db" {
		t.Fatalf("expected journal path override")
	}
	if cfg.Journal.MaxSessions != 123 {
		t.Fatalf("expected journal max sessions override")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("DICTATE_RECOGNIZER_MODE", "exec")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for recognizer mode=exec without command")
	}
}

func TestValidateRejectsBusRecognizerWithoutBus(t *testing.T) {
	t.Setenv("DICTATE_RECOGNIZER_MODE", "bus")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for recognizer mode=bus with bus disabled")
	}
}
