package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type RecognizerConfig struct {
	Mode             string `yaml:"mode"` // mock, exec, bus
	Command          string `yaml:"command"`
	ModelPath        string `yaml:"model_path"`
	Language         string `yaml:"language"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

type InjectorConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	FocusCommand    string `yaml:"focus_command"`
	FocusDelayMS    int    `yaml:"focus_delay_ms"`
	InjectTimeoutMS int    `yaml:"inject_timeout_ms"`
}

type SyncConfig struct {
	PollIntervalMS    int `yaml:"poll_interval_ms"`
	FinalizeDelayMS   int `yaml:"finalize_delay_ms"`
	FinalizeTimeoutMS int `yaml:"finalize_timeout_ms"`
}

type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Injector    InjectorConfig   `yaml:"injector"`
	Sync        SyncConfig       `yaml:"sync"`
	Journal     JournalConfig    `yaml:"journal"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8099,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Recognizer: RecognizerConfig{
			Mode:             "mock",
			Language:         "auto",
			RequestTimeoutMS: 1500,
		},
		Injector: InjectorConfig{
			Mode:            "mock",
			Command:         "wtype --",
			FocusDelayMS:    30,
			InjectTimeoutMS: 10000,
		},
		Sync: SyncConfig{
			PollIntervalMS:    400,
			FinalizeDelayMS:   50,
			FinalizeTimeoutMS: 5000,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          "./data/loqa-dictate.db",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "DICTATE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "DICTATE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "DICTATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DICTATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "DICTATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DICTATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DICTATE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "DICTATE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "DICTATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "DICTATE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "DICTATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "DICTATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "DICTATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "DICTATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "DICTATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "DICTATE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Recognizer.Mode, "DICTATE_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "DICTATE_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.ModelPath, "DICTATE_RECOGNIZER_MODEL_PATH")
	overrideString(&cfg.Recognizer.Language, "DICTATE_RECOGNIZER_LANGUAGE")
	overrideInt(&cfg.Recognizer.RequestTimeoutMS, "DICTATE_RECOGNIZER_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Injector.Mode, "DICTATE_INJECTOR_MODE")
	overrideString(&cfg.Injector.Command, "DICTATE_INJECTOR_COMMAND")
	overrideString(&cfg.Injector.FocusCommand, "DICTATE_INJECTOR_FOCUS_COMMAND")
	overrideInt(&cfg.Injector.FocusDelayMS, "DICTATE_INJECTOR_FOCUS_DELAY_MS")
	overrideInt(&cfg.Injector.InjectTimeoutMS, "DICTATE_INJECTOR_INJECT_TIMEOUT_MS")
	overrideInt(&cfg.Sync.PollIntervalMS, "DICTATE_SYNC_POLL_INTERVAL_MS")
	overrideInt(&cfg.Sync.FinalizeDelayMS, "DICTATE_SYNC_FINALIZE_DELAY_MS")
	overrideInt(&cfg.Sync.FinalizeTimeoutMS, "DICTATE_SYNC_FINALIZE_TIMEOUT_MS")
	overrideBool(&cfg.Journal.Enabled, "DICTATE_JOURNAL_ENABLED")
	overrideString(&cfg.Journal.Path, "DICTATE_JOURNAL_PATH")
	overrideInt(&cfg.Journal.RetentionDays, "DICTATE_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "DICTATE_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "DICTATE_JOURNAL_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Recognizer.Mode {
	case "mock", "exec", "bus":
	default:
		return errors.New("recognizer.mode must be one of mock|exec|bus")
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.Mode == "bus" && !cfg.Bus.Enabled {
		return errors.New("recognizer.mode=bus requires bus.enabled")
	}
	if cfg.Recognizer.RequestTimeoutMS <= 0 {
		return errors.New("recognizer.request_timeout_ms must be positive")
	}
	switch cfg.Injector.Mode {
	case "mock", "exec":
	default:
		return errors.New("injector.mode must be one of mock|exec")
	}
	if cfg.Injector.Mode == "exec" && cfg.Injector.Command == "" {
		return errors.New("injector.command must be set when mode=exec")
	}
	if cfg.Injector.FocusDelayMS < 0 {
		return errors.New("injector.focus_delay_ms must be >= 0")
	}
	if cfg.Injector.InjectTimeoutMS < 0 {
		return errors.New("injector.inject_timeout_ms must be >= 0")
	}
	if cfg.Sync.PollIntervalMS <= 0 {
		return errors.New("sync.poll_interval_ms must be positive")
	}
	if cfg.Sync.FinalizeDelayMS < 0 {
		return errors.New("sync.finalize_delay_ms must be >= 0")
	}
	if cfg.Sync.FinalizeTimeoutMS <= 0 {
		return errors.New("sync.finalize_timeout_ms must be positive")
	}
	if cfg.Journal.Enabled {
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty when journal is enabled")
		}
		if cfg.Journal.RetentionDays < 0 {
			return errors.New("journal.retention_days must be >= 0")
		}
	}
	return nil
}
