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

type Config struct {
	ServiceName string            `yaml:"service_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Engine      EngineConfig      `yaml:"engine"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
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

type EngineConfig struct {
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	SampleRate     int    `yaml:"sample_rate"`
	MockFinalEvery int    `yaml:"mock_final_every"`
}

type TranscriptsConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		ServiceName: "speechd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5001,
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
		Engine: EngineConfig{
			Mode:           "mock",
			ModelPath:      "./models/vosk-model-small-en-us-0.15",
			SampleRate:     16000,
			MockFinalEvery: 0,
		},
		Transcripts: TranscriptsConfig{
			Path:          "./data/transcripts.db",
			RetentionMode: "session",
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
	overrideString(&cfg.ServiceName, "SPEECHD_SERVICE_NAME")
	overrideString(&cfg.Environment, "SPEECHD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SPEECHD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SPEECHD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SPEECHD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SPEECHD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SPEECHD_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "SPEECHD_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SPEECHD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SPEECHD_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SPEECHD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SPEECHD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SPEECHD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SPEECHD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SPEECHD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SPEECHD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Engine.Mode, "SPEECHD_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "SPEECHD_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "SPEECHD_ENGINE_MODEL_PATH")
	overrideInt(&cfg.Engine.SampleRate, "SPEECHD_ENGINE_SAMPLE_RATE")
	overrideInt(&cfg.Engine.MockFinalEvery, "SPEECHD_ENGINE_MOCK_FINAL_EVERY")
	overrideString(&cfg.Transcripts.Path, "SPEECHD_TRANSCRIPTS_PATH")
	overrideString(&cfg.Transcripts.RetentionMode, "SPEECHD_TRANSCRIPTS_RETENTION_MODE")
	overrideInt(&cfg.Transcripts.RetentionDays, "SPEECHD_TRANSCRIPTS_RETENTION_DAYS")
	overrideInt(&cfg.Transcripts.MaxSessions, "SPEECHD_TRANSCRIPTS_MAX_SESSIONS")
	overrideBool(&cfg.Transcripts.VacuumOnStart, "SPEECHD_TRANSCRIPTS_VACUUM_ON_START")
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
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if cfg.Engine.MockFinalEvery < 0 {
		return errors.New("engine.mock_final_every must be >= 0")
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
	if cfg.Transcripts.Path == "" {
		return errors.New("transcripts.path must not be empty")
	}
	switch cfg.Transcripts.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("transcripts.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Transcripts.RetentionDays < 0 {
		return errors.New("transcripts.retention_days must be >= 0")
	}
	return nil
}
