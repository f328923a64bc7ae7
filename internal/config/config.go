// Package config loads gateway settings from defaults, an optional YAML
// file, a .env file and the process environment, in increasing precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the optional YAML settings file.
const EnvConfigPath = "GATEWAY_CONFIG"

// Config holds all configuration for the gateway.
type Config struct {
	Port      int             `yaml:"port"`
	Version   string          `yaml:"version"`
	Backend   BackendConfig   `yaml:"backend"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// AllowedOrigins feeds the CORS handler. "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type BackendConfig struct {
	OllamaURL string        `yaml:"ollama_url"`
	ModelName string        `yaml:"model_name"`
	Timeout   time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	RPM    int           `yaml:"rpm"`
	Window time.Duration `yaml:"window"`
	// SweepInterval is how often idle client keys are dropped. Zero
	// disables the sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type GuardrailConfig struct {
	MaxInputLength int `yaml:"max_input_length"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:    8000,
		Version: "0.1.0",
		Backend: BackendConfig{
			OllamaURL: "http://localhost:11434",
			ModelName: "llama3:8b",
			Timeout:   30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RPM:           60,
			Window:        60 * time.Second,
			SweepInterval: 5 * time.Minute,
		},
		Guardrail: GuardrailConfig{
			MaxInputLength: 10000,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "llm-gateway",
		},
		AllowedOrigins: []string{"*"},
	}
}

// Load reads configuration with sensible defaults. A missing .env file is
// not an error; a named YAML file that cannot be read or parsed is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := envStr(EnvConfigPath, ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.Version = envStr("GATEWAY_VERSION", c.Version)

	c.Backend.OllamaURL = strings.TrimRight(envStr("OLLAMA_URL", c.Backend.OllamaURL), "/")
	c.Backend.ModelName = envStr("MODEL_NAME", c.Backend.ModelName)
	c.Backend.Timeout = envDuration("LLM_TIMEOUT", c.Backend.Timeout)

	c.RateLimit.RPM = envInt("RATE_LIMIT_RPM", c.RateLimit.RPM)
	c.RateLimit.Window = envDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.RateLimit.SweepInterval = envDuration("RATE_LIMIT_SWEEP_INTERVAL", c.RateLimit.SweepInterval)

	c.Guardrail.MaxInputLength = envInt("MAX_INPUT_LENGTH", c.Guardrail.MaxInputLength)

	c.Log.Level = strings.ToUpper(envStr("LOG_LEVEL", c.Log.Level))
	c.Log.Format = strings.ToLower(envStr("LOG_FORMAT", c.Log.Format))

	c.Telemetry.Enabled = envBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)

	c.AllowedOrigins = envList("ALLOWED_ORIGINS", c.AllowedOrigins)
}

var validLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "WARN": true, "ERROR": true, "CRITICAL": true,
}

// Validate reports the first setting that the gateway cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.Backend.OllamaURL == "":
		return errors.New("ollama url must not be empty")
	case c.Backend.ModelName == "":
		return errors.New("model name must not be empty")
	case c.Backend.Timeout <= 0:
		return fmt.Errorf("llm timeout must be positive, got %s", c.Backend.Timeout)
	case c.RateLimit.RPM <= 0:
		return fmt.Errorf("rate limit rpm must be positive, got %d", c.RateLimit.RPM)
	case c.RateLimit.Window < time.Second:
		return fmt.Errorf("rate limit window must be at least 1s, got %s", c.RateLimit.Window)
	case c.RateLimit.SweepInterval < 0:
		return fmt.Errorf("rate limit sweep interval must not be negative, got %s", c.RateLimit.SweepInterval)
	case c.Guardrail.MaxInputLength <= 0:
		return fmt.Errorf("max input length must be positive, got %d", c.Guardrail.MaxInputLength)
	case !validLogLevels[strings.ToUpper(c.Log.Level)]:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// lookupEnv matches keys case-insensitively, preferring an exact match.
func lookupEnv(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func envStr(key, fallback string) string {
	if v, ok := lookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := envStr(key, ""); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := envStr(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("45s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := envStr(key, "")
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return fallback
}

// envList accepts a JSON array or a comma-separated list.
func envList(key string, fallback []string) []string {
	v := envStr(key, "")
	if v == "" {
		return fallback
	}
	var items []string
	if strings.HasPrefix(v, "[") {
		if err := json.Unmarshal([]byte(v), &items); err != nil {
			return fallback
		}
	} else {
		items = strings.Split(v, ",")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
