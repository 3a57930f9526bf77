// Package config loads service configuration from defaults, an optional
// YAML/JSON/TOML file and SAFETY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SAFETY_NEO4J_URL for neo4j.url.
const EnvPrefix = "SAFETY"

// Config holds all service configuration.
type Config struct {
	Port       string `mapstructure:"port" validate:"required,numeric"`
	CORSOrigin string `mapstructure:"cors_origin"`
	LogLevel   string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat  string `mapstructure:"log_format" validate:"oneof=json text"`

	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	GraphCode GraphCodeConfig `mapstructure:"graphcode"`
}

// Neo4jConfig locates the graph database.
type Neo4jConfig struct {
	URL      string `mapstructure:"url" validate:"required"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// NATSConfig enables change events when URL is set.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject" validate:"required"`
}

// QdrantConfig enables the similar-failure index when Addr is set.
type QdrantConfig struct {
	Addr       string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Collection string `mapstructure:"collection" validate:"required"`
	Dim        int    `mapstructure:"dim" validate:"min=1"`
}

// OllamaConfig locates the embedding model.
type OllamaConfig struct {
	URL   string `mapstructure:"url" validate:"omitempty,url"`
	Model string `mapstructure:"model"`
}

// RateLimitConfig bounds API throughput. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=0"`
}

// TracingConfig enables the stdout span exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name" validate:"required"`
}

// GraphCodeConfig tunes whole-graph export and import.
type GraphCodeConfig struct {
	BatchSize     int  `mapstructure:"batch_size" validate:"min=1,max=100000"`
	Workers       int  `mapstructure:"workers" validate:"min=1,max=256"`
	RetryAttempts int  `mapstructure:"retry_attempts" validate:"min=1,max=10"`
	Strict        bool `mapstructure:"strict"`
}

var defaults = map[string]any{
	"port":                     "8080",
	"cors_origin":              "*",
	"log_level":                "info",
	"log_format":               "json",
	"neo4j.url":                "neo4j://localhost:7687",
	"neo4j.user":               "neo4j",
	"neo4j.password":           "password",
	"neo4j.database":           "",
	"nats.url":                 "",
	"nats.subject":             "safety.changes",
	"qdrant.addr":              "",
	"qdrant.collection":        "failures",
	"qdrant.dim":               768,
	"ollama.url":               "http://localhost:11434",
	"ollama.model":             "nomic-embed-text",
	"rate_limit.rps":           50.0,
	"rate_limit.burst":         100,
	"tracing.enabled":          false,
	"tracing.service_name":     "safety-workbench",
	"graphcode.batch_size":     500,
	"graphcode.workers":        8,
	"graphcode.retry_attempts": 3,
	"graphcode.strict":         false,
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration. file may be empty; a named file that cannot be
// read is an error.
func Load(file string) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// NewLogger builds the process logger from level and format.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
