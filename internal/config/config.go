// Package config loads hitlflow's runtime configuration from hitlflow.yaml
// and HITLFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	BodyLimit       string        `mapstructure:"body_limit"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// EntityLink renders entity links in chat blocks. {class} and {id} are
	// substituted; empty disables links.
	EntityLink string `mapstructure:"entity_link"`
}

// DatabaseConfig locates the SQLite ledger.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// PersistenceConfig selects where interrupted workflows are parked.
type PersistenceConfig struct {
	Driver      string        `mapstructure:"driver"`
	TTL         time.Duration `mapstructure:"ttl"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
}

// HistoryConfig selects where chat transcripts live.
type HistoryConfig struct {
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// BillingConfig names the models the governor picks between.
type BillingConfig struct {
	DefaultModel       string  `mapstructure:"default_model"`
	FreeModel          string  `mapstructure:"free_model"`
	MonthlyFreeCredits float64 `mapstructure:"monthly_free_credits"`
}

// LLMConfig points at an OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint64        `mapstructure:"max_retries"`
}

// AgentConfig is one named assistant.
type AgentConfig struct {
	Instructions string   `mapstructure:"instructions"`
	Tools        []string `mapstructure:"tools"`
}

// AgentsConfig maps entity classes to agents.
type AgentsConfig struct {
	Mapping  map[string]string      `mapstructure:"mapping"`
	Profiles map[string]AgentConfig `mapstructure:"profiles"`
}

// AuthConfig enables OIDC in addition to API tokens.
type AuthConfig struct {
	OIDCIssuer   string `mapstructure:"oidc_issuer"`
	OIDCClientID string `mapstructure:"oidc_client_id"`
}

// BatchConfig bounds the unattended generator.
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	Limit       int `mapstructure:"limit"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config holds the service's runtime configuration.
type Config struct {
	Server             ServerConfig      `mapstructure:"server"`
	Database           DatabaseConfig    `mapstructure:"database"`
	Persistence        PersistenceConfig `mapstructure:"persistence"`
	History            HistoryConfig     `mapstructure:"history"`
	Billing            BillingConfig     `mapstructure:"billing"`
	LLM                LLMConfig         `mapstructure:"llm"`
	Agents             AgentsConfig      `mapstructure:"agents"`
	Auth               AuthConfig        `mapstructure:"auth"`
	RateLimitPerMinute int               `mapstructure:"rate_limit_per_minute"`
	Batch              BatchConfig       `mapstructure:"batch"`
	Logging            LoggingConfig     `mapstructure:"logging"`
}

// EnvPrefix prefixes environment overrides, e.g. HITLFLOW_LLM_API_KEY.
const EnvPrefix = "HITLFLOW"

var (
	persistenceDrivers = []string{"memory", "sqlite", "redis", "postgres"}
	historyDrivers     = []string{"memory", "redis"}
	logFormats         = []string{"json", "text"}
	logLevels          = []string{"debug", "info", "warn", "error"}
)

// Load reads path, or hitlflow.yaml from . and /etc/hitlflow when path is
// empty, overlays the environment, applies defaults, and validates. A missing
// default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hitlflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hitlflow")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override keys
// absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":9800")
	v.SetDefault("server.body_limit", "1M")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.entity_link", "")
	v.SetDefault("database.path", "hitlflow.db")
	v.SetDefault("persistence.driver", "sqlite")
	v.SetDefault("persistence.ttl", "1h")
	v.SetDefault("persistence.key_prefix", "agent_workflow_")
	v.SetDefault("persistence.redis_addr", "")
	v.SetDefault("persistence.postgres_dsn", "")
	v.SetDefault("history.driver", "memory")
	v.SetDefault("history.ttl", "1h")
	v.SetDefault("billing.default_model", "")
	v.SetDefault("billing.free_model", "")
	v.SetDefault("billing.monthly_free_credits", 2.00)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("auth.oidc_issuer", "")
	v.SetDefault("auth.oidc_client_id", "")
	v.SetDefault("rate_limit_per_minute", 60)
	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("batch.limit", 100)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c *Config) applyDefaults() {
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 60
	}
	if c.Batch.Concurrency <= 0 {
		c.Batch.Concurrency = 5
	}
	if c.Agents.Mapping == nil {
		c.Agents.Mapping = map[string]string{}
	}
	if c.Agents.Profiles == nil {
		c.Agents.Profiles = map[string]AgentConfig{}
	}
	if _, ok := c.Agents.Profiles["default"]; !ok {
		c.Agents.Profiles["default"] = AgentConfig{
			Instructions: "You are a helpful assistant for this site.",
			Tools:        []string{"GetCurrentDateTime"},
		}
	}
	c.Auth.OIDCIssuer = strings.TrimRight(strings.TrimSpace(c.Auth.OIDCIssuer), "/")
	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

func (c *Config) validate() error {
	var problems []string

	if c.Database.Path == "" {
		problems = append(problems, "database.path is required")
	}
	if !oneOf(c.Persistence.Driver, persistenceDrivers) {
		problems = append(problems, fmt.Sprintf("persistence.driver must be one of %v", persistenceDrivers))
	}
	if c.Persistence.Driver == "redis" && c.Persistence.RedisAddr == "" {
		problems = append(problems, "persistence.redis_addr is required for the redis driver")
	}
	if c.Persistence.Driver == "postgres" && c.Persistence.PostgresDSN == "" {
		problems = append(problems, "persistence.postgres_dsn is required for the postgres driver")
	}
	if !oneOf(c.History.Driver, historyDrivers) {
		problems = append(problems, fmt.Sprintf("history.driver must be one of %v", historyDrivers))
	}
	if c.History.Driver == "redis" && c.Persistence.RedisAddr == "" {
		problems = append(problems, "persistence.redis_addr is required for redis history")
	}
	if c.Billing.MonthlyFreeCredits < 0 {
		problems = append(problems, "billing.monthly_free_credits must not be negative")
	}
	for class, agent := range c.Agents.Mapping {
		if _, ok := c.Agents.Profiles[agent]; !ok {
			problems = append(problems, fmt.Sprintf("agents.mapping.%s names unknown agent %q", class, agent))
		}
	}
	if c.Auth.OIDCIssuer != "" && c.Auth.OIDCClientID == "" {
		problems = append(problems, "auth.oidc_client_id is required with auth.oidc_issuer")
	}
	if !oneOf(c.Logging.Level, logLevels) {
		problems = append(problems, fmt.Sprintf("logging.level must be one of %v", logLevels))
	}
	if !oneOf(c.Logging.Format, logFormats) {
		problems = append(problems, fmt.Sprintf("logging.format must be one of %v", logFormats))
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
