package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hitlflow/hitlflow/internal/domain"
)

const validYAML = `
server:
  listen_addr: ":9900"
  entity_link: "/admin/{class}/{id}"
database:
  path: /tmp/hitlflow-test.db
persistence:
  driver: memory
  ttl: 30m
billing:
  default_model: paid-large
  free_model: free-small
  monthly_free_credits: 1.5
llm:
  base_url: "https://llm.example.com/v1/"
agents:
  mapping:
    Article: editor
  profiles:
    editor:
      instructions: "You edit articles."
      tools: [GetEntity, UpdateEntityContent]
logging:
  level: DEBUG
  format: text
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "hitlflow.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9900" {
		t.Errorf("ListenAddr = %q, want :9900", cfg.Server.ListenAddr)
	}
	if cfg.Persistence.Driver != "memory" || cfg.Persistence.TTL != 30*time.Minute {
		t.Errorf("Persistence = %+v", cfg.Persistence)
	}
	if cfg.Billing.MonthlyFreeCredits != 1.5 {
		t.Errorf("MonthlyFreeCredits = %v, want 1.5", cfg.Billing.MonthlyFreeCredits)
	}
	if cfg.LLM.BaseURL != "https://llm.example.com/v1" {
		t.Errorf("BaseURL = %q, trailing slash not trimmed", cfg.LLM.BaseURL)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if got := cfg.Agents.Mapping["article"]; got != "editor" {
		t.Errorf("mapping[article] = %q, want editor", got)
	}
	if tools := cfg.Agents.Profiles["editor"].Tools; len(tools) != 2 {
		t.Errorf("editor tools = %v", tools)
	}
	if _, ok := cfg.Agents.Profiles["default"]; !ok {
		t.Error("default profile was not added")
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9800" {
		t.Errorf("ListenAddr = %q, want :9800", cfg.Server.ListenAddr)
	}
	if cfg.Persistence.Driver != "sqlite" {
		t.Errorf("Persistence.Driver = %q, want sqlite", cfg.Persistence.Driver)
	}
	if cfg.Persistence.TTL != time.Hour {
		t.Errorf("Persistence.TTL = %v, want 1h", cfg.Persistence.TTL)
	}
	if cfg.Billing.MonthlyFreeCredits != 2.0 {
		t.Errorf("MonthlyFreeCredits = %v, want 2.0", cfg.Billing.MonthlyFreeCredits)
	}
	if cfg.LLM.Timeout != 120*time.Second || cfg.LLM.MaxRetries != 3 {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.RateLimitPerMinute != 60 {
		t.Errorf("RateLimitPerMinute = %d, want 60", cfg.RateLimitPerMinute)
	}
	if cfg.Batch.Concurrency != 5 || cfg.Batch.Limit != 100 {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HITLFLOW_LLM_API_KEY", "sk-test")
	t.Setenv("HITLFLOW_SERVER_LISTEN_ADDR", ":7000")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", cfg.LLM.APIKey)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("ListenAddr = %q, want env value :7000", cfg.Server.ListenAddr)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown driver", "persistence:\n  driver: etcd\n", "persistence.driver"},
		{"redis without addr", "persistence:\n  driver: redis\n", "redis_addr"},
		{"postgres without dsn", "persistence:\n  driver: postgres\n", "postgres_dsn"},
		{"redis history without addr", "history:\n  driver: redis\n", "redis history"},
		{"unknown agent", "agents:\n  mapping:\n    Article: ghost\n", "unknown agent"},
		{"oidc without client", "auth:\n  oidc_issuer: https://id.example.com\n", "oidc_client_id"},
		{"bad log level", "logging:\n  level: loud\n", "logging.level"},
		{"negative credits", "billing:\n  monthly_free_credits: -1\n", "monthly_free_credits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if !errors.Is(err, domain.ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
