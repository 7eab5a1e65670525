package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	content := `{
	// This is a JSONC comment
	"gateway": {
		"host": "0.0.0.0",
		"port": 9999
	},
	"tick_interval": "30s",
	"models": {
		"default": "claude",
		"providers": {
			"claude": {
				"driver": "anthropic",
				"model": "claude-sonnet-4-20250514",
				"api_key": "${{ .Env.ANTHROPIC_API_KEY }}",
				"max_tokens": 4096
			}
		}
	}
}`

	t.Setenv("ANTHROPIC_API_KEY", "test-key-123")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Gateway.Port)
	}
	if cfg.TickInterval.Duration() != 30*time.Second {
		t.Errorf("expected tick 30s, got %s", cfg.TickInterval.Duration())
	}

	p, ok := cfg.Models.Providers["claude"]
	if !ok {
		t.Fatal("expected claude provider")
	}
	if p.APIKey != "test-key-123" {
		t.Errorf("expected api_key test-key-123, got %s", p.APIKey)
	}
	if p.MaxTokens != 4096 {
		t.Errorf("expected max_tokens 4096, got %d", p.MaxTokens)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected default host 127.0.0.1, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 18520 {
		t.Errorf("expected default port 18520, got %d", cfg.Gateway.Port)
	}
	if cfg.Store.Path != "dayflow.db" {
		t.Errorf("expected default db path dayflow.db, got %s", cfg.Store.Path)
	}
	if cfg.TickInterval.Duration() != 2*time.Minute {
		t.Errorf("expected default tick 2m, got %s", cfg.TickInterval.Duration())
	}
	if cfg.NudgeLookahead.Duration() != 5*time.Minute || cfg.NudgeGrace.Duration() != time.Minute {
		t.Errorf("expected default nudge window 5m/1m, got %s/%s",
			cfg.NudgeLookahead.Duration(), cfg.NudgeGrace.Duration())
	}
	if cfg.PlanCron != "0 6 * * *" {
		t.Errorf("expected default plan cron, got %q", cfg.PlanCron)
	}
	if cfg.SpamLLMThreshold != 0.7 {
		t.Errorf("expected default spam threshold 0.7, got %v", cfg.SpamLLMThreshold)
	}
	if cfg.WorkingWindow.Earliest != "07:00" || cfg.WorkingWindow.Latest != "22:00" {
		t.Errorf("expected default working window 07:00..22:00, got %s..%s",
			cfg.WorkingWindow.Earliest, cfg.WorkingWindow.Latest)
	}
	if cfg.IngestWindowCalendar.Future.Duration() != 90*24*time.Hour {
		t.Errorf("expected default calendar future window 90d, got %s",
			cfg.IngestWindowCalendar.Future.Duration())
	}
}

func TestLoadRejectsUnknownOptions(t *testing.T) {
	_, err := Parse([]byte(`{"gatway": {"port": 9999}}`))
	if err == nil {
		t.Fatal("expected error for unknown option")
	}
	if !strings.Contains(err.Error(), "gatway") {
		t.Errorf("error should name the unknown option, got: %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"spam threshold above one", `{"spam_llm_threshold": 1.3}`},
		{"rate limit without capacity", `{"provider_rate_limits": {"gmail": {"window": "1m"}}}`},
		{"bad working window time", `{"working_window": {"earliest": "7am"}}`},
		{"bad duration", `{"tick_interval": "fast"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.content)); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_KEY", "my-secret")
	result := expandEnvTemplates(`{"key": "${{ .Env.TEST_KEY }}"}`)
	expected := `{"key": "my-secret"}`
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}

func TestRateLimitWindowDefaultsToMinute(t *testing.T) {
	cfg, err := Parse([]byte(`{"provider_rate_limits": {"gmail": {"capacity": 50}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProviderRateLimits["gmail"].Window.Duration() != time.Minute {
		t.Errorf("expected window 1m, got %s", cfg.ProviderRateLimits["gmail"].Window.Duration())
	}
}
