package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// strictly unmarshals it (unknown options are rejected), and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read; tests feed it literals.
func Parse(data []byte) (*Config, error) {
	// Expand env templates before stripping comments: templates live in strings.
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with all defaults applied and no providers.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Path == "" {
		cfg.Store.Path = "dayflow.db"
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18520
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = Duration(2 * time.Minute)
	}
	if cfg.NudgeLookahead == 0 {
		cfg.NudgeLookahead = Duration(5 * time.Minute)
	}
	if cfg.NudgeGrace == 0 {
		cfg.NudgeGrace = Duration(1 * time.Minute)
	}
	if cfg.PlanCron == "" {
		cfg.PlanCron = "0 6 * * *"
	}
	if cfg.IngestWindowCalendar.Past == 0 && cfg.IngestWindowCalendar.Future == 0 {
		cfg.IngestWindowCalendar = WindowConfig{Past: Duration(30 * 24 * time.Hour), Future: Duration(90 * 24 * time.Hour)}
	}
	if cfg.IngestWindowMail.Past == 0 && cfg.IngestWindowMail.Future == 0 {
		cfg.IngestWindowMail = WindowConfig{Past: Duration(7 * 24 * time.Hour)}
	}
	if cfg.LLMRetryBudget == 0 {
		cfg.LLMRetryBudget = 3
	}
	if cfg.SpamLLMThreshold == 0 {
		cfg.SpamLLMThreshold = 0.7
	}
	if cfg.WorkingWindow.Earliest == "" {
		cfg.WorkingWindow.Earliest = "07:00"
	}
	if cfg.WorkingWindow.Latest == "" {
		cfg.WorkingWindow.Latest = "22:00"
	}
	if cfg.WorkingWindow.Timezone == "" {
		cfg.WorkingWindow.Timezone = "UTC"
	}
	if cfg.ProviderRateLimits == nil {
		cfg.ProviderRateLimits = map[string]RateLimitConfig{}
	}
	for name, rl := range cfg.ProviderRateLimits {
		if rl.Window == 0 {
			rl.Window = Duration(time.Minute)
			cfg.ProviderRateLimits[name] = rl
		}
	}
}

func validate(cfg *Config) error {
	if cfg.SpamLLMThreshold < 0 || cfg.SpamLLMThreshold > 1 {
		return fmt.Errorf("spam_llm_threshold %v out of range [0,1]", cfg.SpamLLMThreshold)
	}
	for name, rl := range cfg.ProviderRateLimits {
		if rl.Capacity <= 0 {
			return fmt.Errorf("provider_rate_limits.%s: capacity must be positive", name)
		}
	}
	if _, err := parseClockTime(cfg.WorkingWindow.Earliest); err != nil {
		return fmt.Errorf("working_window.earliest: %w", err)
	}
	if _, err := parseClockTime(cfg.WorkingWindow.Latest); err != nil {
		return fmt.Errorf("working_window.latest: %w", err)
	}
	return nil
}
