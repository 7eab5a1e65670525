// Package config loads the Dayflow configuration from a JSONC file.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Store     StoreConfig     `json:"store"`
	Gateway   GatewayConfig   `json:"gateway"`
	Models    ModelsConfig    `json:"models"`
	Embedding EmbeddingConfig `json:"embedding"`
	Vector    VectorConfig    `json:"vector"`
	SMTP      SMTPConfig      `json:"smtp"`

	// Scheduler + nudge window.
	TickInterval   Duration `json:"tick_interval"`
	NudgeLookahead Duration `json:"nudge_lookahead"`
	NudgeGrace     Duration `json:"nudge_grace"`
	PlanCron       string   `json:"plan_cron"`

	// Ingestion fetch windows.
	IngestWindowCalendar WindowConfig `json:"ingest_window_calendar"`
	IngestWindowMail     WindowConfig `json:"ingest_window_mail"`

	LLMRetryBudget     int                        `json:"llm_retry_budget"`
	ProviderRateLimits map[string]RateLimitConfig `json:"provider_rate_limits"`
	EmailEnabled       bool                       `json:"email_enabled"`
	SpamLLMThreshold   float64                    `json:"spam_llm_threshold"`
	WorkingWindow      WorkingWindowConfig        `json:"working_window"`
	PromoPatterns      []string                   `json:"promo_patterns"`
}

// StoreConfig locates the sqlite database and the age key encrypting tokens.
type StoreConfig struct {
	Path    string `json:"path"`
	KeyPath string `json:"key_path"`
}

// GatewayConfig holds the HTTP listener settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ModelsConfig holds LLM provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver    string         `json:"driver"` // "openai", "anthropic", "ollama"
	Model     string         `json:"model"`
	BaseURL   string         `json:"base_url,omitempty"`
	APIKey    string         `json:"api_key,omitempty"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Timeout   Duration       `json:"timeout,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Driver  string `json:"driver"` // "openai", "ollama"
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Dims    int    `json:"dims,omitempty"`
}

// VectorConfig locates the persistent vector store.
type VectorConfig struct {
	Dir string `json:"dir"`
}

// SMTPConfig configures best-effort nudge mail.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
}

// WindowConfig is a fetch window relative to now.
type WindowConfig struct {
	Past   Duration `json:"past"`
	Future Duration `json:"future"`
}

// RateLimitConfig is a token bucket: Capacity calls, refilled every Window.
type RateLimitConfig struct {
	Capacity int      `json:"capacity"`
	Window   Duration `json:"window"`
}

// WorkingWindowConfig bounds where planned entries may be shifted to.
type WorkingWindowConfig struct {
	Earliest string `json:"earliest"` // "HH:MM"
	Latest   string `json:"latest"`   // "HH:MM"
	Timezone string `json:"timezone"` // IANA name; the user's "today" boundary
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
