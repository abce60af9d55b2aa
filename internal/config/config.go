// ABOUTME: Configuration loading and parsing for handoff-gateway
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete handoff-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Assistant AssistantConfig `yaml:"assistant"`
	Operators OperatorsConfig `yaml:"operators"`
	Client    ClientConfig    `yaml:"client"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the plain TCP listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // serve on :443 with Tailscale-issued certs
	Funnel    bool   `yaml:"funnel"` // expose the visitor endpoints publicly (implies HTTPS)
}

// SessionsConfig controls session lifetime
type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`
	HistoryLimit  int           `yaml:"history_limit"`

	IdleTimeoutRaw   string `yaml:"idle_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// AssistantConfig selects and tunes the automated assistant
type AssistantConfig struct {
	Provider        string        `yaml:"provider"` // openai, anthropic or none
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	BaseURL         string        `yaml:"base_url"`
	SystemPrompt    string        `yaml:"system_prompt"`
	MaxTokens       int           `yaml:"max_tokens"`
	MinAnswerLength int           `yaml:"min_answer_length"`
	FAQPath         string        `yaml:"faq_path"`
	FAQMinScore     float64       `yaml:"faq_min_score"`
	Timeout         time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// OperatorsConfig configures the channel human operators use
type OperatorsConfig struct {
	SendTimeout time.Duration `yaml:"-"`
	Matrix      MatrixConfig  `yaml:"matrix"`

	SendTimeoutRaw string `yaml:"send_timeout"`
}

// MatrixConfig holds Matrix operator room configuration
type MatrixConfig struct {
	Homeserver    string        `yaml:"homeserver"`
	UserID        string        `yaml:"user_id"`
	AccessToken   string        `yaml:"access_token"`
	RoomID        string        `yaml:"room_id"`
	AllowedUsers  []string      `yaml:"allowed_users"`
	AllowedRooms  []string      `yaml:"allowed_rooms"`
	CommandPrefix string        `yaml:"command_prefix"`
	ClaimTTL      time.Duration `yaml:"-"`

	ClaimTTLRaw string `yaml:"claim_ttl"`
}

// ClientConfig tunes the visitor WebSocket transport
type ClientConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins"`
	SendBuffer     int           `yaml:"send_buffer"`
	WriteTimeout   time.Duration `yaml:"-"`

	WriteTimeoutRaw string `yaml:"write_timeout"`
}

// LedgerConfig holds the audit transcript database location
type LedgerConfig struct {
	Path string `yaml:"path"` // empty disables the ledger
}

// AuthConfig holds authentication configuration for the operations API
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = 30 * time.Minute
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = time.Minute
	}
	if c.Sessions.HistoryLimit == 0 {
		c.Sessions.HistoryLimit = 100
	}
	if c.Assistant.Provider == "" {
		c.Assistant.Provider = "none"
	}
	if c.Assistant.Timeout == 0 {
		c.Assistant.Timeout = 20 * time.Second
	}
	if c.Assistant.MaxTokens == 0 {
		c.Assistant.MaxTokens = 512
	}
	if c.Assistant.FAQMinScore == 0 {
		c.Assistant.FAQMinScore = 0.8
	}
	if c.Operators.SendTimeout == 0 {
		c.Operators.SendTimeout = 10 * time.Second
	}
	if c.Operators.Matrix.CommandPrefix == "" {
		c.Operators.Matrix.CommandPrefix = "!"
	}
	if c.Operators.Matrix.ClaimTTL == 0 {
		c.Operators.Matrix.ClaimTTL = 2 * time.Hour
	}
	if c.Client.SendBuffer == 0 {
		c.Client.SendBuffer = 32
	}
	if c.Client.WriteTimeout == 0 {
		c.Client.WriteTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Sessions.SweepInterval > c.Sessions.IdleTimeout {
		return fmt.Errorf("sessions.sweep_interval (%s) must not exceed sessions.idle_timeout (%s)",
			c.Sessions.SweepInterval, c.Sessions.IdleTimeout)
	}

	if !slices.Contains([]string{"openai", "anthropic", "none"}, c.Assistant.Provider) {
		return fmt.Errorf("assistant.provider must be openai, anthropic or none, got %q", c.Assistant.Provider)
	}
	if c.Assistant.Provider != "none" && c.Assistant.APIKey == "" {
		return fmt.Errorf("assistant.api_key is required for provider %s", c.Assistant.Provider)
	}

	m := c.Operators.Matrix
	if m.Homeserver == "" || m.UserID == "" || m.AccessToken == "" {
		return fmt.Errorf("operators.matrix.homeserver, user_id and access_token are required")
	}
	if m.RoomID == "" {
		return fmt.Errorf("operators.matrix.room_id is required")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sessions.idle_timeout", cfg.Sessions.IdleTimeoutRaw, &cfg.Sessions.IdleTimeout},
		{"sessions.sweep_interval", cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval},
		{"assistant.timeout", cfg.Assistant.TimeoutRaw, &cfg.Assistant.Timeout},
		{"operators.send_timeout", cfg.Operators.SendTimeoutRaw, &cfg.Operators.SendTimeout},
		{"operators.matrix.claim_ttl", cfg.Operators.Matrix.ClaimTTLRaw, &cfg.Operators.Matrix.ClaimTTL},
		{"client.write_timeout", cfg.Client.WriteTimeoutRaw, &cfg.Client.WriteTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
