// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
server:
  http_addr: "127.0.0.1:8080"
operators:
  matrix:
    homeserver: "https://matrix.example.org"
    user_id: "@bot:example.org"
    access_token: "token"
    room_id: "!ops:example.org"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

sessions:
  idle_timeout: "45m"
  sweep_interval: "30s"
  history_limit: 50

assistant:
  provider: "anthropic"
  api_key: "sk-ant"
  model: "claude-3-5-haiku-latest"
  timeout: "15s"
  faq_path: "./faq.toml"
  faq_min_score: 1.2

operators:
  send_timeout: "5s"
  matrix:
    homeserver: "https://matrix.example.org"
    user_id: "@bot:example.org"
    access_token: "token"
    room_id: "!ops:example.org"
    allowed_users:
      - "@alice:example.org"
    command_prefix: "/"
    claim_ttl: "1h"

client:
  allowed_origins: ["https://www.example.org"]
  send_buffer: 8

ledger:
  path: "./ledger.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Sessions.IdleTimeout != 45*time.Minute {
		t.Errorf("Sessions.IdleTimeout = %v, want 45m", cfg.Sessions.IdleTimeout)
	}
	if cfg.Sessions.SweepInterval != 30*time.Second {
		t.Errorf("Sessions.SweepInterval = %v, want 30s", cfg.Sessions.SweepInterval)
	}
	if cfg.Sessions.HistoryLimit != 50 {
		t.Errorf("Sessions.HistoryLimit = %d, want 50", cfg.Sessions.HistoryLimit)
	}
	if cfg.Assistant.Provider != "anthropic" || cfg.Assistant.Timeout != 15*time.Second {
		t.Errorf("Assistant = %+v", cfg.Assistant)
	}
	if cfg.Assistant.FAQMinScore != 1.2 {
		t.Errorf("Assistant.FAQMinScore = %v, want 1.2", cfg.Assistant.FAQMinScore)
	}
	if cfg.Operators.SendTimeout != 5*time.Second {
		t.Errorf("Operators.SendTimeout = %v, want 5s", cfg.Operators.SendTimeout)
	}
	m := cfg.Operators.Matrix
	if m.CommandPrefix != "/" || m.ClaimTTL != time.Hour {
		t.Errorf("Matrix = %+v", m)
	}
	if len(m.AllowedUsers) != 1 || m.AllowedUsers[0] != "@alice:example.org" {
		t.Errorf("Matrix.AllowedUsers = %v", m.AllowedUsers)
	}
	if cfg.Client.SendBuffer != 8 {
		t.Errorf("Client.SendBuffer = %d, want 8", cfg.Client.SendBuffer)
	}
	if cfg.Ledger.Path != "./ledger.db" {
		t.Errorf("Ledger.Path = %q", cfg.Ledger.Path)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sessions.IdleTimeout != 30*time.Minute {
		t.Errorf("IdleTimeout = %v, want 30m", cfg.Sessions.IdleTimeout)
	}
	if cfg.Sessions.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", cfg.Sessions.SweepInterval)
	}
	if cfg.Sessions.HistoryLimit != 100 {
		t.Errorf("HistoryLimit = %d, want 100", cfg.Sessions.HistoryLimit)
	}
	if cfg.Assistant.Provider != "none" {
		t.Errorf("Provider = %q, want none", cfg.Assistant.Provider)
	}
	if cfg.Assistant.Timeout != 20*time.Second {
		t.Errorf("Assistant.Timeout = %v, want 20s", cfg.Assistant.Timeout)
	}
	if cfg.Operators.SendTimeout != 10*time.Second {
		t.Errorf("SendTimeout = %v, want 10s", cfg.Operators.SendTimeout)
	}
	if cfg.Operators.Matrix.CommandPrefix != "!" {
		t.Errorf("CommandPrefix = %q, want !", cfg.Operators.Matrix.CommandPrefix)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MATRIX_TOKEN", "syt_secret")
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
assistant:
  provider: openai
  api_key: "${TEST_OPENAI_KEY}"
operators:
  matrix:
    homeserver: "https://matrix.example.org"
    user_id: "@bot:example.org"
    access_token: "${TEST_MATRIX_TOKEN}"
    room_id: "!ops:example.org"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Operators.Matrix.AccessToken != "syt_secret" {
		t.Errorf("AccessToken = %q, want syt_secret", cfg.Operators.Matrix.AccessToken)
	}
	if cfg.Assistant.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", cfg.Assistant.APIKey)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		wantErrSubstr string
	}{
		{
			name:          "invalid yaml",
			content:       "server: [unclosed",
			wantErrSubstr: "parsing config file",
		},
		{
			name:          "invalid duration",
			content:       minimalConfig + "sessions:\n  idle_timeout: \"soon\"\n",
			wantErrSubstr: "sessions.idle_timeout",
		},
		{
			name:          "negative duration",
			content:       minimalConfig + "assistant:\n  timeout: \"-1s\"\n",
			wantErrSubstr: "must be positive",
		},
		{
			name:          "sweep longer than idle timeout",
			content:       minimalConfig + "sessions:\n  idle_timeout: \"1m\"\n  sweep_interval: \"5m\"\n",
			wantErrSubstr: "sweep_interval",
		},
		{
			name:          "unknown provider",
			content:       minimalConfig + "assistant:\n  provider: \"llama\"\n",
			wantErrSubstr: "assistant.provider",
		},
		{
			name:          "provider without key",
			content:       minimalConfig + "assistant:\n  provider: \"openai\"\n",
			wantErrSubstr: "assistant.api_key",
		},
		{
			name:          "missing matrix credentials",
			content:       "server:\n  http_addr: \":8080\"\n",
			wantErrSubstr: "operators.matrix",
		},
		{
			name:          "bad log format",
			content:       minimalConfig + "logging:\n  format: \"xml\"\n",
			wantErrSubstr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single env var", input: "${FOO}", expected: "bar"},
		{name: "env var with surrounding text", input: "prefix-${FOO}-suffix", expected: "prefix-bar-suffix"},
		{name: "multiple env vars", input: "${FOO}/${BAZ}", expected: "bar/qux"},
		{name: "no env vars", input: "no-vars-here", expected: "no-vars-here"},
		{name: "unset env var", input: "${UNSET_HANDOFF_VAR}", expected: ""},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := expandEnvVars(tt.input); result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidate_TailscaleConfig(t *testing.T) {
	matrix := MatrixConfig{
		Homeserver:  "https://matrix.example.org",
		UserID:      "@bot:example.org",
		AccessToken: "token",
		RoomID:      "!ops:example.org",
	}
	base := func() Config {
		var c Config
		c.Operators.Matrix = matrix
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name          string
		mutate        func(*Config)
		wantErrSubstr string
	}{
		{
			name:   "tailscale enabled allows empty http address",
			mutate: func(c *Config) { c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "handoff"} },
		},
		{
			name:          "tailscale enabled requires hostname",
			mutate:        func(c *Config) { c.Tailscale = TailscaleConfig{Enabled: true} },
			wantErrSubstr: "tailscale.hostname is required",
		},
		{
			name:          "tailscale disabled requires http address",
			mutate:        func(c *Config) {},
			wantErrSubstr: "server.http_addr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErrSubstr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErrSubstr)
			}
		})
	}
}
