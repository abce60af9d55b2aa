// Package config handles configuration loading for handoff-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Missing optional values receive defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HANDOFF_CONFIG environment variable
//  2. ~/.config/handoff/gateway.yaml (or $XDG_CONFIG_HOME/handoff/gateway.yaml)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	operators:
//	  matrix:
//	    access_token: "${MATRIX_ACCESS_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	sessions:
//	  idle_timeout: "30m"
//	  sweep_interval: "1m"
//	  history_limit: 100
//
//	assistant:
//	  provider: "openai"           # openai, anthropic, none
//	  api_key: "${OPENAI_API_KEY}"
//	  model: "gpt-4o-mini"
//	  timeout: "20s"
//	  faq_path: "/etc/handoff/faq.toml"
//	  faq_min_score: 0.8
//
//	operators:
//	  send_timeout: "10s"
//	  matrix:
//	    homeserver: "https://matrix.example.org"
//	    user_id: "@support-bot:example.org"
//	    access_token: "${MATRIX_ACCESS_TOKEN}"
//	    room_id: "!operators:example.org"
//	    allowed_users: ["@alice:example.org"]
//	    command_prefix: "!"
//	    claim_ttl: "2h"
//
//	client:
//	  allowed_origins: ["https://www.example.org"]
//	  send_buffer: 32
//	  write_timeout: "10s"
//
//	ledger:
//	  path: "/var/lib/handoff/ledger.db"
//
//	auth:
//	  jwt_secret: "${HANDOFF_JWT_SECRET}"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Tailscale works as in the tsnet docs: set tailscale.enabled and a hostname
// and server.http_addr becomes optional.
package config
