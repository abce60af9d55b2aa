// ABOUTME: Entry point for handoff-gateway, the AI-to-human support handoff server
// ABOUTME: Dispatches serve, init, health, ready and token subcommands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/handoff-gateway/internal/auth"
	"github.com/2389/handoff-gateway/internal/config"
	"github.com/2389/handoff-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _                     _        __  __
 | |__   __ _ _ __   __| | ___  / _|/ _|
 | '_ \ / _' | '_ \ / _' |/ _ \| |_| |_
 | | | | (_| | | | | (_| | (_) |  _|  _|
 |_| |_|\__,_|_| |_|\__,_|\___/|_| |_|
`

// getConfigPath returns the path to the gateway config file.
// Priority: HANDOFF_CONFIG env var > XDG_CONFIG_HOME/handoff/gateway.yaml > ~/.config/handoff/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HANDOFF_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "handoff", "gateway.yaml")
}

// getDataPath returns the path to the handoff data directory.
// Priority: XDG_DATA_HOME/handoff > ~/.local/share/handoff
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "handoff")
}

// loadDotEnv reads .env from the working directory so ${VAR} references in
// the config resolve. Existing environment variables win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: handoff-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                                Start the gateway server")
		fmt.Println("  init                                 Create a new config file interactively")
		fmt.Println("  health                               Check gateway liveness")
		fmt.Println("  ready                                Check operator channel readiness")
		fmt.Println("  token --sub NAME [--role R] [--ttl D] Mint an operations API token")
		os.Exit(1)
	}

	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	case "token":
		err = runToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Assistant: %s\n", cfg.Assistant.Provider)
	green.Print("    ▶ ")
	fmt.Printf("Operators: %s in %s\n", cfg.Operators.Matrix.UserID, cfg.Operators.Matrix.RoomID)
	if cfg.Ledger.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:    %s\n", cfg.Ledger.Path)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting handoff-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"idle_timeout", cfg.Sessions.IdleTimeout,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runProbe requests a health endpoint and prints the answer.
func runProbe(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ok: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// tokenArgs are the flags of the token command.
type tokenArgs struct {
	Subject string
	Role    string
	TTL     time.Duration
}

// parseTokenArgs parses the token command flags.
func parseTokenArgs(args []string) (tokenArgs, error) {
	flags := flag.NewFlagSet("token", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	sub := flags.String("sub", "", "Token subject, e.g. an operator name (required)")
	role := flags.String("role", auth.RoleViewer, "Role: viewer or admin")
	ttl := flags.Duration("ttl", 30*24*time.Hour, "Token lifetime")

	if err := flags.Parse(args); err != nil {
		return tokenArgs{}, err
	}
	if flags.NArg() > 0 {
		return tokenArgs{}, fmt.Errorf("unexpected argument: %s", flags.Arg(0))
	}

	out := tokenArgs{Subject: strings.TrimSpace(*sub), Role: *role, TTL: *ttl}
	if out.Subject == "" {
		return out, errors.New("--sub is required")
	}
	if out.Role != auth.RoleViewer && out.Role != auth.RoleAdmin {
		return out, fmt.Errorf("--role must be %s or %s", auth.RoleViewer, auth.RoleAdmin)
	}
	if out.TTL <= 0 {
		return out, fmt.Errorf("--ttl must be a positive duration, got %s", out.TTL)
	}
	return out, nil
}

// runToken mints an operations API token with the configured secret.
func runToken(args []string) error {
	ta, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(ta.Subject, ta.Role, ta.TTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(os.Stderr, "subject=%s role=%s expires=%s\n", ta.Subject, ta.Role,
		time.Now().Add(ta.TTL).UTC().Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

// generateSecret returns a random base64 JWT secret.
func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

// initAnswers collects everything runInit asks for.
type initAnswers struct {
	HTTPAddr      string
	Provider      string
	Homeserver    string
	MatrixUserID  string
	MatrixRoomID  string
	LedgerPath    string
	JWTSecret     string
	TailscaleHost string // empty disables tailscale
	LogLevel      string
	LogFormat     string
}

// renderConfig produces the YAML written by init. Secrets are referenced
// through environment variables so the file can be shared.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# handoff-gateway configuration\n")
	cfg.WriteString("# Generated by handoff-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", a.HTTPAddr)

	if a.TailscaleHost != "" {
		cfg.WriteString("tailscale:\n")
		cfg.WriteString("  enabled: true\n")
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TailscaleHost)
		cfg.WriteString("  auth_key: \"${TS_AUTHKEY}\"\n\n")
	}

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  idle_timeout: \"30m\"\n")
	cfg.WriteString("  sweep_interval: \"1m\"\n\n")

	cfg.WriteString("assistant:\n")
	fmt.Fprintf(&cfg, "  provider: %q\n", a.Provider)
	switch a.Provider {
	case "openai":
		cfg.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n")
	case "anthropic":
		cfg.WriteString("  api_key: \"${ANTHROPIC_API_KEY}\"\n")
	}
	cfg.WriteString("  timeout: \"20s\"\n\n")

	cfg.WriteString("operators:\n")
	cfg.WriteString("  send_timeout: \"10s\"\n")
	cfg.WriteString("  matrix:\n")
	fmt.Fprintf(&cfg, "    homeserver: %q\n", a.Homeserver)
	fmt.Fprintf(&cfg, "    user_id: %q\n", a.MatrixUserID)
	cfg.WriteString("    access_token: \"${MATRIX_ACCESS_TOKEN}\"\n")
	fmt.Fprintf(&cfg, "    room_id: %q\n\n", a.MatrixRoomID)

	if a.LedgerPath != "" {
		cfg.WriteString("ledger:\n")
		fmt.Fprintf(&cfg, "  path: %q\n\n", a.LedgerPath)
	}

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n\n", a.JWTSecret)

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)
	return cfg.String()
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("handoff-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	var a initAnswers
	a.JWTSecret = secret

	fmt.Println("\n--- Server ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")
	if isYes(prompt(reader, "Enable Tailscale?", "no")) {
		a.TailscaleHost = prompt(reader, "Tailscale hostname", "handoff")
	}

	fmt.Println("\n--- Assistant ---")
	a.Provider = prompt(reader, "Provider (openai/anthropic/none)", "openai")

	fmt.Println("\n--- Operators (Matrix) ---")
	a.Homeserver = prompt(reader, "Homeserver URL", "https://matrix.org")
	a.MatrixUserID = prompt(reader, "Bot user id", "@handoff:matrix.org")
	a.MatrixRoomID = prompt(reader, "Support room id", "")

	fmt.Println("\n--- Ledger ---")
	a.LedgerPath = prompt(reader, "SQLite ledger path (empty to disable)", filepath.Join(getDataPath(), "ledger.db"))

	fmt.Println("\n--- Logging ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nSet MATRIX_ACCESS_TOKEN (and the provider API key) in the environment or a .env file, then:")
	fmt.Printf("  handoff-gateway serve\n")
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
