// ABOUTME: Gateway wires sessions, assistant, operator channel and visitor transports together
// ABOUTME: Owns the HTTP server lifecycle (plain TCP or tailscale) and the health endpoints

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/handoff-gateway/internal/assistant"
	"github.com/2389/handoff-gateway/internal/auth"
	"github.com/2389/handoff-gateway/internal/client"
	"github.com/2389/handoff-gateway/internal/config"
	"github.com/2389/handoff-gateway/internal/faq"
	"github.com/2389/handoff-gateway/internal/handoff"
	"github.com/2389/handoff-gateway/internal/ledger"
	"github.com/2389/handoff-gateway/internal/operator"
	"github.com/2389/handoff-gateway/internal/session"
)

// operatorChannel is the operator side as the gateway runs it.
type operatorChannel interface {
	operator.Channel
	Run(ctx context.Context) error
	Connected() bool
}

// transcriptStore reads back the audit ledger.
type transcriptStore interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*ledger.Event, error)
	Close() error
}

// Gateway runs the handoff-gateway server.
type Gateway struct {
	config       *config.Config
	sessions     *session.Store
	orchestrator *handoff.Orchestrator
	clients      *client.Registry
	operators    operatorChannel
	transcripts  transcriptStore // nil when the ledger is disabled
	faq          *faq.Matcher    // nil when no FAQ file is configured
	verifier     auth.TokenVerifier
	upgrader     websocket.Upgrader
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger
}

// New creates a Gateway from configuration. Nothing is contacted until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	matrix, err := operator.NewMatrix(operator.MatrixConfig{
		Homeserver:    cfg.Operators.Matrix.Homeserver,
		UserID:        cfg.Operators.Matrix.UserID,
		AccessToken:   cfg.Operators.Matrix.AccessToken,
		RoomID:        cfg.Operators.Matrix.RoomID,
		AllowedUsers:  cfg.Operators.Matrix.AllowedUsers,
		AllowedRooms:  cfg.Operators.Matrix.AllowedRooms,
		CommandPrefix: cfg.Operators.Matrix.CommandPrefix,
		ClaimTTL:      cfg.Operators.Matrix.ClaimTTL,
	}, logger)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:    cfg,
		sessions:  session.NewStore(session.WithHistoryLimit(cfg.Sessions.HistoryLimit)),
		clients:   client.NewRegistry(cfg.Client.SendBuffer, logger),
		operators: matrix,
		logger:    logger.With("component", "gateway"),
	}

	asst, err := gw.initAssistant(logger)
	if err != nil {
		return nil, err
	}

	var recorder handoff.Recorder
	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Ledger.Path, logger)
		if err != nil {
			gw.closeResources()
			return nil, fmt.Errorf("opening ledger: %w", err)
		}
		gw.transcripts = l
		recorder = l
	}

	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			gw.closeResources()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		gw.verifier = v
	}

	gw.orchestrator, err = handoff.New(handoff.Config{
		Store:            gw.sessions,
		Assistant:        asst,
		Operators:        matrix,
		Clients:          gw.clients,
		Ledger:           recorder,
		AssistantTimeout: cfg.Assistant.Timeout,
		SendTimeout:      cfg.Operators.SendTimeout,
		IdleTimeout:      cfg.Sessions.IdleTimeout,
		SweepInterval:    cfg.Sessions.SweepInterval,
		CommandPrefix:    cfg.Operators.Matrix.CommandPrefix,
	}, logger)
	if err != nil {
		gw.closeResources()
		return nil, err
	}

	gw.finish()
	return gw, nil
}

// initAssistant builds the FAQ matcher and completion provider.
func (g *Gateway) initAssistant(logger *slog.Logger) (*assistant.Gateway, error) {
	cfg := g.config.Assistant

	var faqs assistant.FAQ
	if cfg.FAQPath != "" {
		m, err := faq.LoadFile(cfg.FAQPath, cfg.FAQMinScore)
		if err != nil {
			return nil, fmt.Errorf("loading FAQ: %w", err)
		}
		g.faq = m
		faqs = m
		g.logger.Info("FAQ loaded", "path", cfg.FAQPath, "entries", m.Len())
	}

	completer, err := assistant.NewCompleter(assistant.ProviderConfig{
		Provider:  cfg.Provider,
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		g.closeResources()
		return nil, fmt.Errorf("creating assistant: %w", err)
	}
	if completer == nil {
		g.logger.Warn("no assistant provider configured, unanswered questions go straight to operators")
	}

	return assistant.NewGateway(completer, faqs, assistant.Options{
		SystemPrompt:    cfg.SystemPrompt,
		MinAnswerLength: cfg.MinAnswerLength,
		Timeout:         cfg.Timeout,
	}, logger), nil
}

// finish builds the HTTP server once all components are set.
func (g *Gateway) finish() {
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	g.registerVisitorRoutes(mux)
	g.registerOpsRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              g.config.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Orchestrator exposes the session state machine.
func (g *Gateway) Orchestrator() *handoff.Orchestrator {
	return g.orchestrator
}

// setupTCPListener creates a standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServers starts the HTTP server, the operator channel and the session
// sweeper. Errors from the first two end the gateway.
func (g *Gateway) startServers(ctx context.Context, ln net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	go func() {
		if err := g.operators.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("operator channel: %w", err)
		}
	}()

	go g.orchestrator.RunSweeper(ctx)

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a component fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	errCh := g.startServers(runCtx, ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)
	cancel()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "handoff-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and returns the HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeResources releases the ledger and FAQ index.
func (g *Gateway) closeResources() []error {
	var errs []error
	if g.transcripts != nil {
		errs = appendCloseError(errs, "ledger close", g.transcripts.Close())
	}
	if g.faq != nil {
		errs = appendCloseError(errs, "faq close", g.faq.Close())
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked WebSocket connections are not covered by http.Server.Shutdown.
	g.clients.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = append(errs, g.closeResources()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once operators can be reached.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.operators.Connected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("operator channel not connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions, %d visitors connected)", g.sessions.Len(), g.clients.Count())
}
