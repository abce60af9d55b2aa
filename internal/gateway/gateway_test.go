// ABOUTME: Test harness and lifecycle tests for the gateway: construction, health and readiness
// ABOUTME: Uses a fake operator channel and a stub assistant around the real orchestrator

package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/handoff-gateway/internal/assistant"
	"github.com/2389/handoff-gateway/internal/auth"
	"github.com/2389/handoff-gateway/internal/client"
	"github.com/2389/handoff-gateway/internal/config"
	"github.com/2389/handoff-gateway/internal/handoff"
	"github.com/2389/handoff-gateway/internal/ledger"
	"github.com/2389/handoff-gateway/internal/operator"
	"github.com/2389/handoff-gateway/internal/session"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeOperators struct {
	mu        sync.Mutex
	connected atomic.Bool
	notifyErr error
	notified  []operator.Claimable
	sent      map[string][]string
	handler   operator.ActionHandler
}

func (f *fakeOperators) NotifyClaimable(_ context.Context, c operator.Claimable) (operator.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return "", fmt.Errorf("%w: %v", operator.ErrChannelUnavailable, f.notifyErr)
	}
	f.notified = append(f.notified, c)
	return operator.Handle("$notice"), nil
}

func (f *fakeOperators) SendToOperator(_ context.Context, op, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[op] = append(f.sent[op], text)
	return nil
}

func (f *fakeOperators) OnInboundOperatorAction(h operator.ActionHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeOperators) Run(ctx context.Context) error {
	f.connected.Store(true)
	<-ctx.Done()
	f.connected.Store(false)
	return nil
}

func (f *fakeOperators) Connected() bool { return f.connected.Load() }

func (f *fakeOperators) Notified() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notified)
}

func (f *fakeOperators) SentTo(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[op]...)
}

type stubAssistant struct {
	reply assistant.Reply
	err   error
}

func (s *stubAssistant) Ask(context.Context, []session.Message) (assistant.Reply, error) {
	return s.reply, s.err
}

type testGateway struct {
	*Gateway
	ops      *fakeOperators
	asst     *stubAssistant
	verifier *auth.JWTVerifier
}

type testOptions struct {
	noAuth     bool
	withLedger bool
}

func newTestGateway(t *testing.T, opts ...testOptions) *testGateway {
	t.Helper()
	var o testOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Client: config.ClientConfig{
			AllowedOrigins: []string{"https://shop.example.com"},
			SendBuffer:     16,
			WriteTimeout:   time.Second,
		},
	}

	ops := &fakeOperators{}
	asst := &stubAssistant{reply: assistant.Reply{Text: "Hi there, how can I help?", Source: assistant.SourceModel}}
	store := session.NewStore()
	clients := client.NewRegistry(cfg.Client.SendBuffer, logger)
	t.Cleanup(clients.Close)

	gw := &Gateway{
		config:    cfg,
		sessions:  store,
		clients:   clients,
		operators: ops,
		logger:    logger,
	}

	var recorder handoff.Recorder
	if o.withLedger {
		l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = l.Close() })
		gw.transcripts = l
		recorder = l
	}

	orch, err := handoff.New(handoff.Config{
		Store:     store,
		Assistant: asst,
		Operators: ops,
		Clients:   clients,
		Ledger:    recorder,
	}, logger)
	require.NoError(t, err)
	gw.orchestrator = orch

	tg := &testGateway{Gateway: gw, ops: ops, asst: asst}
	if !o.noAuth {
		v, err := auth.NewJWTVerifier(testSecret)
		require.NoError(t, err)
		gw.verifier = v
		tg.verifier = v
	}

	gw.finish()
	return tg
}

// bind moves sessionID to HUMAN with op as operator.
func (tg *testGateway) bind(t *testing.T, sessionID, op string) {
	t.Helper()
	_, err := tg.orchestrator.RequestHuman(t.Context(), sessionID, nil)
	require.NoError(t, err)
	require.NoError(t, tg.orchestrator.HandleOperatorAction(t.Context(), operator.Action{
		Kind: operator.ActionAccept, Operator: op, SessionID: sessionID,
	}))
}

func (tg *testGateway) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	tg.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t)

	rec := tg.serve(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	tg := newTestGateway(t)

	rec := tg.serve(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	tg.ops.connected.Store(true)
	rec = tg.serve(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}

func TestNewFromConfig(t *testing.T) {
	dir := t.TempDir()
	faqPath := filepath.Join(dir, "faq.toml")
	require.NoError(t, os.WriteFile(faqPath, []byte(`
[[entry]]
question = "What are your opening hours?"
answer = "We are open 9 to 5, Monday to Friday."
keywords = ["hours", "open"]
`), 0o600))

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
server:
  http_addr: "127.0.0.1:0"
assistant:
  provider: none
  faq_path: %q
operators:
  matrix:
    homeserver: "https://matrix.example.org"
    user_id: "@handoff:example.org"
    access_token: "secret"
    room_id: "!support:example.org"
ledger:
  path: %q
auth:
  jwt_secret: %q
`, faqPath, filepath.Join(dir, "ledger.db"), string(testSecret))))
	require.NoError(t, err)

	gw, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NotNil(t, gw.Orchestrator())
	assert.NotNil(t, gw.transcripts)
	assert.NotNil(t, gw.faq)
	assert.NotNil(t, gw.verifier)

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	assert.NoError(t, gw.Shutdown(ctx))
}

func TestNewRejectsBadFAQ(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Assistant: config.AssistantConfig{
			Provider: "none",
			FAQPath:  filepath.Join(t.TempDir(), "missing.toml"),
		},
		Operators: config.OperatorsConfig{Matrix: config.MatrixConfig{
			Homeserver: "https://matrix.example.org",
			UserID:     "@handoff:example.org",
		}},
	}
	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestRunServesUntilCancelled(t *testing.T) {
	tg := newTestGateway(t)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- tg.Run(ctx) }()

	require.Eventually(t, tg.ops.Connected, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/handoff")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/handoff", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Contains(t, dir, filepath.Join("handoff-gateway", "tailscale"))
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err := resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	key, err = resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)
}
