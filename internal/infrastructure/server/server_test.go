package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.GRPC.Enabled = false
	cfg.Logging.Level = "error"
	cfg.RateLimit.Enabled = false
	cfg.Engine.Marker = "MARK{"
	cfg.Assets.Root = t.TempDir()
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.Marker = "@ui"
	_, err := NewServer(cfg)
	assert.Error(t, err)
}

func TestServerDeliversAndRecords(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/sessions/s1/deliver", strings.NewReader("a MARK{ Session.store(\"k\", 1) } b"))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a  b", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	sess, ok := s.Directory().Session("s1")
	require.True(t, ok)
	assert.Equal(t, []string{"Browser", "Canvas", "Session", "Sound"}, sess.Stats().Globals)

	req = httptest.NewRequest(http.MethodGet, "/sessions/s1/history", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"source"`)
}

func TestGRPCHealth(t *testing.T) {
	s := newTestServer(t)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := s.newGRPCServer()
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, s.Directory().List())
}

func TestTerminalExitDestroysSession(t *testing.T) {
	s := newTestServer(t)

	_, err := s.Directory().Create("term_x")
	require.NoError(t, err)
	s.terminalExited("term_x", 0)
	_, ok := s.Directory().Session("term_x")
	assert.False(t, ok)

	s.terminalExited("term_missing", 1)
}
