package pipe

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apihttp "github.com/GriffinCanCode/uiblocks/internal/api/http"
	"github.com/GriffinCanCode/uiblocks/internal/capability"
	"github.com/GriffinCanCode/uiblocks/internal/engine"
)

type recorder struct {
	mu      sync.Mutex
	console []string
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.console...)
}

func newEngineServer(t *testing.T) (*httptest.Server, *engine.Directory, *recorder) {
	t.Helper()
	reg, err := capability.NewRegistry()
	require.NoError(t, err)
	rec := &recorder{}
	dir, err := engine.NewDirectory(reg, engine.Options{
		Marker:       "MARK{",
		Capabilities: capability.Factory(capability.Providers{}),
		OnEvent: func(ev engine.Event) {
			if ev.Kind == engine.EventConsole {
				rec.mu.Lock()
				rec.console = append(rec.console, ev.Message)
				rec.mu.Unlock()
			}
		},
	})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	apihttp.NewHandlers(apihttp.Options{Directory: dir}).Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		_ = dir.Close(context.Background())
	})
	return srv, dir, rec
}

func TestPumpSplitsBlocksAcrossChunks(t *testing.T) {
	srv, dir, rec := newEngineServer(t)
	c, err := NewClient(Config{BaseURL: srv.URL, SessionID: "pipe-1"})
	require.NoError(t, err)

	input := "line one\nMARK{ print(\"from pipe\") }\nline two\n"
	var out bytes.Buffer
	n, err := Pump(context.Background(), c, iotest.OneByteReader(strings.NewReader(input)), &out, 8)
	require.NoError(t, err)
	assert.Equal(t, len(input), n, "one request per byte read")
	assert.Equal(t, "line one\n\nline two\n", out.String())
	assert.Equal(t, []string{"from pipe"}, rec.lines())

	_, ok := dir.Session("pipe-1")
	assert.True(t, ok)
	require.NoError(t, c.Close(context.Background()))
	_, ok = dir.Session("pipe-1")
	assert.False(t, ok)
	assert.NoError(t, c.Close(context.Background()), "closing twice is fine")
}

func TestPumpLargeChunks(t *testing.T) {
	srv, _, rec := newEngineServer(t)
	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.SessionID(), "sess_"))

	var out bytes.Buffer
	n, err := Pump(context.Background(), c, strings.NewReader("a MARK{ print(1 + 1) } b"), &out, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "a  b", out.String())
	assert.Equal(t, []string{"2"}, rec.lines())
}

func TestDeliverPropagatesTraceAndErrors(t *testing.T) {
	var traceID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = r.Header.Get("X-Trace-ID")
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, SessionID: "s1"})
	require.NoError(t, err)
	_, err = c.Deliver(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.NotEmpty(t, traceID)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, SessionID: "s1"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = c.Deliver(context.Background(), []byte("x"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrServerUnavailable)
	}
	_, err = c.Deliver(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrServerUnavailable)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"})
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://localhost:8000", SessionID: "bad id"})
	assert.Error(t, err)
}

func TestPumpFailsWhenSessionCannotOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions/s1", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, SessionID: "s1"})
	require.NoError(t, err)
	var out bytes.Buffer
	n, err := Pump(context.Background(), c, strings.NewReader("text"), &out, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open s1")
	assert.Zero(t, n)
	assert.Empty(t, out.String())
}
