package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/uiblocks/internal/capability"
	"github.com/GriffinCanCode/uiblocks/internal/capability/canvas"
	"github.com/GriffinCanCode/uiblocks/internal/engine"
	"github.com/GriffinCanCode/uiblocks/internal/history"
	"github.com/GriffinCanCode/uiblocks/internal/terminal"
)

type testServer struct {
	router *gin.Engine
	dir    *engine.Directory
	terms  *terminal.Manager
}

func newTestServer(t *testing.T, withHistory bool) *testServer {
	t.Helper()
	reg, err := capability.NewRegistry()
	require.NoError(t, err)

	var hist *history.Store
	opts := engine.Options{
		Marker:       "MARK{",
		Capabilities: capability.Factory(capability.Providers{}),
	}
	if withHistory {
		hist, err = history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		opts.Recorder = hist
	}
	dir, err := engine.NewDirectory(reg, opts)
	require.NoError(t, err)
	terms := terminal.NewManager(terminal.Options{Sink: dir})

	t.Cleanup(func() {
		_ = terms.Close()
		_ = dir.Close(context.Background())
		if hist != nil {
			_ = hist.Close()
		}
	})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(Options{Directory: dir, History: hist, Terminals: terms}).Routes(router)
	return &testServer{router: router, dir: dir, terms: terms}
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestDeliverStripsAndRunsBlocks(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(http.MethodPost, "/sessions/s1/deliver", "before MARK{ Canvas.rect(1, 2, 3, 4) } after")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "before  after", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))

	w = s.do(http.MethodGet, "/sessions/s1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st engine.Stats
	decode(t, w, &st)
	assert.Equal(t, "s1", st.ID)
	assert.Equal(t, 1, st.Extracted)
	assert.Equal(t, 1, st.Executed)

	w = s.do(http.MethodGet, "/sessions/s1/canvas", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"), "small snapshots are sent plain")
	var snap canvas.Snapshot
	decode(t, w, &snap)
	require.Len(t, snap.Ops, 1)
	assert.Equal(t, "rect", snap.Ops[0].Kind)
}

func TestDeliverWithoutMarkerCreatesNothing(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(http.MethodPost, "/sessions/plain/deliver", "just text\n")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "just text\n", w.Body.String())
	assert.Empty(t, s.dir.List())

	w = s.do(http.MethodGet, "/sessions/plain", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeliverCarriesSplitBlocks(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(http.MethodPost, "/sessions/s1/deliver", "one MARK{ print(")
	assert.Equal(t, "one ", w.Body.String())
	w = s.do(http.MethodPost, "/sessions/s1/deliver", "1) } two")
	assert.Equal(t, "two", w.Body.String())
}

func TestDeliverRejectsBadInput(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(http.MethodPost, "/sessions/bad%20id/deliver", "MARK{ }")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := strings.Repeat("x", MaxDeliverBytes+1)
	w = s.do(http.MethodPost, "/sessions/s1/deliver", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(http.MethodPost, "/sessions/s1", "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []engine.Stats `json:"sessions"`
	}
	decode(t, w, &list)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, []string{"Canvas", "Session", "Sound"}, list.Sessions[0].Globals)

	w = s.do(http.MethodPut, "/sessions/s1/surface", `{"visible": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	sess, ok := s.dir.Session("s1")
	require.True(t, ok)
	assert.True(t, sess.Visible())

	w = s.do(http.MethodPut, "/sessions/s1/surface", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPut, "/sessions/nope/surface", `{"visible": false}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodDelete, "/sessions/s1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodDelete, "/sessions/s1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSoundCues(t *testing.T) {
	s := newTestServer(t, false)
	s.do(http.MethodPost, "/sessions/s1/deliver", "MARK{ Sound.tone(440, 100) }")

	w := s.do(http.MethodGet, "/sessions/s1/sound", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Cues  []map[string]interface{} `json:"cues"`
		Total uint64                   `json:"total"`
	}
	decode(t, w, &body)
	require.Len(t, body.Cues, 1)
	assert.Equal(t, float64(440), body.Cues[0]["freq"])
	assert.Equal(t, uint64(1), body.Total)
}

func TestCanvasCompression(t *testing.T) {
	s := newTestServer(t, false)
	s.do(http.MethodPost, "/sessions/s1/deliver", `MARK{ i = 0 repeat 40 { Canvas.text(i, i, "label " + i) i = i + 1 } }`)

	plain := s.do(http.MethodGet, "/sessions/s1/canvas", "")
	require.Equal(t, http.StatusOK, plain.Code)
	require.Greater(t, plain.Body.Len(), minCompressSize)

	tests := []struct {
		accept string
		want   string
	}{
		{"gzip, deflate", "gzip"},
		{"gzip;q=0.5, zstd", "zstd"},
		{"zstd;q=0, gzip", "gzip"},
		{"br", ""},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			w := s.do(http.MethodGet, "/sessions/s1/canvas", "", "Accept-Encoding", tt.accept)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Content-Encoding"))
			assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))

			var body []byte
			switch tt.want {
			case "gzip":
				r, err := gzip.NewReader(w.Body)
				require.NoError(t, err)
				body, err = io.ReadAll(r)
				require.NoError(t, err)
			case "zstd":
				dec, err := zstd.NewReader(nil)
				require.NoError(t, err)
				defer dec.Close()
				body, err = dec.DecodeAll(w.Body.Bytes(), nil)
				require.NoError(t, err)
			default:
				body = w.Body.Bytes()
			}
			assert.Equal(t, plain.Body.Bytes(), body)
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s := newTestServer(t, true)
	s.do(http.MethodPost, "/sessions/s1/deliver", "MARK{ print(1) } MARK{ x = 1 / 0 }")

	entries := func(query string) []history.Entry {
		w := s.do(http.MethodGet, "/sessions/s1/history"+query, "")
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Entries []history.Entry `json:"entries"`
		}
		decode(t, w, &body)
		return body.Entries
	}

	all := entries("")
	require.Len(t, all, 2)
	assert.True(t, all[0].OK())
	assert.Equal(t, "runtime", all[1].Stage)

	latest := entries("?limit=1")
	require.Len(t, latest, 1)
	assert.False(t, latest[0].OK())

	w := s.do(http.MethodGet, "/sessions/s1/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, "/sessions/s1?purge=true", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, entries(""))
}

func TestHistoryDisabled(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(http.MethodGet, "/sessions/s1/history", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"history is disabled"}`, w.Body.String())
}

func TestIntrinsicsAndHealth(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(http.MethodGet, "/intrinsics", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Globals    []string        `json:"globals"`
		Intrinsics []intrinsicInfo `json:"intrinsics"`
	}
	decode(t, w, &body)
	assert.Contains(t, body.Globals, "Canvas")
	names := make(map[string]string)
	for _, in := range body.Intrinsics {
		names[in.Name] = in.Arity
	}
	assert.Equal(t, "4 to 5", names["Canvas.rect"])
	assert.Equal(t, "0", names["Sound.stop"])

	w = s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	decode(t, w, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(0), health["terminals"])
	assert.Equal(t, false, health["history"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	s.do(http.MethodPost, "/sessions/s1/deliver", "MARK{ print(1) }")

	w := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# TYPE")

	w = s.do(http.MethodGet, "/metrics/json", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestTerminalEndpoints(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(http.MethodPost, "/terminals", `{"shell": "/bin/sh", "args": ["-c", "printf 'shell MARK{ Canvas.show() } done'; sleep 30"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var info terminal.Info
	decode(t, w, &info)
	require.NotEmpty(t, info.ID)

	var out bytes.Buffer
	require.Eventually(t, func() bool {
		r := s.do(http.MethodGet, "/terminals/"+info.ID+"/output", "")
		out.Write(r.Body.Bytes())
		return strings.Contains(out.String(), "done")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "shell  done", out.String())

	sess, ok := s.dir.Session(info.ID)
	require.True(t, ok, "terminal output should create its session")
	assert.True(t, sess.Visible())

	w = s.do(http.MethodPut, "/terminals/"+info.ID+"/size", `{"cols": 120, "rows": 40}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodGet, "/terminals/"+info.ID, "")
	decode(t, w, &info)
	assert.Equal(t, 120, info.Cols)

	w = s.do(http.MethodDelete, "/terminals/"+info.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodGet, "/terminals/"+info.ID+"/output", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNegotiate(t *testing.T) {
	tests := map[string]string{
		"":                     "",
		"identity":             "",
		"*":                    "zstd",
		"GZIP":                 "gzip",
		"gzip;q=0":             "",
		"zstd;q=0.1, gzip;q=1": "zstd",
	}
	for header, want := range tests {
		assert.Equal(t, want, negotiate(header), header)
	}
}
