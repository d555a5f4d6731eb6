package capability

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/uiblocks/internal/capability/assets"
	"github.com/GriffinCanCode/uiblocks/internal/capability/browser"
	"github.com/GriffinCanCode/uiblocks/internal/engine"
)

type fixture struct {
	dir     *engine.Directory
	clock   *engine.ManualClock
	views   *browser.Manager
	mu      sync.Mutex
	console map[string][]string
	errors  []string
}

func newFixture(t *testing.T, launch browser.LaunchFunc) *fixture {
	t.Helper()
	root := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	require.NoError(t, os.WriteFile(filepath.Join(root, "logo.png"), png, 0o644))
	resolver, err := assets.New(root, nil)
	require.NoError(t, err)

	reg, err := NewRegistry()
	require.NoError(t, err)

	f := &fixture{
		clock:   engine.NewManualClock(time.Unix(1700000000, 0)),
		views:   browser.NewManager(browser.Options{Launch: launch}),
		console: make(map[string][]string),
	}
	f.dir, err = engine.NewDirectory(reg, engine.Options{
		Marker:       "MARK{",
		Clock:        f.clock,
		Capabilities: Factory(Providers{Assets: resolver, Browser: f.views}),
		OnFragmentError: func(sid, msg string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.errors = append(f.errors, sid+": "+msg)
		},
		OnEvent: func(ev engine.Event) {
			if ev.Kind != engine.EventConsole {
				return
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.console[ev.SessionID] = append(f.console[ev.SessionID], ev.Message)
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = f.dir.Close(context.Background())
		_ = f.views.Close()
	})
	return f
}

func (f *fixture) lines(sid string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.console[sid]...)
}

func (f *fixture) failures() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.errors...)
}

func waitReady(t *testing.T, f *fixture, sid string) {
	t.Helper()
	v, ok := f.views.View(sid)
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, v.WaitReady(ctx))
}

func TestRegistryGlobals(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{"Browser", "Canvas", "Session", "Sound"}, reg.Globals())
	for _, name := range []string{"print", "len", "Canvas.image", "Sound.play", "Browser.xpath", "Session.load"} {
		_, ok := reg.Lookup(name)
		assert.True(t, ok, name)
	}
}

func TestSessionStorePersistsAcrossFragments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.dir.Deliver(ctx, "s1", `MARK{ Session.store("n", 41) }`)
	f.dir.Deliver(ctx, "s1", `MARK{ Session.store("n", Session.load("n") + 1) print(Session.id(), Session.load("n"), Session.load("other")) }`)

	assert.Empty(t, f.failures())
	assert.Equal(t, []string{"s1 42 nil"}, f.lines("s1"))
}

func TestCanvasShowSwitchesScheduling(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.dir.Deliver(ctx, "s1", `MARK{ Canvas.show() Canvas.image(1, 2, "logo.png") }`)
	s, ok := f.dir.Session("s1")
	require.True(t, ok)
	assert.True(t, s.Visible())

	cv, ok := CanvasOf(s)
	require.True(t, ok)
	snap := cv.Snapshot()
	assert.True(t, snap.Visible)
	require.Len(t, snap.Ops, 1)
	assert.Equal(t, "image/png", snap.Ops[0].MIME)

	// Visible sessions wait for the tick.
	f.dir.Deliver(ctx, "s1", `MARK{ Sound.tone(440, 100) }`)
	p, ok := SoundOf(s)
	require.True(t, ok)
	assert.Zero(t, p.Pending())

	f.clock.Advance(time.Second)
	require.NoError(t, f.dir.Tick(ctx))
	assert.Equal(t, 1, p.Pending())
	assert.Empty(t, f.failures())
}

func TestBrowserGatesOnReadiness(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ string) error {
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	ctx := context.Background()

	f.dir.Deliver(ctx, "s1", `MARK{ Browser.loadHtml("<p id='a'>from view</p>") print(Browser.query("#a")) }`)
	s, _ := f.dir.Session("s1")
	assert.Equal(t, engine.StateAwaiting, s.State())
	assert.Empty(t, f.lines("s1"))

	close(gate)
	waitReady(t, f, "s1")
	require.NoError(t, f.dir.Tick(ctx))

	assert.Equal(t, []string{"from view"}, f.lines("s1"))
	assert.Empty(t, f.failures())
}

func TestBrowserTimeoutWithholdsGlobal(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	f := newFixture(t, func(ctx context.Context, _ string) error {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil
	})
	ctx := context.Background()

	f.dir.Deliver(ctx, "s1", `MARK{ print("before") Browser.eval("1") print("after") }`)
	f.clock.Advance(engine.DefaultReadyTimeout + time.Millisecond)
	require.NoError(t, f.dir.Tick(ctx))

	assert.Equal(t, []string{"before"}, f.lines("s1"))
	errs := f.failures()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "s1: capability timeout error: Browser not ready after 2s")
	assert.Contains(t, errs[1], "runtime error: line 1: Browser.eval: capability Browser is not available")
}

func TestDestroyClosesView(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.dir.Deliver(ctx, "s1", `MARK{ print(1) }`)
	waitReady(t, f, "s1")
	require.NoError(t, f.dir.Destroy(ctx, "s1"))

	_, ok := f.views.View("s1")
	assert.False(t, ok)
}
