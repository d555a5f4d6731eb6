package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/logging"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
)

const (
	// MaxEvents bounds undrained events per view; the oldest are dropped.
	MaxEvents = 1024
	// MaxPending bounds scripts buffered before a document loads.
	MaxPending = 64
)

var (
	ErrViewClosed  = errors.New("view is closed")
	ErrPendingFull = fmt.Errorf("too many scripts waiting for a document (%d)", MaxPending)
)

// View is the browser surface of one session.
type View struct {
	id        string
	sessionID string
	token     string
	config    Config
	policy    *bluemonday.Policy
	breaker   *resilience.Breaker
	now       func() time.Time
	log       *logging.Logger
	onClose   func(*View)

	ready   atomic.Bool
	started chan struct{}

	mu        sync.Mutex
	rt        *Runtime
	doc       *Document
	pending   []string
	width     float64
	height    float64
	closed    bool
	launchErr error

	evMu    sync.Mutex
	events  []Event
	dropped uint64
}

// ID returns the view id.
func (v *View) ID() string { return v.id }

// SessionID returns the owning session.
func (v *View) SessionID() string { return v.sessionID }

// Token returns the per-view security token announced with EventViewCreated.
func (v *View) Token() string { return v.token }

// Ready reports whether the view finished launching.
func (v *View) Ready() bool { return v.ready.Load() }

// WaitReady blocks until the launch completes or ctx is done.
func (v *View) WaitReady(ctx context.Context) error {
	select {
	case <-v.started:
	case <-ctx.Done():
		return ctx.Err()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.launchErr
}

// Size returns the view dimensions.
func (v *View) Size() (float64, float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.width, v.height
}

// Document returns the loaded document, or nil.
func (v *View) Document() *Document {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.doc
}

// Pending reports how many scripts wait for a document.
func (v *View) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Breaker exposes the view's circuit breaker.
func (v *View) Breaker() *resilience.Breaker { return v.breaker }

func (v *View) launch(ctx context.Context, fn func(ctx context.Context, viewID string) error) {
	defer close(v.started)

	var err error
	if fn != nil {
		err = fn(ctx, v.id)
	}
	var rt *Runtime
	if err == nil {
		rt, err = newRuntime(v.config, v)
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.rt = rt
	v.launchErr = err
	v.mu.Unlock()

	if err != nil {
		v.log.Warn("view launch failed", zap.String("view_id", v.id), zap.Error(err))
		v.emit(Event{Kind: EventError, Text: fmt.Sprintf("launch failed: %v", err)})
		return
	}
	v.ready.Store(true)
	v.emit(Event{Kind: EventViewCreated, Token: v.token})
}

// runtime returns the live runtime, or an error wrapping
// intrinsics.ErrUnavailable.
func (v *View) runtime() (*Runtime, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.closed:
		return nil, fmt.Errorf("%w: %w", intrinsics.ErrUnavailable, ErrViewClosed)
	case v.rt == nil:
		return nil, fmt.Errorf("%w: view %s is not ready", intrinsics.ErrUnavailable, v.id)
	}
	return v.rt, nil
}

// LoadHTML sanitizes and installs a document, then runs any buffered
// scripts against it. Failures of buffered scripts become EventError.
func (v *View) LoadHTML(ctx context.Context, raw string) error {
	if _, err := v.runtime(); err != nil {
		return err
	}
	doc, err := Parse(raw, v.policy)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.doc = doc
	pending := v.pending
	v.pending = nil
	v.mu.Unlock()

	v.emit(Event{Kind: EventLoad, Text: doc.Title()})
	for _, script := range pending {
		if _, _, err := v.eval(ctx, script); err != nil {
			v.emit(Event{Kind: EventError, Text: err.Error()})
		}
	}
	return nil
}

// Eval runs js in the sandbox and returns its completion value. Before
// any document has loaded the script is buffered and Eval reports no
// value.
func (v *View) Eval(ctx context.Context, js string) (string, bool, error) {
	if _, err := v.runtime(); err != nil {
		return "", false, err
	}
	v.mu.Lock()
	if v.doc == nil {
		if len(v.pending) >= MaxPending {
			v.mu.Unlock()
			return "", false, ErrPendingFull
		}
		v.pending = append(v.pending, js)
		v.mu.Unlock()
		return "", false, nil
	}
	v.mu.Unlock()
	return v.eval(ctx, js)
}

func (v *View) eval(ctx context.Context, js string) (string, bool, error) {
	rt, err := v.runtime()
	if err != nil {
		return "", false, err
	}
	var (
		out string
		ok  bool
	)
	err = v.breaker.Do(func() error {
		var err error
		out, ok, err = rt.Eval(ctx, js)
		return err
	})
	if resilience.Rejected(err) {
		return "", false, fmt.Errorf("%w: %v", intrinsics.ErrUnavailable, err)
	}
	return out, ok, err
}

// Query returns the text of the first element matching css.
func (v *View) Query(css string) (string, bool, error) {
	doc, err := v.document()
	if err != nil {
		return "", false, err
	}
	text, ok := doc.Query(css)
	return text, ok, nil
}

// XPath returns the text of the first node matching expr.
func (v *View) XPath(expr string) (string, bool, error) {
	doc, err := v.document()
	if err != nil {
		return "", false, err
	}
	return doc.XPath(expr)
}

func (v *View) document() (*Document, error) {
	if _, err := v.runtime(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.doc == nil {
		return nil, ErrNoDocument
	}
	return v.doc, nil
}

// Resize sets the view dimensions.
func (v *View) Resize(w, h float64) error {
	if _, err := v.runtime(); err != nil {
		return err
	}
	v.mu.Lock()
	v.width, v.height = w, h
	v.mu.Unlock()
	v.emit(Event{Kind: EventLog, Level: "info", Text: fmt.Sprintf("resized to %gx%g", w, h)})
	return nil
}

// Drain removes and returns the queued events in order.
func (v *View) Drain() []Event {
	v.evMu.Lock()
	defer v.evMu.Unlock()
	out := v.events
	v.events = nil
	return out
}

// Dropped reports how many events were discarded on overflow.
func (v *View) Dropped() uint64 {
	v.evMu.Lock()
	defer v.evMu.Unlock()
	return v.dropped
}

// Close releases the runtime. Closing twice is a no-op.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.rt = nil
	v.doc = nil
	v.pending = nil
	v.mu.Unlock()

	v.ready.Store(false)
	if v.onClose != nil {
		v.onClose(v)
	}
	return nil
}

func (v *View) emit(ev Event) {
	ev.ViewID = v.id
	ev.SessionID = v.sessionID
	if ev.Time.IsZero() {
		ev.Time = v.now()
	}
	v.evMu.Lock()
	defer v.evMu.Unlock()
	if len(v.events) >= MaxEvents {
		v.events = v.events[1:]
		v.dropped++
	}
	v.events = append(v.events, ev)
}

// scriptFailed reports whether err is an ordinary script exception,
// which does not count against the breaker.
func scriptFailed(err error) bool {
	var ex *goja.Exception
	return errors.As(err, &ex)
}
