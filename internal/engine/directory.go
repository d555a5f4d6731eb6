// Package engine runs UI blocks found in terminal output. A Directory
// maps session ids to Sessions; each Session extracts blocks from the
// text delivered to it, compiles them and executes them against its own
// capability handles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/logging"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/uiblocks/internal/script/extract"
	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
	"github.com/GriffinCanCode/uiblocks/internal/script/vm"
	"github.com/GriffinCanCode/uiblocks/internal/shared/id"
)

// Defaults for Options fields left zero.
const (
	DefaultTick         = 16 * time.Millisecond
	DefaultReadyTimeout = 2 * time.Second
	DefaultMaxCarry     = 65536
)

var (
	ErrClosed           = errors.New("directory is closed")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Record describes one fragment outcome for a Recorder. Error is empty
// when the fragment ran to completion.
type Record struct {
	SessionID   string
	FragmentID  string
	Source      string
	Fingerprint string
	Stage       Stage
	Error       string
	Steps       int
	Calls       int
	Duration    time.Duration
	At          time.Time
}

// Recorder persists fragment outcomes.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Options configures a Directory.
type Options struct {
	Marker       string
	Tick         time.Duration
	ReadyTimeout time.Duration // negative disables waiting
	MaxCarry     int
	StepBudget   int
	Parallelism  int

	Capabilities CapabilityFactory
	Recorder     Recorder
	Clock        Clock
	Logger       *logging.Logger
	Metrics      *monitoring.Metrics
	Tracer       *tracing.Tracer

	// OnFragmentError receives "<stage> error: <message>" for every
	// failed fragment.
	OnFragmentError func(sessionID, message string)
	// OnEvent receives every engine event. It must not block.
	OnEvent func(Event)
}

// core is shared read-only by every session of a directory.
type core struct {
	registry     *intrinsics.Registry
	vm           *vm.VM
	marker       string
	interval     time.Duration
	readyTimeout time.Duration
	maxCarry     int
	clock        Clock
	log          *logging.Logger
	metrics      *monitoring.Metrics
	tracer       *tracing.Tracer
	recorder     Recorder
	onError      func(sessionID, message string)
	onEvent      func(Event)
}

func (c *core) emit(ev Event) {
	if c.onEvent == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = c.clock.Now()
	}
	c.onEvent(ev)
}

// Directory owns every live session.
type Directory struct {
	core        *core
	factory     CapabilityFactory
	parallelism int
	log         *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewDirectory builds a directory over an immutable registry.
func NewDirectory(registry *intrinsics.Registry, opts Options) (*Directory, error) {
	if registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if opts.Marker == "" {
		opts.Marker = extract.DefaultMarker
	}
	if err := extract.ValidateMarker(opts.Marker); err != nil {
		return nil, fmt.Errorf("engine: marker %q: %w", opts.Marker, err)
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.MaxCarry <= 0 {
		opts.MaxCarry = DefaultMaxCarry
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	log := opts.Logger.Component("engine")
	return &Directory{
		core: &core{
			registry:     registry,
			vm:           vm.New(registry, vm.Options{StepBudget: opts.StepBudget}),
			marker:       opts.Marker,
			interval:     opts.Tick,
			readyTimeout: opts.ReadyTimeout,
			maxCarry:     opts.MaxCarry,
			clock:        opts.Clock,
			log:          log,
			metrics:      opts.Metrics,
			tracer:       opts.Tracer,
			recorder:     opts.Recorder,
			onError:      opts.OnFragmentError,
			onEvent:      opts.OnEvent,
		},
		factory:     opts.Capabilities,
		parallelism: opts.Parallelism,
		log:         log,
		sessions:    make(map[string]*Session),
	}, nil
}

// Registry returns the intrinsic registry shared by all sessions.
func (d *Directory) Registry() *intrinsics.Registry {
	return d.core.registry
}

// Marker returns the block start marker.
func (d *Directory) Marker() string {
	return d.core.marker
}

// Interval returns the coalescing interval of visible sessions.
func (d *Directory) Interval() time.Duration {
	return d.core.interval
}

// Create registers a session. Creating an existing session returns it
// unchanged.
func (d *Directory) Create(sessionID string) (*Session, error) {
	if !id.ValidSessionName(sessionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if s, ok := d.sessions[sessionID]; ok {
		return s, nil
	}

	s := newSession(sessionID, d.core)
	var globals map[string]intrinsics.Capability
	if d.factory != nil {
		var err error
		globals, err = d.factory(s)
		if err != nil {
			return nil, fmt.Errorf("failed to create capabilities for %s: %w", sessionID, err)
		}
	}
	s.ctx = newContext(sessionID, globals, s.print)
	d.sessions[sessionID] = s

	d.core.metrics.SetSessionsActive(len(d.sessions))
	d.log.Info("session created", zap.String("session_id", sessionID), zap.Strings("capabilities", s.ctx.Globals()))
	d.core.emit(Event{Kind: EventSessionCreated, SessionID: sessionID})
	return s, nil
}

// Deliver feeds a chunk of terminal output to a session and returns the
// text to display. Complete blocks are queued and stripped; an
// unterminated trailing block is withheld until a later delivery
// completes it. The session is created on the first text containing a
// marker.
func (d *Directory) Deliver(ctx context.Context, sessionID, text string) string {
	s, ok := d.Session(sessionID)
	if !ok {
		if !strings.Contains(text, d.core.marker) {
			return text
		}
		var err error
		s, err = d.Create(sessionID)
		if err != nil {
			d.log.Warn("dropping blocks for unusable session", zap.String("session_id", sessionID), zap.Error(err))
			d.reportDetached(sessionID, err)
			return extract.Strip(text, d.core.marker)
		}
	}

	display, cold := s.accept(text)
	if cold {
		s.drain(ctx)
	}
	return display
}

func (d *Directory) reportDetached(sessionID string, err error) {
	fe := &FragmentError{SessionID: sessionID, Stage: StageExtraction, Msg: err.Error(), Err: err}
	d.core.metrics.RecordFragmentError(StageExtraction.Label())
	if d.core.onError != nil {
		d.core.onError(sessionID, fe.Error())
	}
	st := StageExtraction
	d.core.emit(Event{Kind: EventFragmentError, SessionID: sessionID, Stage: &st, Message: fe.Error()})
}

// Tick runs one scheduling decision for every session, at most
// Parallelism sessions at a time.
func (d *Directory) Tick(ctx context.Context) error {
	sessions := d.snapshot()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for _, s := range sessions {
		g.Go(func() error {
			s.tick(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	awaiting := 0
	for _, s := range sessions {
		if s.isAwaiting() {
			awaiting++
		}
	}
	d.core.metrics.SetSessionsAwaiting(awaiting)
	return ctx.Err()
}

// Run ticks every interval until ctx is done.
func (d *Directory) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.core.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn("tick failed", zap.Error(err))
			}
		}
	}
}

// Destroy tears a session down. Queued work is discarded and the
// in-flight fragment, if any, is allowed to finish.
func (d *Directory) Destroy(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	s, ok := d.sessions[sessionID]
	if ok {
		delete(d.sessions, sessionID)
	}
	remaining := len(d.sessions)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	d.core.metrics.SetSessionsActive(remaining)
	err := s.destroy(ctx)
	d.log.Info("session destroyed", zap.String("session_id", sessionID), zap.Error(err))
	d.core.emit(Event{Kind: EventSessionDestroyed, SessionID: sessionID})
	return err
}

// SetSurfaceVisible switches a session between immediate and coalesced
// scheduling.
func (d *Directory) SetSurfaceVisible(sessionID string, visible bool) error {
	s, ok := d.Session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.SetSurfaceVisible(visible)
	return nil
}

// Session looks up a live session.
func (d *Directory) Session(sessionID string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[sessionID]
	return s, ok
}

// List returns the sorted ids of live sessions.
func (d *Directory) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.sessions))
	for sid := range d.sessions {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	return ids
}

// Close destroys every session and rejects further creation.
func (d *Directory) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	var errs []error
	for _, sid := range d.List() {
		if err := d.Destroy(ctx, sid); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Directory) snapshot() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
