package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/logging"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/uiblocks/internal/shared/id"
)

var ErrManagerClosed = errors.New("browser manager is closed")

// LaunchFunc brings up the backing surface of a view. It runs on its own
// goroutine; the view becomes ready when it returns nil.
type LaunchFunc func(ctx context.Context, viewID string) error

// Options configures a Manager.
type Options struct {
	Config  Config
	Policy  *bluemonday.Policy
	Breaker resilience.Settings
	Launch  LaunchFunc
	Router  *Router
	Logger  *logging.Logger
	Now     func() time.Time
}

// Manager owns the views of every session.
type Manager struct {
	opts   Options
	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	views  map[string]*View // by session id
	closed bool
}

// NewManager creates a manager. Zero options take their defaults.
func NewManager(opts Options) *Manager {
	if opts.Config.Timeout <= 0 {
		opts.Config = DefaultConfig()
	}
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy()
	}
	if opts.Breaker.ReadyToTrip == nil && opts.Breaker.FailureThreshold == 0 {
		opts.Breaker.FailureThreshold = 3
	}
	if opts.Breaker.Timeout <= 0 {
		opts.Breaker.Timeout = 30 * time.Second
	}
	if opts.Router == nil {
		opts.Router = NewRouter(nil, nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		log:    opts.Logger.Component("browser"),
		ctx:    ctx,
		cancel: cancel,
		views:  make(map[string]*View),
	}
}

// Open returns the view of a session, launching one if needed.
func (m *Manager) Open(sessionID string) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if v, ok := m.views[sessionID]; ok {
		return v, nil
	}

	viewID := id.NewViewID().String()
	settings := m.opts.Breaker
	settings.IsSuccessful = func(err error) bool { return err == nil || scriptFailed(err) }
	settings.OnStateChange = func(name string, from, to resilience.State) {
		m.log.Warn("view breaker changed state",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	v := &View{
		id:        viewID,
		sessionID: sessionID,
		token:     uuid.NewString(),
		config:    m.opts.Config,
		policy:    m.opts.Policy,
		breaker:   resilience.New("browser:"+viewID, settings),
		now:       m.opts.Now,
		log:       m.log,
		onClose:   m.forget,
		started:   make(chan struct{}),
		width:     800,
		height:    600,
	}
	m.views[sessionID] = v
	go v.launch(m.ctx, m.opts.Launch)

	m.log.Debug("view opened", zap.String("session_id", sessionID), zap.String("view_id", viewID))
	return v, nil
}

func (m *Manager) forget(v *View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.views[v.sessionID] == v {
		delete(m.views, v.sessionID)
	}
}

// View looks up the view of a session.
func (m *Manager) View(sessionID string) (*View, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[sessionID]
	return v, ok
}

// Views returns the open views ordered by session id.
func (m *Manager) Views() []*View {
	m.mu.RLock()
	out := make([]*View, 0, len(m.views))
	for _, v := range m.views {
		out = append(out, v)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].sessionID < out[j].sessionID })
	return out
}

// Drain routes every queued event and reports how many were routed.
// Routing errors are logged and joined; they never stop the drain.
func (m *Manager) Drain(ctx context.Context) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, v := range m.Views() {
		for _, ev := range v.Drain() {
			n++
			if err := m.opts.Router.Dispatch(ctx, ev); err != nil {
				m.log.Warn("event routing failed",
					zap.String("view_id", ev.ViewID),
					zap.Stringer("kind", ev.Kind),
					zap.Error(err))
				errs = append(errs, fmt.Errorf("view %s: %w", ev.ViewID, err))
			}
		}
	}
	return n, errors.Join(errs...)
}

// Run drains every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = m.Drain(ctx)
		}
	}
}

// Close closes every view and cancels launches in flight.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	var errs []error
	for _, v := range m.Views() {
		errs = append(errs, v.Close())
	}
	return errors.Join(errs...)
}
