// Package capability assembles the intrinsic registry and the per-session
// capability handles of the engine.
package capability

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/uiblocks/internal/capability/assets"
	"github.com/GriffinCanCode/uiblocks/internal/capability/browser"
	"github.com/GriffinCanCode/uiblocks/internal/capability/canvas"
	"github.com/GriffinCanCode/uiblocks/internal/capability/sound"
	"github.com/GriffinCanCode/uiblocks/internal/engine"
	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

// SessionGlobal is the script name of the session handle.
const SessionGlobal = "Session"

// Session is the handle behind the Session global. It carries no state;
// the store belongs to the execution context.
type Session struct{}

// Ready always reports true.
func (Session) Ready() bool { return true }

// NewRegistry builds the full intrinsic registry.
func NewRegistry() (*intrinsics.Registry, error) {
	b := intrinsics.RegisterCore(intrinsics.NewBuilder())
	b = canvas.Register(b)
	b = sound.Register(b)
	b = browser.Register(b)
	b = registerSession(b)
	return b.Build()
}

func registerSession(b *intrinsics.Builder) *intrinsics.Builder {
	return b.
		Method(SessionGlobal, "id", 0, 0, "the session id", sessionID).
		Method(SessionGlobal, "store", 2, 2, "persist a value across fragments", sessionStore).
		Method(SessionGlobal, "load", 1, 1, "read a persisted value, nil when absent", sessionLoad)
}

func sessionID(_ context.Context, env intrinsics.Env, _ []value.Value) (value.Value, error) {
	return value.NewString(env.SessionID()), nil
}

func sessionStore(_ context.Context, env intrinsics.Env, args []value.Value) (value.Value, error) {
	key, err := intrinsics.String(args, 0)
	if err != nil {
		return value.NilValue, err
	}
	st := env.Store()
	if st == nil {
		return value.NilValue, intrinsics.ErrUnavailable
	}
	return value.NilValue, st.Set(key, args[1])
}

func sessionLoad(_ context.Context, env intrinsics.Env, args []value.Value) (value.Value, error) {
	key, err := intrinsics.String(args, 0)
	if err != nil {
		return value.NilValue, err
	}
	st := env.Store()
	if st == nil {
		return value.NilValue, intrinsics.ErrUnavailable
	}
	if v, ok := st.Get(key); ok {
		return v, nil
	}
	return value.NilValue, nil
}

// Providers are the shared backends capability handles draw on. Any of
// them may be nil: without Assets, image and clip calls fail; without
// Browser, the Browser global is not bound.
type Providers struct {
	Assets  *assets.Resolver
	Browser *browser.Manager
}

// Factory returns the engine capability factory over p.
func Factory(p Providers) engine.CapabilityFactory {
	return func(host engine.Host) (map[string]intrinsics.Capability, error) {
		caps := map[string]intrinsics.Capability{
			canvas.Global: canvas.New(host, p.Assets),
			sound.Global:  sound.New(p.Assets),
			SessionGlobal: Session{},
		}
		if p.Browser != nil {
			v, err := p.Browser.Open(host.SessionID())
			if err != nil {
				return nil, fmt.Errorf("failed to open browser view: %w", err)
			}
			caps[browser.Global] = v
		}
		return caps, nil
	}
}

// CanvasOf returns the canvas bound to a session.
func CanvasOf(s *engine.Session) (*canvas.Canvas, bool) {
	c, ok := s.Context().Capability(canvas.Global)
	if !ok {
		return nil, false
	}
	cv, ok := c.(*canvas.Canvas)
	return cv, ok
}

// SoundOf returns the sound player bound to a session.
func SoundOf(s *engine.Session) (*sound.Player, bool) {
	c, ok := s.Context().Capability(sound.Global)
	if !ok {
		return nil, false
	}
	p, ok := c.(*sound.Player)
	return p, ok
}
