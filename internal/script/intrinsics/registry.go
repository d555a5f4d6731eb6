// Package intrinsics holds the immutable table of native functions that
// scripts may call. A Registry is assembled once with a Builder and then
// shared read-only by every session.
package intrinsics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

// ID identifies an intrinsic inside one Registry. IDs follow the sorted
// order of qualified names, so two registries built from the same specs
// assign the same IDs.
type ID uint16

// Variadic as MaxArgs accepts any number of trailing arguments.
const Variadic = -1

// Capability is a session-scoped host service reachable through a
// global such as Canvas or Browser.
type Capability interface {
	Ready() bool
}

// Store keeps values that outlive a single fragment. Set may refuse a
// write, and storing nil deletes the key.
type Store interface {
	Get(key string) (value.Value, bool)
	Set(key string, v value.Value) error
}

// Env is what an intrinsic sees of the session executing it.
type Env interface {
	SessionID() string
	Global(name string) (Capability, bool)
	Store() Store
	Print(line string)
}

// Func is the native implementation of an intrinsic. args has already
// been checked against MinArgs and MaxArgs.
type Func func(ctx context.Context, env Env, args []value.Value) (value.Value, error)

// Spec describes one intrinsic.
type Spec struct {
	ID      ID
	Global  string // capability global, empty for free functions
	Method  string
	MinArgs int
	MaxArgs int
	Doc     string
	Handler Func
}

// Name returns the qualified name used in scripts.
func (s *Spec) Name() string {
	if s.Global == "" {
		return s.Method
	}
	return s.Global + "." + s.Method
}

// Accepts reports whether n arguments satisfy the arity bounds.
func (s *Spec) Accepts(n int) bool {
	if n < s.MinArgs {
		return false
	}
	return s.MaxArgs == Variadic || n <= s.MaxArgs
}

// Arity formats the accepted argument count for messages.
func (s *Spec) Arity() string {
	switch {
	case s.MaxArgs == Variadic:
		return fmt.Sprintf("at least %d", s.MinArgs)
	case s.MinArgs == s.MaxArgs:
		return fmt.Sprintf("%d", s.MinArgs)
	default:
		return fmt.Sprintf("%d to %d", s.MinArgs, s.MaxArgs)
	}
}

var (
	// ErrUnavailable marks a call the capability provider refused.
	ErrUnavailable = errors.New("capability unavailable")
	// ErrDuplicate is returned by Build when two specs share a name.
	ErrDuplicate = errors.New("duplicate intrinsic")
	// ErrInvalidSpec is returned by Build for a malformed spec.
	ErrInvalidSpec = errors.New("invalid intrinsic")
)

// Builder collects specs before they are frozen into a Registry.
type Builder struct {
	specs []Spec
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add queues a spec. Validation happens in Build.
func (b *Builder) Add(spec Spec) *Builder {
	b.specs = append(b.specs, spec)
	return b
}

// Func registers a free function.
func (b *Builder) Func(name string, minArgs, maxArgs int, doc string, fn Func) *Builder {
	return b.Add(Spec{Method: name, MinArgs: minArgs, MaxArgs: maxArgs, Doc: doc, Handler: fn})
}

// Method registers a function reached through a capability global.
func (b *Builder) Method(global, name string, minArgs, maxArgs int, doc string, fn Func) *Builder {
	return b.Add(Spec{Global: global, Method: name, MinArgs: minArgs, MaxArgs: maxArgs, Doc: doc, Handler: fn})
}

// Build validates the queued specs and returns the immutable registry.
func (b *Builder) Build() (*Registry, error) {
	specs := make([]Spec, len(b.specs))
	copy(specs, b.specs)

	seen := make(map[string]struct{}, len(specs))
	for i := range specs {
		s := &specs[i]
		name := s.Name()
		switch {
		case s.Method == "" || strings.Contains(s.Method, "."):
			return nil, fmt.Errorf("%w: bad method name %q", ErrInvalidSpec, name)
		case s.Handler == nil:
			return nil, fmt.Errorf("%w: %s has no handler", ErrInvalidSpec, name)
		case s.MinArgs < 0 || (s.MaxArgs != Variadic && s.MaxArgs < s.MinArgs):
			return nil, fmt.Errorf("%w: %s has bad arity %d..%d", ErrInvalidSpec, name, s.MinArgs, s.MaxArgs)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
		seen[name] = struct{}{}
	}
	if len(specs) > int(^ID(0)) {
		return nil, fmt.Errorf("%w: too many intrinsics (%d)", ErrInvalidSpec, len(specs))
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name() < specs[j].Name() })

	r := &Registry{
		specs:  specs,
		byName: make(map[string]ID, len(specs)),
	}
	globals := make(map[string]struct{})
	for i := range specs {
		specs[i].ID = ID(i)
		r.byName[specs[i].Name()] = ID(i)
		if specs[i].Global != "" {
			globals[specs[i].Global] = struct{}{}
		}
	}
	for g := range globals {
		r.globals = append(r.globals, g)
	}
	sort.Strings(r.globals)
	return r, nil
}

// Registry is an immutable name to intrinsic table.
type Registry struct {
	specs   []Spec
	byName  map[string]ID
	globals []string
}

// Lookup finds an intrinsic by qualified name.
func (r *Registry) Lookup(name string) (*Spec, bool) {
	if r == nil {
		return nil, false
	}
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return &r.specs[id], true
}

// Get returns the intrinsic with the given ID.
func (r *Registry) Get(id ID) (*Spec, bool) {
	if r == nil || int(id) >= len(r.specs) {
		return nil, false
	}
	return &r.specs[id], true
}

// Len returns the number of intrinsics.
func (r *Registry) Len() int {
	return len(r.specs)
}

// Specs returns a copy of every spec in ID order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Globals returns the sorted capability globals named by any intrinsic.
func (r *Registry) Globals() []string {
	out := make([]string, len(r.globals))
	copy(out, r.globals)
	return out
}

// HasGlobal reports whether name is a capability global.
func (r *Registry) HasGlobal(name string) bool {
	if r == nil {
		return false
	}
	i := sort.SearchStrings(r.globals, name)
	return i < len(r.globals) && r.globals[i] == name
}
