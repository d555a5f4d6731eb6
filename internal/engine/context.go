package engine

import (
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

// Host is the session as seen by a capability provider.
type Host interface {
	SessionID() string
	SetSurfaceVisible(visible bool)
}

// CapabilityFactory builds the capability handles of one session. It is
// called once, when the session is created. Handles that implement
// io.Closer are closed when the session is destroyed.
type CapabilityFactory func(host Host) (map[string]intrinsics.Capability, error)

// Context is the execution context of one session: the capability
// globals, hidden internals and the persistent store. Variables live in
// the VM frame and never outlive a program.
type Context struct {
	sessionID string
	internals map[string]string
	store     *MemoryStore
	print     func(line string)

	mu       sync.RWMutex
	globals  map[string]intrinsics.Capability
	withheld map[string]bool
}

func newContext(sessionID string, globals map[string]intrinsics.Capability, print func(string)) *Context {
	if globals == nil {
		globals = make(map[string]intrinsics.Capability)
	}
	return &Context{
		sessionID: sessionID,
		internals: map[string]string{"session.id": sessionID},
		store:     NewMemoryStore(),
		print:     print,
		globals:   globals,
	}
}

func (c *Context) SessionID() string {
	return c.sessionID
}

// Global returns the capability bound to name. Globals withheld after a
// readiness timeout report as unbound until the batch ends.
func (c *Context) Global(name string) (intrinsics.Capability, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.withheld[name] {
		return nil, false
	}
	h, ok := c.globals[name]
	return h, ok
}

func (c *Context) Store() intrinsics.Store {
	return c.store
}

func (c *Context) Print(line string) {
	if c.print != nil {
		c.print(line)
	}
}

// Internal reads a host-only value. Scripts cannot reach internals.
func (c *Context) Internal(key string) (string, bool) {
	v, ok := c.internals[key]
	return v, ok
}

// Globals returns the sorted names of the bound capabilities.
func (c *Context) Globals() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.globals))
	for name := range c.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capability returns the handle bound to name, withheld or not.
func (c *Context) Capability(name string) (intrinsics.Capability, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.globals[name]
	return h, ok
}

// unready returns the globals in names whose capability is bound but
// not ready.
func (c *Context) unready(names []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, name := range names {
		if h, ok := c.globals[name]; ok && !h.Ready() {
			out = append(out, name)
		}
	}
	return out
}

func (c *Context) withhold(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(names) == 0 {
		c.withheld = nil
		return
	}
	c.withheld = make(map[string]bool, len(names))
	for _, name := range names {
		c.withheld[name] = true
	}
}

// release drops every capability handle, closing those that can be.
func (c *Context) release() error {
	c.mu.Lock()
	globals := c.globals
	c.globals = map[string]intrinsics.Capability{}
	c.withheld = nil
	c.mu.Unlock()

	var errs []error
	for _, name := range sortedKeys(globals) {
		if closer, ok := globals[name].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]intrinsics.Capability) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaxStoreKeys bounds the persistent store of one session.
const MaxStoreKeys = 4096

// ErrStoreFull is returned when a new key would exceed MaxStoreKeys.
var ErrStoreFull = errors.New("session store is full")

// MemoryStore is the persistent key/value store of one session.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]value.Value
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]value.Value)}
}

func (s *MemoryStore) Get(key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores v under key. Storing nil deletes the key. A new key beyond
// MaxStoreKeys fails with ErrStoreFull.
func (s *MemoryStore) Set(key string, v value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.IsNil() {
		delete(s.values, key)
		return nil
	}
	if _, exists := s.values[key]; !exists && len(s.values) >= MaxStoreKeys {
		return ErrStoreFull
	}
	s.values[key] = v
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot copies the store into plain Go values.
func (s *MemoryStore) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v.Interface()
	}
	return out
}
