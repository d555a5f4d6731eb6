package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// EventKind is the closed set of view events.
type EventKind uint8

const (
	EventCommand EventKind = iota
	EventConsole
	EventCursor
	EventLoad
	EventLog
	EventError
	EventViewCreated
)

var kindNames = [...]string{
	EventCommand:     "command",
	EventConsole:     "console",
	EventCursor:      "cursor",
	EventLoad:        "load",
	EventLog:         "log",
	EventError:       "error",
	EventViewCreated: "view_created",
}

func (k EventKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = EventKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

// Event is one queued view event. Which fields are set depends on Kind:
// Name and Payload for commands, Level and Text for console lines, X and
// Y for the cursor, Token for view creation.
type Event struct {
	Kind      EventKind       `json:"kind"`
	ViewID    string          `json:"view_id"`
	SessionID string          `json:"session_id"`
	Name      string          `json:"name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Level     string          `json:"level,omitempty"`
	Text      string          `json:"text,omitempty"`
	X         float64         `json:"x,omitempty"`
	Y         float64         `json:"y,omitempty"`
	Token     string          `json:"token,omitempty"`
	Time      time.Time       `json:"time"`
}

// Handler consumes routed events.
type Handler func(ctx context.Context, ev Event) error

var ErrUnknownCommand = errors.New("unknown bridge command")

// Router dispatches events by kind, and Command events by name. Its
// tables are fixed at construction.
type Router struct {
	kinds    map[EventKind]Handler
	commands map[string]Handler
}

// NewRouter copies the given tables. Events of kinds without a handler
// are dropped; commands without a handler fail with ErrUnknownCommand.
// A Command handler registered by kind runs after the named one.
func NewRouter(kinds map[EventKind]Handler, commands map[string]Handler) *Router {
	r := &Router{
		kinds:    make(map[EventKind]Handler, len(kinds)),
		commands: make(map[string]Handler, len(commands)),
	}
	for k, h := range kinds {
		r.kinds[k] = h
	}
	for name, h := range commands {
		r.commands[name] = h
	}
	return r
}

// Dispatch routes one event.
func (r *Router) Dispatch(ctx context.Context, ev Event) error {
	if ev.Kind == EventCommand {
		h, ok := r.commands[ev.Name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCommand, ev.Name)
		}
		if err := h(ctx, ev); err != nil {
			return fmt.Errorf("command %s: %w", ev.Name, err)
		}
	}
	if h, ok := r.kinds[ev.Kind]; ok {
		return h(ctx, ev)
	}
	return nil
}

// Commands lists the registered command names in order.
func (r *Router) Commands() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
