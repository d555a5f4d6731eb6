package engine

import (
	"fmt"
	"time"
)

// EventKind tags an engine event.
type EventKind int

const (
	EventSessionCreated EventKind = iota
	EventSessionDestroyed
	EventFragmentError
	EventConsole
	EventBatch
)

var eventNames = [...]string{
	EventSessionCreated:   "session_created",
	EventSessionDestroyed: "session_destroyed",
	EventFragmentError:    "fragment_error",
	EventConsole:          "console",
	EventBatch:            "batch",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes an event kind name.
func (k *EventKind) UnmarshalText(text []byte) error {
	for i, name := range eventNames {
		if name == string(text) {
			*k = EventKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

// Event is published to the host for every observable engine step.
type Event struct {
	Kind       EventKind `json:"kind"`
	SessionID  string    `json:"session_id"`
	FragmentID string    `json:"fragment_id,omitempty"`
	Stage      *Stage    `json:"stage,omitempty"`
	Message    string    `json:"message,omitempty"`
	Count      int       `json:"count,omitempty"`
	Time       time.Time `json:"time"`
}
