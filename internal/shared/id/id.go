// Package id generates the prefixed, lexicographically sortable ULIDs
// used for sessions, fragments, terminals, browser views and requests.
package id

import (
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type (
	SessionID  string
	FragmentID string
	TerminalID string
	ViewID     string
	// RequestID also names trace spans.
	RequestID string
)

const (
	SessionPrefix  = "sess"
	FragmentPrefix = "frag"
	TerminalPrefix = "term"
	ViewPrefix     = "view"
	RequestPrefix  = "req"
)

// MaxSessionNameLen bounds caller-chosen session ids.
const MaxSessionNameLen = 128

var ErrNoPrefix = errors.New("id has no prefix")

// Source draws monotonic ULIDs; ids from one Source sort in creation
// order even within a millisecond.
type Source struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var shared = sync.OnceValue(func() *Source { return NewSource(nil, nil) })

// NewSource returns a Source over entropy and now. nil arguments select
// crypto/rand and time.Now.
func NewSource(entropy io.Reader, now func() time.Time) *Source {
	if entropy == nil {
		entropy = rand.Reader
	}
	if now == nil {
		now = time.Now
	}
	return &Source{entropy: ulid.Monotonic(entropy, 0), now: now}
}

// ULID returns the next id.
func (s *Source) ULID() ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy)
}

// Prefixed returns "<prefix>_<ulid>".
func (s *Source) Prefixed(prefix string) string {
	return prefix + "_" + s.ULID().String()
}

func NewSessionID() SessionID   { return SessionID(shared().Prefixed(SessionPrefix)) }
func NewFragmentID() FragmentID { return FragmentID(shared().Prefixed(FragmentPrefix)) }
func NewTerminalID() TerminalID { return TerminalID(shared().Prefixed(TerminalPrefix)) }
func NewViewID() ViewID         { return ViewID(shared().Prefixed(ViewPrefix)) }
func NewRequestID() RequestID   { return RequestID(shared().Prefixed(RequestPrefix)) }

func (id SessionID) String() string  { return string(id) }
func (id FragmentID) String() string { return string(id) }
func (id TerminalID) String() string { return string(id) }
func (id ViewID) String() string     { return string(id) }
func (id RequestID) String() string  { return string(id) }

// Split separates a generated id into its prefix and ULID.
func Split(s string) (string, ulid.ULID, error) {
	i := strings.LastIndexByte(s, '_')
	if i < 0 {
		return "", ulid.ULID{}, ErrNoPrefix
	}
	u, err := ulid.ParseStrict(s[i+1:])
	if err != nil {
		return "", ulid.ULID{}, err
	}
	return s[:i], u, nil
}

// Timestamp returns the creation time encoded in a generated id.
func Timestamp(s string) (time.Time, error) {
	_, u, err := Split(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

// ValidSessionName reports whether a caller-chosen session id is usable:
// 1 to MaxSessionNameLen characters of letters, digits, '-', '_', '.'
// or ':'.
func ValidSessionName(name string) bool {
	if len(name) == 0 || len(name) > MaxSessionNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return false
		}
	}
	return true
}
