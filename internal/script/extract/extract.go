// Package extract locates UI blocks inside free-form terminal text.
//
// A block starts at a marker that ends with '{' and extends to the
// matching '}'. Braces inside single or double quoted strings do not
// count. Inside a string a backslash escapes the next character; outside
// one it only escapes a following quote, so a bare '}' always counts.
package extract

import (
	"errors"
	"strings"
)

// DefaultMarker opens a block when no other marker is configured.
const DefaultMarker = "@ui{"

// ErrInvalidMarker is returned by ValidateMarker.
var ErrInvalidMarker = errors.New("marker must be non-empty and end with '{'")

// ValidateMarker checks that marker can open a block.
func ValidateMarker(marker string) error {
	if !strings.HasSuffix(marker, "{") {
		return ErrInvalidMarker
	}
	return nil
}

// Fragment is one balanced block found in a text.
type Fragment struct {
	Index int    // position among the fragments of the scanned text
	Start int    // byte offset of the marker
	End   int    // byte offset just past the closing '}'
	Body  string // text between the marker and the closing '}'
}

// Scanner walks a text and yields its fragments in order.
type Scanner struct {
	text    string
	marker  string
	cursor  int
	pending int
	count   int
}

// NewScanner creates a scanner over text. marker must satisfy
// ValidateMarker.
func NewScanner(text, marker string) *Scanner {
	return &Scanner{text: text, marker: marker, pending: -1}
}

// Next returns the next complete fragment. It returns false once no
// further marker exists or the remaining block is unterminated; in the
// latter case Pending reports where that block starts.
func (s *Scanner) Next() (Fragment, bool) {
	if s.cursor >= len(s.text) {
		return Fragment{}, false
	}
	idx := strings.Index(s.text[s.cursor:], s.marker)
	if idx < 0 {
		if p := partialMarker(s.text[s.cursor:], s.marker); p >= 0 {
			s.pending = s.cursor + p
		}
		s.cursor = len(s.text)
		return Fragment{}, false
	}
	start := s.cursor + idx
	bodyStart := start + len(s.marker)

	end, ok := matchClose(s.text, bodyStart)
	if !ok {
		s.pending = start
		s.cursor = len(s.text)
		return Fragment{}, false
	}

	frag := Fragment{
		Index: s.count,
		Start: start,
		End:   end + 1,
		Body:  s.text[bodyStart:end],
	}
	s.count++
	s.cursor = end + 1
	return frag, true
}

// Pending returns the offset of an unterminated trailing block, or of a
// marker cut off by the end of the text, or -1.
func (s *Scanner) Pending() int {
	return s.pending
}

// Cursor returns the offset the scanner has consumed up to.
func (s *Scanner) Cursor() int {
	return s.cursor
}

// partialMarker returns the offset of the longest proper prefix of
// marker that ends text, or -1.
func partialMarker(text, marker string) int {
	n := len(marker) - 1
	if n > len(text) {
		n = len(text)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(text, marker[:n]) {
			return len(text) - n
		}
	}
	return -1
}

// matchClose returns the offset of the '}' closing a block whose body
// begins at from.
func matchClose(text string, from int) (int, bool) {
	depth := 0
	inString := false
	var quote byte
	escaped := false

	for i := from; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			if inString {
				escaped = true
			} else if i+1 < len(text) && (text[i+1] == '"' || text[i+1] == '\'') {
				i++
			}
			continue
		}
		if inString {
			if c == quote {
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return i, true
			}
			depth--
		}
	}
	return 0, false
}

// All returns every complete fragment of text and the offset of an
// unterminated trailing block (-1 when there is none).
func All(text, marker string) ([]Fragment, int) {
	s := NewScanner(text, marker)
	var frags []Fragment
	for {
		f, ok := s.Next()
		if !ok {
			break
		}
		frags = append(frags, f)
	}
	return frags, s.Pending()
}

// Harvest removes every complete block from text and returns the blocks
// with the text left over. Removing a block can join the halves of a
// marker around it, so the text is rescanned until no block remains;
// Start and End of fragments found after the first pass refer to the
// text of that pass. Surrounding whitespace is trimmed only when
// something was removed.
func Harvest(text, marker string) ([]Fragment, string) {
	var all []Fragment
	for {
		frags, _ := All(text, marker)
		if len(frags) == 0 {
			break
		}
		text = cut(text, frags)
		for _, f := range frags {
			f.Index = len(all)
			all = append(all, f)
		}
	}
	if len(all) > 0 {
		text = strings.TrimSpace(text)
	}
	return all, text
}

// Strip is Harvest without the fragments. Strip(Strip(t)) == Strip(t).
func Strip(text, marker string) string {
	_, out := Harvest(text, marker)
	return out
}

func cut(text string, frags []Fragment) string {
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, f := range frags {
		b.WriteString(text[last:f.Start])
		last = f.End
	}
	b.WriteString(text[last:])
	return b.String()
}
