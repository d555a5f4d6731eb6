package terminal

import (
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// decoder turns raw PTY output into UTF-8 text. Output is assumed to be
// UTF-8 until a chunk fails to validate; the charset is then detected
// once and used for the rest of the stream.
type decoder struct {
	charset string
	decode  func([]byte) ([]byte, error)
	tail    []byte
}

// Charset reports the detected charset, "utf-8" until one is detected.
func (d *decoder) Charset() string {
	if d.charset == "" {
		return "utf-8"
	}
	return d.charset
}

// Decode converts p. A UTF-8 sequence split across chunks is held back
// until its remaining bytes arrive.
func (d *decoder) Decode(p []byte) string {
	data := append(d.tail, p...)
	d.tail = nil

	if d.decode == nil {
		cut := len(data) - incompleteSuffix(data)
		body := data[:cut]
		if utf8.Valid(body) {
			d.tail = append([]byte(nil), data[cut:]...)
			return string(body)
		}
		d.detect(data)
		if d.decode == nil {
			return strings.ToValidUTF8(string(data), "�")
		}
	}
	out, err := d.decode(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}

// Flush returns whatever is held back, replacing invalid bytes.
func (d *decoder) Flush() string {
	if len(d.tail) == 0 {
		return ""
	}
	s := strings.ToValidUTF8(string(d.tail), "�")
	d.tail = nil
	return s
}

func (d *decoder) detect(data []byte) {
	res, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || res == nil {
		return
	}
	name := strings.ToLower(res.Charset)
	if name == "utf-8" {
		return
	}
	enc, canonical := charset.Lookup(name)
	if enc == nil {
		return
	}
	d.charset = canonical
	dec := enc.NewDecoder()
	d.decode = dec.Bytes
}

// incompleteSuffix returns the index where a trailing, incomplete UTF-8
// sequence starts, or len(p) when p ends on a rune boundary.
func incompleteSuffix(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return len(p)
			}
			return i
		}
	}
	return len(p)
}
