package http

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	encodingZstd = "zstd"
	encodingGzip = "gzip"
)

// minCompressSize is the body size below which compression is skipped.
const minCompressSize = 512

var zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
})

// negotiate picks zstd over gzip from an Accept-Encoding header. It
// returns "" when neither is acceptable.
func negotiate(header string) string {
	var zstdOK, gzipOK bool
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(part, ";")
		if refused(params) {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case encodingZstd:
			zstdOK = true
		case encodingGzip:
			gzipOK = true
		case "*":
			zstdOK, gzipOK = true, true
		}
	}
	switch {
	case zstdOK:
		return encodingZstd
	case gzipOK:
		return encodingGzip
	default:
		return ""
	}
}

// refused reports whether params carry q=0.
func refused(params string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || strings.TrimSpace(k) != "q" {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err == nil && q == 0
	}
	return false
}

func compress(encoding string, body []byte) ([]byte, error) {
	switch encoding {
	case encodingZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(body, make([]byte, 0, len(body)/2)), nil
	case encodingGzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// writeEncoded marshals v with sonic and compresses it per the request's
// Accept-Encoding. A compression failure falls back to the plain body
// and is returned for logging.
func writeEncoded(c *gin.Context, status int, v interface{}) error {
	body, err := sonic.Marshal(v)
	if err != nil {
		fail(c, fmt.Errorf("failed to encode response: %w", err))
		return err
	}

	c.Header("Vary", "Accept-Encoding")
	var cerr error
	if len(body) >= minCompressSize {
		if enc := negotiate(c.GetHeader("Accept-Encoding")); enc != "" {
			out, err := compress(enc, body)
			if err == nil {
				c.Header("Content-Encoding", enc)
				body = out
			}
			cerr = err
		}
	}
	c.Data(status, "application/json; charset=utf-8", body)
	return cerr
}
