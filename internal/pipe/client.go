// Package pipe forwards a byte stream to a uiblocks server session and
// writes back the display text.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/uiblocks/internal/shared/id"
)

// DefaultChunkSize is how many bytes are read from the input per request.
const DefaultChunkSize = 4096

// ErrServerUnavailable is returned while the client's breaker is open.
var ErrServerUnavailable = errors.New("uiblocks server unavailable")

// Config configures a Client.
type Config struct {
	BaseURL    string
	SessionID  string
	Timeout    time.Duration
	MaxRetries int
}

// Client delivers chunks to one session.
type Client struct {
	resty     *resty.Client
	breaker   *resilience.Breaker
	sessionID string
}

// NewClient creates a client. An empty SessionID gets a generated one.
func NewClient(cfg Config) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", cfg.BaseURL, err)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = id.NewSessionID().String()
	}
	if !id.ValidSessionName(cfg.SessionID) {
		return nil, fmt.Errorf("invalid session id %q", cfg.SessionID)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("User-Agent", "uiblock-pipe/1.0").
		SetTransport(retryClient.HTTPClient.Transport).
		// Delivery is not idempotent: only retry requests that never
		// reached the server.
		AddRetryCondition(func(_ *resty.Response, err error) bool {
			return unreached(err)
		})

	breaker := resilience.New("uiblocks-server", resilience.Settings{
		MaxRequests:      1,
		Timeout:          5 * time.Second,
		FailureThreshold: 5,
	})

	return &Client{resty: r, breaker: breaker, sessionID: cfg.SessionID}, nil
}

// SessionID returns the session chunks are delivered to.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Deliver sends one chunk and returns its display text.
func (c *Client) Deliver(ctx context.Context, chunk []byte) (string, error) {
	var display string
	err := c.breaker.Do(func() error {
		tctx := tracing.WithTrace(ctx, tracing.TraceID(id.NewRequestID()), "")
		req := c.resty.R().
			SetContext(tctx).
			SetHeader("Content-Type", "text/plain; charset=utf-8").
			SetBody(chunk).
			SetPathParam("id", c.sessionID)
		tracing.InjectHeaders(tctx, func(k, v string) { req.SetHeader(k, v) })

		resp, err := req.Post("/sessions/{id}/deliver")
		if err != nil {
			return fmt.Errorf("deliver to %s: %w", c.sessionID, err)
		}
		if resp.IsError() {
			return fmt.Errorf("deliver to %s: %s: %s", c.sessionID, resp.Status(), strings.TrimSpace(resp.String()))
		}
		display = string(resp.Body())
		return nil
	})
	if resilience.Rejected(err) {
		return "", fmt.Errorf("%w: %w", ErrServerUnavailable, err)
	}
	return display, err
}

// Open creates the remote session so that a marker split across the
// first chunks is carried rather than displayed. Opening an existing
// session is a no-op.
func (c *Client) Open(ctx context.Context) error {
	return c.breaker.Do(func() error {
		resp, err := c.resty.R().SetContext(ctx).SetPathParam("id", c.sessionID).Post("/sessions/{id}")
		if err != nil {
			return fmt.Errorf("open %s: %w", c.sessionID, err)
		}
		if resp.IsError() {
			return fmt.Errorf("open %s: %s: %s", c.sessionID, resp.Status(), strings.TrimSpace(resp.String()))
		}
		return nil
	})
}

// Close destroys the remote session.
func (c *Client) Close(ctx context.Context) error {
	resp, err := c.resty.R().SetContext(ctx).SetPathParam("id", c.sessionID).Delete("/sessions/{id}")
	if err != nil {
		return err
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("close %s: %s", c.sessionID, resp.Status())
	}
	return nil
}

// Pump opens the session, copies r to it in chunks of at most size bytes
// and writes each display text to w. It returns the number of chunks
// sent.
func Pump(ctx context.Context, c *Client, r io.Reader, w io.Writer, size int) (int, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if err := c.Open(ctx); err != nil {
		return 0, err
	}
	buf := make([]byte, size)
	sent := 0
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			display, err := c.Deliver(ctx, buf[:n])
			if err != nil {
				return sent, err
			}
			sent++
			if _, err := io.WriteString(w, display); err != nil {
				return sent, err
			}
		}
		if errors.Is(rerr, io.EOF) {
			return sent, nil
		}
		if rerr != nil {
			return sent, rerr
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}
	}
}

func unreached(err error) bool {
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}
