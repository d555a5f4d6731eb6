// Package http exposes sessions, terminals and metrics over a gin router.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/uiblocks/internal/capability/browser"
	"github.com/GriffinCanCode/uiblocks/internal/engine"
	"github.com/GriffinCanCode/uiblocks/internal/history"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/logging"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/uiblocks/internal/terminal"
)

// Version is reported by the root and health endpoints.
const Version = "0.3.0"

// Options wires the handlers to their backends. History and Browser may
// be nil.
type Options struct {
	Directory *engine.Directory
	Browser   *browser.Manager
	History   *history.Store
	Terminals *terminal.Manager
	Metrics   *monitoring.Metrics
	Logger    *logging.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	dir       *engine.Directory
	browser   *browser.Manager
	history   *history.Store
	terminals *terminal.Manager
	metrics   *monitoring.Metrics
	log       *logging.Logger
	started   time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(opts Options) *Handlers {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	return &Handlers{
		dir:       opts.Directory,
		browser:   opts.Browser,
		history:   opts.History,
		terminals: opts.Terminals,
		metrics:   opts.Metrics,
		log:       opts.Logger.Component("http"),
		started:   time.Now(),
	}
}

// Routes registers every endpoint on r.
func (h *Handlers) Routes(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/intrinsics", h.Intrinsics)

	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions/:id", h.CreateSession)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.DestroySession)
	r.POST("/sessions/:id/deliver", h.Deliver)
	r.PUT("/sessions/:id/surface", h.SetSurface)
	r.GET("/sessions/:id/canvas", h.Canvas)
	r.GET("/sessions/:id/sound", h.Sound)
	r.GET("/sessions/:id/history", h.History)

	if h.terminals != nil {
		r.GET("/terminals", h.ListTerminals)
		r.POST("/terminals", h.SpawnTerminal)
		r.GET("/terminals/:id", h.GetTerminal)
		r.DELETE("/terminals/:id", h.KillTerminal)
		r.GET("/terminals/:id/output", h.TerminalOutput)
		r.POST("/terminals/:id/input", h.TerminalInput)
		r.PUT("/terminals/:id/size", h.ResizeTerminal)
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{})))
	r.GET("/metrics/json", h.MetricsJSON)
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "uiblocks",
		"version": Version,
		"marker":  h.dir.Marker(),
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":         "healthy",
		"version":        Version,
		"sessions":       len(h.dir.List()),
		"history":        h.history != nil,
		"uptime_seconds": time.Since(h.started).Seconds(),
	}
	if h.terminals != nil {
		body["terminals"] = len(h.terminals.List())
	}
	if h.browser != nil {
		body["views"] = len(h.browser.Views())
	}
	c.JSON(http.StatusOK, body)
}

type intrinsicInfo struct {
	Name  string `json:"name"`
	Arity string `json:"arity"`
	Doc   string `json:"doc"`
}

// Intrinsics lists every callable name with its arity.
func (h *Handlers) Intrinsics(c *gin.Context) {
	reg := h.dir.Registry()
	specs := reg.Specs()
	out := make([]intrinsicInfo, 0, len(specs))
	for i := range specs {
		out = append(out, intrinsicInfo{
			Name:  specs[i].Name(),
			Arity: specs[i].Arity(),
			Doc:   specs[i].Doc,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"globals":    reg.Globals(),
		"intrinsics": out,
	})
}

// MetricsJSON serves the metrics snapshot.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound), errors.Is(err, terminal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, terminal.ErrExited):
		return http.StatusConflict
	case errors.Is(err, engine.ErrClosed), errors.Is(err, history.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail records err on the context for tracing and writes it as JSON.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}
