package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/uiblocks/internal/capability"
	"github.com/GriffinCanCode/uiblocks/internal/engine"
	"github.com/GriffinCanCode/uiblocks/internal/history"
	"github.com/GriffinCanCode/uiblocks/internal/shared/id"
)

// MaxDeliverBytes bounds one delivered chunk.
const MaxDeliverBytes = 1 << 20

// ListSessions lists live sessions with their stats.
func (h *Handlers) ListSessions(c *gin.Context) {
	ids := h.dir.List()
	stats := make([]engine.Stats, 0, len(ids))
	for _, sid := range ids {
		if s, ok := h.dir.Session(sid); ok {
			stats = append(stats, s.Stats())
		}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": stats})
}

// CreateSession creates a session ahead of its first block.
func (h *Handlers) CreateSession(c *gin.Context) {
	s, err := h.dir.Create(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.Stats())
}

// GetSession returns the stats of one session.
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Stats())
}

// DestroySession tears a session down. With ?purge=true its history
// is deleted as well.
func (h *Handlers) DestroySession(c *gin.Context) {
	sid := c.Param("id")
	if err := h.dir.Destroy(c.Request.Context(), sid); err != nil {
		fail(c, err)
		return
	}
	if h.history != nil && c.Query("purge") == "true" {
		n, err := h.history.Delete(c.Request.Context(), sid)
		if err != nil {
			fail(c, err)
			return
		}
		h.log.Debug("history purged", zap.String("session_id", sid), zap.Int64("rows", n))
	}
	c.Status(http.StatusNoContent)
}

// Deliver feeds the request body to a session as terminal output and
// answers with the text to display.
func (h *Handlers) Deliver(c *gin.Context) {
	sid := c.Param("id")
	if !id.ValidSessionName(sid) {
		fail(c, fmt.Errorf("%w: %q", engine.ErrInvalidSessionID, sid))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxDeliverBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("chunk exceeds %d bytes", MaxDeliverBytes)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	display := h.dir.Deliver(c.Request.Context(), sid, string(body))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(display))
}

type surfaceRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// SetSurface switches a session between immediate and coalesced
// scheduling.
func (h *Handlers) SetSurface(c *gin.Context) {
	var req surfaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.dir.SetSurfaceVisible(c.Param("id"), *req.Visible); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "visible": *req.Visible})
}

// Canvas returns the display list of a session, compressed when the
// client accepts it.
func (h *Handlers) Canvas(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	cv, ok := capability.CanvasOf(s)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session has no canvas"})
		return
	}
	if err := writeEncoded(c, http.StatusOK, cv.Snapshot()); err != nil {
		h.log.Warn("canvas encode failed", zap.String("session_id", s.ID()), zap.Error(err))
	}
}

// Sound drains the queued audio cues of a session.
func (h *Handlers) Sound(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	p, ok := capability.SoundOf(s)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session has no sound player"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cues": p.Drain(), "total": p.Total()})
}

// History lists recorded fragment outcomes, oldest first.
func (h *Handlers) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	limit := history.DefaultLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := h.history.List(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "entries": entries})
}

func (h *Handlers) session(c *gin.Context) (*engine.Session, bool) {
	sid := c.Param("id")
	s, ok := h.dir.Session(sid)
	if !ok {
		fail(c, fmt.Errorf("%w: %s", engine.ErrSessionNotFound, sid))
		return nil, false
	}
	return s, true
}
