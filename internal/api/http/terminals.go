package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/uiblocks/internal/terminal"
)

// MaxInputBytes bounds one write to a terminal.
const MaxInputBytes = 64 * 1024

// ListTerminals lists spawned terminals.
func (h *Handlers) ListTerminals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"terminals": h.terminals.List()})
}

// SpawnTerminal starts a shell whose output is delivered into the
// session of the same id. The body is optional.
func (h *Handlers) SpawnTerminal(c *gin.Context) {
	var spec terminal.Spec
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&spec); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	info, err := h.terminals.Spawn(spec)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// GetTerminal returns one terminal.
func (h *Handlers) GetTerminal(c *gin.Context) {
	info, err := h.terminals.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// KillTerminal terminates a shell.
func (h *Handlers) KillTerminal(c *gin.Context) {
	if err := h.terminals.Kill(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TerminalOutput returns and clears the display text buffered since the
// last read. Blocks have already been stripped from it.
func (h *Handlers) TerminalOutput(c *gin.Context) {
	out, err := h.terminals.Read(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", out)
}

// TerminalInput writes the request body to the shell.
func (h *Handlers) TerminalInput(c *gin.Context) {
	input, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxInputBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	if err := h.terminals.Write(c.Param("id"), input); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sizeRequest struct {
	Cols int `json:"cols" binding:"required,min=1"`
	Rows int `json:"rows" binding:"required,min=1"`
}

// ResizeTerminal changes the window size of a shell.
func (h *Handlers) ResizeTerminal(c *gin.Context) {
	var req sizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.terminals.Resize(c.Param("id"), req.Cols, req.Rows); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
