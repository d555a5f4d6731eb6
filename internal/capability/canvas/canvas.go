// Package canvas is the drawing capability behind the Canvas global.
// Scripts append to a display list; hosts read it back as a Snapshot.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/uiblocks/internal/capability/assets"
	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

// Global is the script name of the capability.
const Global = "Canvas"

// MaxOps bounds the display list of one canvas.
const MaxOps = 10000

const (
	defaultColor      = "#ffffff"
	defaultBackground = "#000000"
)

var (
	ErrFull     = fmt.Errorf("display list is full (%d operations)", MaxOps)
	ErrNoAssets = errors.New("no asset root configured")
)

// Surface is notified when a script shows or hides the canvas.
type Surface interface {
	SetSurfaceVisible(visible bool)
}

// Op is one display list entry.
type Op struct {
	Kind  string  `json:"op"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w,omitempty"`
	H     float64 `json:"h,omitempty"`
	R     float64 `json:"r,omitempty"`
	X2    float64 `json:"x2,omitempty"`
	Y2    float64 `json:"y2,omitempty"`
	Text  string  `json:"text,omitempty"`
	Color string  `json:"color,omitempty"`
	Asset string  `json:"asset,omitempty"`
	MIME  string  `json:"mime,omitempty"`
}

// Snapshot is a copy of the canvas state.
type Snapshot struct {
	Visible    bool    `json:"visible"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Background string  `json:"background"`
	Version    uint64  `json:"version"`
	Ops        []Op    `json:"ops"`
}

// Canvas holds the display list of one session.
type Canvas struct {
	surface Surface
	assets  *assets.Resolver

	mu         sync.RWMutex
	visible    bool
	width      float64
	height     float64
	background string
	ops        []Op
	version    uint64
}

// New creates a hidden 640x480 canvas. resolver may be nil, in which
// case Canvas.image fails.
func New(surface Surface, resolver *assets.Resolver) *Canvas {
	return &Canvas{
		surface:    surface,
		assets:     resolver,
		width:      640,
		height:     480,
		background: defaultBackground,
	}
}

// Ready always reports true: drawing needs no asynchronous setup.
func (c *Canvas) Ready() bool {
	return true
}

// Snapshot copies the current state.
func (c *Canvas) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ops := make([]Op, len(c.ops))
	copy(ops, c.ops)
	return Snapshot{
		Visible:    c.visible,
		Width:      c.width,
		Height:     c.height,
		Background: c.background,
		Version:    c.version,
		Ops:        ops,
	}
}

func (c *Canvas) setVisible(visible bool) {
	c.mu.Lock()
	c.visible = visible
	c.version++
	c.mu.Unlock()
	if c.surface != nil {
		c.surface.SetSurfaceVisible(visible)
	}
}

func (c *Canvas) resize(w, h float64) {
	c.mu.Lock()
	c.width, c.height = w, h
	c.version++
	c.mu.Unlock()
}

func (c *Canvas) clear(background string) {
	c.mu.Lock()
	c.ops = nil
	c.background = background
	c.version++
	c.mu.Unlock()
}

func (c *Canvas) draw(op Op) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ops) >= MaxOps {
		return ErrFull
	}
	c.ops = append(c.ops, op)
	c.version++
	return nil
}

// Register adds the Canvas intrinsics.
func Register(b *intrinsics.Builder) *intrinsics.Builder {
	return b.
		Method(Global, "show", 0, 0, "show the canvas surface", method(showOp)).
		Method(Global, "hide", 0, 0, "hide the canvas surface", method(hideOp)).
		Method(Global, "size", 2, 2, "set the surface size", method(sizeOp)).
		Method(Global, "clear", 0, 1, "clear the display list, optionally to a color", method(clearOp)).
		Method(Global, "rect", 4, 5, "draw a rectangle", method(rectOp)).
		Method(Global, "circle", 3, 4, "draw a circle", method(circleOp)).
		Method(Global, "line", 4, 5, "draw a line", method(lineOp)).
		Method(Global, "text", 3, 4, "draw text", method(textOp)).
		Method(Global, "image", 3, 3, "draw an image asset", method(imageOp))
}

type handler func(c *Canvas, args []value.Value) error

func method(fn handler) intrinsics.Func {
	return func(_ context.Context, env intrinsics.Env, args []value.Value) (value.Value, error) {
		g, ok := env.Global(Global)
		if !ok {
			return value.NilValue, intrinsics.ErrUnavailable
		}
		c, ok := g.(*Canvas)
		if !ok {
			return value.NilValue, fmt.Errorf("%s is bound to %T", Global, g)
		}
		return value.NilValue, fn(c, args)
	}
}

func showOp(c *Canvas, _ []value.Value) error {
	c.setVisible(true)
	return nil
}

func hideOp(c *Canvas, _ []value.Value) error {
	c.setVisible(false)
	return nil
}

func sizeOp(c *Canvas, args []value.Value) error {
	w, err := intrinsics.NonNegative(args, 0)
	if err != nil {
		return err
	}
	h, err := intrinsics.NonNegative(args, 1)
	if err != nil {
		return err
	}
	c.resize(w, h)
	return nil
}

func clearOp(c *Canvas, args []value.Value) error {
	color, err := intrinsics.OptString(args, 0, defaultBackground)
	if err != nil {
		return err
	}
	c.clear(color)
	return nil
}

func numbers(args []value.Value, n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		v, err := intrinsics.Number(args, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func rectOp(c *Canvas, args []value.Value) error {
	n, err := numbers(args, 4)
	if err != nil {
		return err
	}
	color, err := intrinsics.OptString(args, 4, defaultColor)
	if err != nil {
		return err
	}
	return c.draw(Op{Kind: "rect", X: n[0], Y: n[1], W: n[2], H: n[3], Color: color})
}

func circleOp(c *Canvas, args []value.Value) error {
	n, err := numbers(args, 2)
	if err != nil {
		return err
	}
	r, err := intrinsics.NonNegative(args, 2)
	if err != nil {
		return err
	}
	color, err := intrinsics.OptString(args, 3, defaultColor)
	if err != nil {
		return err
	}
	return c.draw(Op{Kind: "circle", X: n[0], Y: n[1], R: r, Color: color})
}

func lineOp(c *Canvas, args []value.Value) error {
	n, err := numbers(args, 4)
	if err != nil {
		return err
	}
	color, err := intrinsics.OptString(args, 4, defaultColor)
	if err != nil {
		return err
	}
	return c.draw(Op{Kind: "line", X: n[0], Y: n[1], X2: n[2], Y2: n[3], Color: color})
}

func textOp(c *Canvas, args []value.Value) error {
	n, err := numbers(args, 2)
	if err != nil {
		return err
	}
	// Any value can be drawn; it is formatted like print.
	s := args[2].String()
	color, err := intrinsics.OptString(args, 3, defaultColor)
	if err != nil {
		return err
	}
	return c.draw(Op{Kind: "text", X: n[0], Y: n[1], Text: s, Color: color})
}

func imageOp(c *Canvas, args []value.Value) error {
	n, err := numbers(args, 2)
	if err != nil {
		return err
	}
	p, err := intrinsics.String(args, 2)
	if err != nil {
		return err
	}
	if c.assets == nil {
		return ErrNoAssets
	}
	a, err := c.assets.ResolveKind(p, "image/")
	if err != nil {
		return err
	}
	return c.draw(Op{Kind: "image", X: n[0], Y: n[1], Asset: a.Rel, MIME: a.MIME})
}
