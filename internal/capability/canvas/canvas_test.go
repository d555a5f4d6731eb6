package canvas

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/uiblocks/internal/capability/assets"
	"github.com/GriffinCanCode/uiblocks/internal/script/compiler"
	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
	"github.com/GriffinCanCode/uiblocks/internal/script/lexer"
	"github.com/GriffinCanCode/uiblocks/internal/script/parser"
	"github.com/GriffinCanCode/uiblocks/internal/script/vm"
)

type surface struct{ visible []bool }

func (s *surface) SetSurfaceVisible(v bool) { s.visible = append(s.visible, v) }

type env struct{ c *Canvas }

func (e *env) SessionID() string { return "s1" }
func (e *env) Global(name string) (intrinsics.Capability, bool) {
	if name == Global && e.c != nil {
		return e.c, true
	}
	return nil, false
}
func (e *env) Store() intrinsics.Store { return nil }
func (e *env) Print(string)            {}

func run(t *testing.T, c *Canvas, src string) *vm.Error {
	t.Helper()
	reg, err := Register(intrinsics.NewBuilder()).Build()
	require.NoError(t, err)
	tokens, err := lexer.Tokenize(src)
	require.NoError(t, err)
	seq, err := parser.Parse(tokens)
	require.NoError(t, err)
	prog, err := compiler.Compile(seq, reg)
	require.NoError(t, err)
	return vm.New(reg, vm.Options{}).Execute(context.Background(), prog, &env{c: c}).Err
}

func TestDrawing(t *testing.T) {
	s := &surface{}
	c := New(s, nil)

	verr := run(t, c, `
		Canvas.size(320, 200)
		Canvas.show()
		Canvas.rect(1, 2, 3, 4)
		Canvas.circle(10, 10, 5, "red")
		Canvas.line(0, 0, 5, 5, "#0f0")
		Canvas.text(4, 8, 42)
	`)
	require.Nil(t, verr)

	snap := c.Snapshot()
	assert.True(t, snap.Visible)
	assert.Equal(t, []bool{true}, s.visible)
	assert.Equal(t, 320.0, snap.Width)
	assert.Equal(t, 200.0, snap.Height)
	assert.Equal(t, []Op{
		{Kind: "rect", X: 1, Y: 2, W: 3, H: 4, Color: "#ffffff"},
		{Kind: "circle", X: 10, Y: 10, R: 5, Color: "red"},
		{Kind: "line", X: 0, Y: 0, X2: 5, Y2: 5, Color: "#0f0"},
		{Kind: "text", X: 4, Y: 8, Text: "42", Color: "#ffffff"},
	}, snap.Ops)
	assert.Equal(t, uint64(6), snap.Version)
}

func TestClearAndHide(t *testing.T) {
	s := &surface{}
	c := New(s, nil)

	require.Nil(t, run(t, c, `Canvas.rect(0, 0, 1, 1) Canvas.clear("#123") Canvas.hide()`))

	snap := c.Snapshot()
	assert.Empty(t, snap.Ops)
	assert.Equal(t, "#123", snap.Background)
	assert.False(t, snap.Visible)
	assert.Equal(t, []bool{false}, s.visible)
}

func TestArgumentErrors(t *testing.T) {
	c := New(nil, nil)

	verr := run(t, c, `Canvas.rect("a", 0, 1, 1)`)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Error(), "Canvas.rect: argument 1: expected number, got string")

	verr = run(t, c, `Canvas.circle(0, 0, -1)`)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Error(), "non-negative")

	verr = run(t, c, `Canvas.image(0, 0, "logo.png")`)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Error(), ErrNoAssets.Error())
}

func TestImageResolvesAssets(t *testing.T) {
	root := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	require.NoError(t, os.WriteFile(filepath.Join(root, "logo.png"), png, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644))
	resolver, err := assets.New(root, nil)
	require.NoError(t, err)
	c := New(nil, resolver)

	require.Nil(t, run(t, c, `Canvas.image(1, 2, "logo.png")`))
	assert.Equal(t, []Op{{Kind: "image", X: 1, Y: 2, Asset: "logo.png", MIME: "image/png"}}, c.Snapshot().Ops)

	verr := run(t, c, `Canvas.image(1, 2, "../logo.png")`)
	require.NotNil(t, verr)
	assert.ErrorIs(t, verr, assets.ErrEscapes)

	verr = run(t, c, `Canvas.image(1, 2, "notes.txt")`)
	require.NotNil(t, verr)
	assert.ErrorIs(t, verr, assets.ErrWrongKind)
}

func TestDisplayListLimit(t *testing.T) {
	c := New(nil, nil)
	for i := 0; i < MaxOps; i++ {
		require.NoError(t, c.draw(Op{Kind: "rect"}))
	}
	assert.ErrorIs(t, c.draw(Op{Kind: "rect"}), ErrFull)
}

func TestUnboundCanvas(t *testing.T) {
	verr := run(t, nil, `Canvas.show()`)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Error(), "capability Canvas is not available")
}
