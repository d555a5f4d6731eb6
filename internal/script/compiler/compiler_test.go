package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
	"github.com/GriffinCanCode/uiblocks/internal/script/lexer"
	"github.com/GriffinCanCode/uiblocks/internal/script/parser"
	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

func nop(context.Context, intrinsics.Env, []value.Value) (value.Value, error) {
	return value.NilValue, nil
}

func testRegistry(t *testing.T) *intrinsics.Registry {
	t.Helper()
	b := intrinsics.RegisterCore(intrinsics.NewBuilder()).
		Method("Canvas", "rect", 4, 5, "", nop).
		Method("Sound", "tone", 2, 3, "", nop)
	reg, err := b.Build()
	require.NoError(t, err)
	return reg
}

func compile(t *testing.T, src string) (*Program, error) {
	t.Helper()
	toks, err := lexer.Tokenize(src)
	require.NoError(t, err)
	seq, err := parser.Parse(toks)
	require.NoError(t, err)
	return Compile(seq, testRegistry(t))
}

const sample = `
	w = 10
	repeat 3 {
		Canvas.rect(w, w, 5, 5, "red")
		w = w + 10
	}
	if w > 20 && w < 100 { print("ok", w) } else { Sound.tone(440, 100) }
`

func TestCompileDeterministic(t *testing.T) {
	a, err := compile(t, sample)
	require.NoError(t, err)
	b, err := compile(t, sample)
	require.NoError(t, err)

	ab, err := a.MarshalBinary()
	require.NoError(t, err)
	bb, err := b.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, ab, bb)

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 64)
}

func TestCompileMetadata(t *testing.T) {
	p, err := compile(t, sample)
	require.NoError(t, err)

	assert.Equal(t, []string{"w", "#repeat0"}, p.Slots)
	assert.Equal(t, []string{"Canvas.rect", "print", "Sound.tone"}, p.Intrinsics)
	assert.Equal(t, []string{"Canvas", "Sound"}, p.Globals)

	// 10 appears twice in source but once in the pool.
	count := 0
	for _, c := range p.Constants {
		if n, ok := c.Number(); ok && n == 10 {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCompileJumpsInRange(t *testing.T) {
	p, err := compile(t, sample)
	require.NoError(t, err)
	for i, in := range p.Code {
		if in.Op == OpJump || in.Op == OpJumpIfFalse {
			assert.GreaterOrEqual(t, in.A, int32(0), "instruction %d", i)
			assert.LessOrEqual(t, int(in.A), len(p.Code), "instruction %d", i)
		}
	}
	assert.NotEmpty(t, p.Disassemble())
}

func TestMarshalRoundTrip(t *testing.T) {
	p, err := compile(t, `x = "s" + 1.5; y = nil; z = true; print(x, y, z)`)
	require.NoError(t, err)

	data, err := p.MarshalBinary()
	require.NoError(t, err)

	var q Program
	require.NoError(t, q.UnmarshalBinary(data))
	assert.Equal(t, p.Code, q.Code)
	assert.Equal(t, p.Slots, q.Slots)
	require.Len(t, q.Constants, len(p.Constants))
	for i := range p.Constants {
		assert.True(t, value.Equal(p.Constants[i], q.Constants[i]), "constant %d", i)
	}

	again, err := q.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"unknown function", "frobnicate(1)", "unknown function frobnicate"},
		{"unknown capability", "Window.open()", "unknown capability Window"},
		{"unknown method", "Canvas.explode()", "unknown function Canvas.explode"},
		{"too few arguments", "Canvas.rect(1, 2)", "Canvas.rect expects 4 to 5 arguments, got 2"},
		{"too many arguments", "len(1, 2)", "len expects 1 arguments, got 2"},
		{"never assigned", "print(y)", "undefined variable y"},
		{"global as value", "x = Canvas", "capability Canvas cannot be used as a value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, tt.src)
			require.Error(t, err)
			var compErr *Error
			require.ErrorAs(t, err, &compErr)
			assert.Contains(t, compErr.Msg, tt.msg)
		})
	}
}

func TestCompileAllowsLaterAssignment(t *testing.T) {
	// Reading before the assignment is a runtime fault, not a compile error.
	_, err := compile(t, "print(y); y = 1")
	assert.NoError(t, err)
}
