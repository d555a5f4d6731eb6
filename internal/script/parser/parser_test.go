package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/uiblocks/internal/script/ast"
	"github.com/GriffinCanCode/uiblocks/internal/script/lexer"
	"github.com/GriffinCanCode/uiblocks/internal/script/token"
)

func parse(t *testing.T, src string) (*ast.Sequence, error) {
	t.Helper()
	toks, err := lexer.Tokenize(src)
	require.NoError(t, err)
	return Parse(toks)
}

func TestParseStatements(t *testing.T) {
	seq, err := parse(t, `
		x = 1 + 2 * 3
		Canvas.rect(x, 0, 10, 10, "red");
		if x > 5 { print("big") } else if x > 2 { print("mid") } else { print("small") }
		repeat 3 { x = x - 1 }
	`)
	require.NoError(t, err)
	require.Len(t, seq.Stmts, 4)

	assign, ok := seq.Stmts[0].(*ast.Assignment)
	require.True(t, ok)
	assert.Equal(t, "x", assign.Name)
	sum, ok := assign.Value.(*ast.Binary)
	require.True(t, ok)
	assert.Equal(t, token.Plus, sum.Op)
	product, ok := sum.Right.(*ast.Binary)
	require.True(t, ok, "multiplication binds tighter than addition")
	assert.Equal(t, token.Star, product.Op)

	stmt, ok := seq.Stmts[1].(*ast.ExprStmt)
	require.True(t, ok)
	call, ok := stmt.Expr.(*ast.Call)
	require.True(t, ok)
	assert.Equal(t, "Canvas.rect", call.Callee())
	assert.Len(t, call.Args, 5)

	ifStmt, ok := seq.Stmts[2].(*ast.If)
	require.True(t, ok)
	elseIf, ok := ifStmt.Else.(*ast.If)
	require.True(t, ok)
	_, ok = elseIf.Else.(*ast.Sequence)
	assert.True(t, ok)

	rep, ok := seq.Stmts[3].(*ast.Repeat)
	require.True(t, ok)
	assert.Len(t, rep.Body.Stmts, 1)
}

func TestParsePrecedence(t *testing.T) {
	seq, err := parse(t, "a = !x || y && z == 1")
	require.NoError(t, err)

	or := seq.Stmts[0].(*ast.Assignment).Value.(*ast.Binary)
	assert.Equal(t, token.OrOr, or.Op)
	_, ok := or.Left.(*ast.Unary)
	assert.True(t, ok)
	and := or.Right.(*ast.Binary)
	assert.Equal(t, token.AndAnd, and.Op)
	eq := and.Right.(*ast.Binary)
	assert.Equal(t, token.Eq, eq.Op)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"missing operand", "x = 1 +", "unexpected end of input"},
		{"unclosed paren", "x = (1 + 2", "expected ')'"},
		{"unclosed block", "if x { y = 1", "expected '}'"},
		{"missing block", "repeat 3 y = 1", "expected '{'"},
		{"method without call", "Canvas.rect", "expected '('"},
		{"bad argument list", "print(1 2)", "expected ',' or ')'"},
		{"stray brace", "}", "unexpected '}'"},
		{"deep nesting", strings.Repeat("(", MaxDepth+1) + "1" + strings.Repeat(")", MaxDepth+1), "nesting deeper"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.src)
			require.Error(t, err)

			var parseErr *Error
			require.ErrorAs(t, err, &parseErr)
			assert.Contains(t, parseErr.Msg, tt.msg)
		})
	}
}

func TestParseIsTotal(t *testing.T) {
	inputs := [][]token.Token{
		nil,
		{},
		{{Kind: token.Ident, Lexeme: "x"}},
		{{Kind: token.Ident, Lexeme: "x"}, {Kind: token.Assign}},
		{{Kind: token.If}},
		{{Kind: token.Ident, Lexeme: "a"}, {Kind: token.Dot}},
		{{Kind: token.LBrace}, {Kind: token.RBrace}},
	}
	for _, toks := range inputs {
		assert.NotPanics(t, func() { _, _ = Parse(toks) })
	}
}

func TestEmptyProgram(t *testing.T) {
	seq, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, seq.Stmts)
}
