// Package parser builds the syntax tree of one UI block from its tokens.
package parser

import (
	"fmt"

	"github.com/GriffinCanCode/uiblocks/internal/script/ast"
	"github.com/GriffinCanCode/uiblocks/internal/script/token"
)

// MaxDepth bounds expression and block nesting.
const MaxDepth = 128

// Error is a ParseError: the token sequence does not form a valid block.
type Error struct {
	Pos token.Pos
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// Parser consumes a token slice. Parse is total: any slice, including
// one without a trailing EOF, yields a tree or an *Error.
type Parser struct {
	tokens []token.Token
	pos    int
	depth  int
}

// Parse parses tokens into a sequence of statements.
func Parse(tokens []token.Token) (*ast.Sequence, error) {
	p := &Parser{tokens: tokens}
	return p.parseProgram()
}

func (p *Parser) parseProgram() (*ast.Sequence, error) {
	seq := &ast.Sequence{Pos: p.peek().Pos}
	for !p.check(token.EOF) {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		seq.Stmts = append(seq.Stmts, stmt)
	}
	return seq, nil
}

func (p *Parser) parseStatement() (ast.Stmt, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	var (
		stmt ast.Stmt
		err  error
	)
	switch {
	case p.check(token.If):
		stmt, err = p.parseIf()
	case p.check(token.Repeat):
		stmt, err = p.parseRepeat()
	case p.check(token.Ident) && p.peekAt(1).Kind == token.Assign:
		stmt, err = p.parseAssignment()
	default:
		start := p.peek().Pos
		var expr ast.Expr
		expr, err = p.parseExpression()
		if err == nil {
			stmt = &ast.ExprStmt{Pos: start, Expr: expr}
		}
	}
	if err != nil {
		return nil, err
	}
	p.match(token.Semicolon)
	return stmt, nil
}

func (p *Parser) parseAssignment() (ast.Stmt, error) {
	name := p.advance()
	p.advance() // '='
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &ast.Assignment{Pos: name.Pos, Name: name.Lexeme, Value: value}, nil
}

func (p *Parser) parseIf() (ast.Stmt, error) {
	kw := p.advance()
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock("if condition")
	if err != nil {
		return nil, err
	}

	node := &ast.If{Pos: kw.Pos, Cond: cond, Then: then}
	if !p.match(token.Else) {
		return node, nil
	}
	if p.check(token.If) {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		node.Else, err = p.parseIf()
	} else {
		node.Else, err = p.parseBlock("'else'")
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (p *Parser) parseRepeat() (ast.Stmt, error) {
	kw := p.advance()
	count, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock("repeat count")
	if err != nil {
		return nil, err
	}
	return &ast.Repeat{Pos: kw.Pos, Count: count, Body: body}, nil
}

func (p *Parser) parseBlock(after string) (*ast.Sequence, error) {
	open := p.peek()
	if !p.match(token.LBrace) {
		return nil, p.errorf(open, "expected '{' after %s, found %s", after, open)
	}
	seq := &ast.Sequence{Pos: open.Pos}
	for !p.check(token.RBrace) {
		if p.check(token.EOF) {
			return nil, p.errorf(p.peek(), "expected '}' to close block opened at %s", open.Pos)
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		seq.Stmts = append(seq.Stmts, stmt)
	}
	p.advance()
	return seq, nil
}

func (p *Parser) parseExpression() (ast.Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseOr()
}

// binaryLevel parses left-associative operators of one precedence level.
func (p *Parser) binaryLevel(next func() (ast.Expr, error), ops ...token.Kind) (ast.Expr, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if !p.matchAny(ops...) {
			return left, nil
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Pos: op.Pos, Op: op.Kind, Left: left, Right: right}
	}
}

func (p *Parser) parseOr() (ast.Expr, error) {
	return p.binaryLevel(p.parseAnd, token.OrOr)
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	return p.binaryLevel(p.parseEquality, token.AndAnd)
}

func (p *Parser) parseEquality() (ast.Expr, error) {
	return p.binaryLevel(p.parseComparison, token.Eq, token.NotEq)
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	return p.binaryLevel(p.parseTerm, token.Less, token.LessEq, token.Greater, token.GreaterEq)
}

func (p *Parser) parseTerm() (ast.Expr, error) {
	return p.binaryLevel(p.parseFactor, token.Plus, token.Minus)
}

func (p *Parser) parseFactor() (ast.Expr, error) {
	return p.binaryLevel(p.parseUnary, token.Star, token.Slash, token.Percent)
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	op := p.peek()
	if !p.matchAny(token.Bang, token.Minus) {
		return p.parseCall()
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &ast.Unary{Pos: op.Pos, Op: op.Kind, Operand: operand}, nil
}

func (p *Parser) parseCall() (ast.Expr, error) {
	if !p.check(token.Ident) {
		return p.parsePrimary()
	}
	switch p.peekAt(1).Kind {
	case token.LParen:
		name := p.advance()
		return p.finishCall(name, "", name.Lexeme)
	case token.Dot:
		recv := p.advance()
		p.advance() // '.'
		name := p.peek()
		if !p.match(token.Ident) {
			return nil, p.errorf(name, "expected method name after '%s.', found %s", recv.Lexeme, name)
		}
		if !p.check(token.LParen) {
			return nil, p.errorf(p.peek(), "expected '(' after %s.%s, found %s", recv.Lexeme, name.Lexeme, p.peek())
		}
		return p.finishCall(recv, recv.Lexeme, name.Lexeme)
	}
	return p.parsePrimary()
}

func (p *Parser) finishCall(at token.Token, receiver, name string) (ast.Expr, error) {
	p.advance() // '('
	call := &ast.Call{Pos: at.Pos, Receiver: receiver, Name: name}
	if p.match(token.RParen) {
		return call, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if p.match(token.RParen) {
			return call, nil
		}
		if !p.match(token.Comma) {
			return nil, p.errorf(p.peek(), "expected ',' or ')' in arguments to %s, found %s", call.Callee(), p.peek())
		}
	}
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok := p.peek()
	switch tok.Kind {
	case token.Number, token.String, token.True, token.False:
		p.advance()
		return &ast.Literal{Pos: tok.Pos, Value: tok.Literal}, nil
	case token.Nil:
		p.advance()
		return &ast.Literal{Pos: tok.Pos}, nil
	case token.Ident:
		p.advance()
		return &ast.VariableRef{Pos: tok.Pos, Name: tok.Lexeme}, nil
	case token.LParen:
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if !p.match(token.RParen) {
			return nil, p.errorf(p.peek(), "expected ')' to close '(' at %s, found %s", tok.Pos, p.peek())
		}
		return expr, nil
	}
	return nil, p.errorf(tok, "unexpected %s", tok)
}

func (p *Parser) enter() error {
	p.depth++
	if p.depth > MaxDepth {
		return p.errorf(p.peek(), "nesting deeper than %d", MaxDepth)
	}
	return nil
}

func (p *Parser) leave() {
	p.depth--
}

func (p *Parser) peek() token.Token {
	return p.peekAt(0)
}

func (p *Parser) peekAt(n int) token.Token {
	i := p.pos + n
	if i < len(p.tokens) {
		return p.tokens[i]
	}
	eof := token.Token{Kind: token.EOF}
	if len(p.tokens) > 0 {
		eof.Pos = p.tokens[len(p.tokens)-1].Pos
	}
	return eof
}

func (p *Parser) advance() token.Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) check(kind token.Kind) bool {
	return p.peek().Kind == kind
}

func (p *Parser) match(kind token.Kind) bool {
	if p.check(kind) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) matchAny(kinds ...token.Kind) bool {
	for _, k := range kinds {
		if p.match(k) {
			return true
		}
	}
	return false
}

func (p *Parser) errorf(at token.Token, format string, args ...interface{}) error {
	return &Error{Pos: at.Pos, Msg: fmt.Sprintf(format, args...)}
}
