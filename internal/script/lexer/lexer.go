// Package lexer turns the body of one UI block into tokens.
package lexer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/uiblocks/internal/script/token"
)

// MaxTokens bounds the token count of a single block body.
const MaxTokens = 1 << 16

// Error is a LexError: an invalid character sequence inside a block.
type Error struct {
	Pos token.Pos
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// Lexer scans a block body. A Lexer is not safe for concurrent use;
// create one per fragment.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
	line    int
	col     int
}

// New creates a lexer over input.
func New(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

// Tokenize scans the whole input. The returned slice always ends with an
// EOF token when err is nil.
func Tokenize(input string) ([]token.Token, error) {
	return New(input).All()
}

// All scans the remaining input.
func (l *Lexer) All() ([]token.Token, error) {
	var tokens []token.Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == token.EOF {
			return tokens, nil
		}
		if len(tokens) >= MaxTokens {
			return nil, &Error{Pos: tok.Pos, Msg: "block has too many tokens"}
		}
	}
}

// Next returns the next token.
func (l *Lexer) Next() (token.Token, error) {
	l.skipWhitespace()

	start := l.position()
	if l.ch == 0 && l.pos >= len(l.input) {
		return token.Token{Kind: token.EOF, Pos: start}, nil
	}

	switch l.ch {
	case '=':
		return l.twoChar('=', token.Assign, token.Eq, start), nil
	case '!':
		return l.twoChar('=', token.Bang, token.NotEq, start), nil
	case '<':
		return l.twoChar('=', token.Less, token.LessEq, start), nil
	case '>':
		return l.twoChar('=', token.Greater, token.GreaterEq, start), nil
	case '&':
		if l.peekChar() != '&' {
			return token.Token{}, &Error{Pos: start, Msg: "unexpected character '&' (did you mean '&&'?)"}
		}
		l.readChar()
		l.readChar()
		return token.Token{Kind: token.AndAnd, Lexeme: "&&", Pos: start}, nil
	case '|':
		if l.peekChar() != '|' {
			return token.Token{}, &Error{Pos: start, Msg: "unexpected character '|' (did you mean '||'?)"}
		}
		l.readChar()
		l.readChar()
		return token.Token{Kind: token.OrOr, Lexeme: "||", Pos: start}, nil
	case '"', '\'':
		return l.readString(start)
	}

	if kind, ok := single[l.ch]; ok {
		lexeme := string(l.ch)
		l.readChar()
		return token.Token{Kind: kind, Lexeme: lexeme, Pos: start}, nil
	}

	switch {
	case isLetter(l.ch):
		ident := l.readIdentifier()
		kind := token.Lookup(ident)
		tok := token.Token{Kind: kind, Lexeme: ident, Pos: start}
		switch kind {
		case token.True:
			tok.Literal = true
		case token.False:
			tok.Literal = false
		}
		return tok, nil
	case isDigit(l.ch):
		return l.readNumber(start)
	}

	if l.ch == '#' {
		return token.Token{}, &Error{Pos: start, Msg: "unexpected character '#' (comments are not supported; use a string statement)"}
	}
	return token.Token{}, &Error{Pos: start, Msg: fmt.Sprintf("unexpected character %q", l.ch)}
}

var single = map[byte]token.Kind{
	'+': token.Plus,
	'-': token.Minus,
	'*': token.Star,
	'/': token.Slash,
	'%': token.Percent,
	'(': token.LParen,
	')': token.RParen,
	'{': token.LBrace,
	'}': token.RBrace,
	',': token.Comma,
	'.': token.Dot,
	';': token.Semicolon,
}

func (l *Lexer) twoChar(next byte, one, two token.Kind, start token.Pos) token.Token {
	if l.peekChar() == next {
		lexeme := string([]byte{l.ch, next})
		l.readChar()
		l.readChar()
		return token.Token{Kind: two, Lexeme: lexeme, Pos: start}
	}
	lexeme := string(l.ch)
	l.readChar()
	return token.Token{Kind: one, Lexeme: lexeme, Pos: start}
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
	l.col++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) position() token.Pos {
	return token.Pos{Line: l.line, Col: l.col}
}

// The language has no comments; bare string statements serve as notes.
func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *Lexer) readString(start token.Pos) (token.Token, error) {
	quote := l.ch
	begin := l.pos
	var str strings.Builder

	l.readChar() // opening quote
	for l.ch != quote {
		if l.pos >= len(l.input) {
			return token.Token{}, &Error{Pos: start, Msg: "unterminated string"}
		}
		if l.ch == '\\' {
			escPos := l.position()
			l.readChar()
			switch l.ch {
			case 'n':
				str.WriteByte('\n')
			case 't':
				str.WriteByte('\t')
			case 'r':
				str.WriteByte('\r')
			case '\\', '"', '\'':
				str.WriteByte(l.ch)
			default:
				if l.pos >= len(l.input) {
					return token.Token{}, &Error{Pos: start, Msg: "unterminated string"}
				}
				return token.Token{}, &Error{Pos: escPos, Msg: fmt.Sprintf("invalid escape sequence \\%c", l.ch)}
			}
		} else {
			str.WriteByte(l.ch)
		}
		l.readChar()
	}
	l.readChar() // closing quote

	return token.Token{
		Kind:    token.String,
		Lexeme:  l.input[begin:l.pos],
		Literal: str.String(),
		Pos:     start,
	}, nil
}

func (l *Lexer) readIdentifier() string {
	begin := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[begin:l.pos]
}

func (l *Lexer) readNumber(start token.Pos) (token.Token, error) {
	begin := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if isLetter(l.ch) {
		return token.Token{}, &Error{Pos: start, Msg: fmt.Sprintf("malformed number %q", l.input[begin:l.pos+1])}
	}

	lexeme := l.input[begin:l.pos]
	n, err := strconv.ParseFloat(lexeme, 64)
	if err != nil {
		return token.Token{}, &Error{Pos: start, Msg: fmt.Sprintf("malformed number %q", lexeme)}
	}
	return token.Token{Kind: token.Number, Lexeme: lexeme, Literal: n, Pos: start}, nil
}

func isLetter(ch byte) bool {
	return ch == '_' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
