// Package token defines the lexical units produced for one UI block.
package token

import "fmt"

// Kind tags a token
type Kind int

const (
	EOF Kind = iota
	Ident
	Number
	String
	True
	False
	Nil
	If
	Else
	Repeat

	Assign    // =
	Plus      // +
	Minus     // -
	Star      // *
	Slash     // /
	Percent   // %
	Bang      // !
	Eq        // ==
	NotEq     // !=
	Less      // <
	LessEq    // <=
	Greater   // >
	GreaterEq // >=
	AndAnd    // &&
	OrOr      // ||
	LParen    // (
	RParen    // )
	LBrace    // {
	RBrace    // }
	Comma     // ,
	Dot       // .
	Semicolon // ;
)

var kindNames = map[Kind]string{
	EOF:       "end of input",
	Ident:     "identifier",
	Number:    "number",
	String:    "string",
	True:      "true",
	False:     "false",
	Nil:       "nil",
	If:        "if",
	Else:      "else",
	Repeat:    "repeat",
	Assign:    "=",
	Plus:      "+",
	Minus:     "-",
	Star:      "*",
	Slash:     "/",
	Percent:   "%",
	Bang:      "!",
	Eq:        "==",
	NotEq:     "!=",
	Less:      "<",
	LessEq:    "<=",
	Greater:   ">",
	GreaterEq: ">=",
	AndAnd:    "&&",
	OrOr:      "||",
	LParen:    "(",
	RParen:    ")",
	LBrace:    "{",
	RBrace:    "}",
	Comma:     ",",
	Dot:       ".",
	Semicolon: ";",
}

// String returns the display name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var keywords = map[string]Kind{
	"if":     If,
	"else":   Else,
	"repeat": Repeat,
	"true":   True,
	"false":  False,
	"nil":    Nil,
}

// Lookup maps an identifier to its keyword kind, or Ident.
func Lookup(ident string) Kind {
	if k, ok := keywords[ident]; ok {
		return k
	}
	return Ident
}

// Pos is a 1-based line/column inside a fragment body.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Token is one lexical unit. Literal holds the decoded value for
// Number (float64), String (string), True/False (bool); nil otherwise.
type Token struct {
	Kind    Kind
	Lexeme  string
	Literal interface{}
	Pos     Pos
}

func (t Token) String() string {
	switch t.Kind {
	case EOF:
		return "end of input"
	case Ident, Number:
		return fmt.Sprintf("%s %q", t.Kind, t.Lexeme)
	case String:
		return fmt.Sprintf("string %s", t.Lexeme)
	default:
		return fmt.Sprintf("'%s'", t.Kind)
	}
}
