// Package ast holds the syntax tree of one UI block. Nodes are purely
// structural and carry no runtime values.
package ast

import "github.com/GriffinCanCode/uiblocks/internal/script/token"

// Node is implemented by every syntax tree node.
type Node interface {
	Position() token.Pos
	node()
}

// Expr is a node that produces a value.
type Expr interface {
	Node
	expr()
}

// Stmt is a node executed for its effect.
type Stmt interface {
	Node
	stmt()
}

// Sequence is an ordered list of statements (a block body or a whole
// fragment).
type Sequence struct {
	Pos   token.Pos
	Stmts []Stmt
}

// Literal is a number, string, bool or nil constant.
type Literal struct {
	Pos   token.Pos
	Value interface{} // float64, string, bool or nil
}

// VariableRef reads a fragment variable.
type VariableRef struct {
	Pos  token.Pos
	Name string
}

// Assignment binds a fragment variable.
type Assignment struct {
	Pos   token.Pos
	Name  string
	Value Expr
}

// Call invokes an intrinsic. Receiver is the capability global
// ("Canvas" in Canvas.rect(...)), empty for free functions.
type Call struct {
	Pos      token.Pos
	Receiver string
	Name     string
	Args     []Expr
}

// Callee returns the qualified intrinsic name.
func (c *Call) Callee() string {
	if c.Receiver == "" {
		return c.Name
	}
	return c.Receiver + "." + c.Name
}

// Binary is a two-operand operator expression.
type Binary struct {
	Pos   token.Pos
	Op    token.Kind
	Left  Expr
	Right Expr
}

// Unary is a prefix operator expression.
type Unary struct {
	Pos     token.Pos
	Op      token.Kind
	Operand Expr
}

// ExprStmt evaluates an expression and discards the result.
type ExprStmt struct {
	Pos  token.Pos
	Expr Expr
}

// If is a conditional. Else is nil, a *Sequence or a nested *If.
type If struct {
	Pos  token.Pos
	Cond Expr
	Then *Sequence
	Else Stmt
}

// Repeat runs Body Count times.
type Repeat struct {
	Pos   token.Pos
	Count Expr
	Body  *Sequence
}

func (n *Sequence) Position() token.Pos    { return n.Pos }
func (n *Literal) Position() token.Pos     { return n.Pos }
func (n *VariableRef) Position() token.Pos { return n.Pos }
func (n *Assignment) Position() token.Pos  { return n.Pos }
func (n *Call) Position() token.Pos        { return n.Pos }
func (n *Binary) Position() token.Pos      { return n.Pos }
func (n *Unary) Position() token.Pos       { return n.Pos }
func (n *ExprStmt) Position() token.Pos    { return n.Pos }
func (n *If) Position() token.Pos          { return n.Pos }
func (n *Repeat) Position() token.Pos      { return n.Pos }

func (*Sequence) node()    {}
func (*Literal) node()     {}
func (*VariableRef) node() {}
func (*Assignment) node()  {}
func (*Call) node()        {}
func (*Binary) node()      {}
func (*Unary) node()       {}
func (*ExprStmt) node()    {}
func (*If) node()          {}
func (*Repeat) node()      {}

func (*Literal) expr()     {}
func (*VariableRef) expr() {}
func (*Call) expr()        {}
func (*Binary) expr()      {}
func (*Unary) expr()       {}

func (*Sequence) stmt()   {}
func (*Assignment) stmt() {}
func (*ExprStmt) stmt()   {}
func (*If) stmt()         {}
func (*Repeat) stmt()     {}

// Walk visits n and its children depth-first in source order. If fn
// returns false the children of that node are skipped.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *Sequence:
		for _, s := range n.Stmts {
			Walk(s, fn)
		}
	case *Assignment:
		Walk(n.Value, fn)
	case *Call:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Unary:
		Walk(n.Operand, fn)
	case *ExprStmt:
		Walk(n.Expr, fn)
	case *If:
		Walk(n.Cond, fn)
		Walk(n.Then, fn)
		if n.Else != nil {
			Walk(n.Else, fn)
		}
	case *Repeat:
		Walk(n.Count, fn)
		Walk(n.Body, fn)
	}
}
