// Package compiler lowers the syntax tree of one UI block into a Program.
//
// Calls are resolved against the intrinsic registry at compile time, so
// an unknown callee or a wrong argument count never reaches the VM.
// Output is deterministic: slots are numbered by first appearance and
// the constant pool is deduplicated in first-use order.
package compiler

import (
	"fmt"
	"math"
	"sort"

	"github.com/GriffinCanCode/uiblocks/internal/script/ast"
	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
	"github.com/GriffinCanCode/uiblocks/internal/script/token"
	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

// Limits on a single program.
const (
	MaxConstants = 1 << 16
	MaxSlots     = 1 << 12
	MaxCode      = 1 << 20
)

// Error is a CompileError.
type Error struct {
	Pos token.Pos
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

type constKey struct {
	kind value.Kind
	repr string
}

// Compiler holds the state of one compilation. Use Compile.
type Compiler struct {
	registry  *intrinsics.Registry
	program   *Program
	constants map[constKey]int32
	slots     map[string]int32
	assigned  map[string]struct{}
	called    map[string]struct{}
	globals   map[string]struct{}
	hidden    int
}

// Compile lowers seq using registry to resolve calls.
func Compile(seq *ast.Sequence, registry *intrinsics.Registry) (*Program, error) {
	c := &Compiler{
		registry:  registry,
		program:   &Program{},
		constants: make(map[constKey]int32),
		slots:     make(map[string]int32),
		assigned:  make(map[string]struct{}),
		called:    make(map[string]struct{}),
		globals:   make(map[string]struct{}),
	}

	ast.Walk(seq, func(n ast.Node) bool {
		if a, ok := n.(*ast.Assignment); ok {
			c.assigned[a.Name] = struct{}{}
		}
		return true
	})

	if err := c.sequence(seq); err != nil {
		return nil, err
	}

	for g := range c.globals {
		c.program.Globals = append(c.program.Globals, g)
	}
	sort.Strings(c.program.Globals)
	return c.program, nil
}

func (c *Compiler) sequence(seq *ast.Sequence) error {
	for _, s := range seq.Stmts {
		if err := c.statement(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) statement(s ast.Stmt) error {
	switch s := s.(type) {
	case *ast.Assignment:
		if err := c.expression(s.Value); err != nil {
			return err
		}
		slot, err := c.slot(s.Name, s.Pos)
		if err != nil {
			return err
		}
		return c.emit(s.Pos, OpStore, slot, 0)

	case *ast.ExprStmt:
		if err := c.expression(s.Expr); err != nil {
			return err
		}
		return c.emit(s.Pos, OpPop, 0, 0)

	case *ast.If:
		return c.ifStatement(s)

	case *ast.Repeat:
		return c.repeat(s)

	case *ast.Sequence:
		return c.sequence(s)
	}
	return &Error{Pos: s.Position(), Msg: fmt.Sprintf("unsupported statement %T", s)}
}

func (c *Compiler) ifStatement(s *ast.If) error {
	if err := c.expression(s.Cond); err != nil {
		return err
	}
	skipThen, err := c.emitJump(s.Pos, OpJumpIfFalse)
	if err != nil {
		return err
	}
	if err := c.sequence(s.Then); err != nil {
		return err
	}
	if s.Else == nil {
		c.patch(skipThen)
		return nil
	}
	skipElse, err := c.emitJump(s.Pos, OpJump)
	if err != nil {
		return err
	}
	c.patch(skipThen)
	if err := c.statement(s.Else); err != nil {
		return err
	}
	c.patch(skipElse)
	return nil
}

// repeat keeps the remaining iteration count in a hidden slot:
//
//	<count> COUNT STORE #n
//	top: LOAD #n CONST 0 GT JUMP_IF_FALSE end
//	<body> LOAD #n CONST 1 SUB STORE #n JUMP top
//	end:
func (c *Compiler) repeat(s *ast.Repeat) error {
	if err := c.expression(s.Count); err != nil {
		return err
	}
	counter, err := c.hiddenSlot(s.Pos)
	if err != nil {
		return err
	}
	zero, err := c.constant(s.Pos, value.NewNumber(0))
	if err != nil {
		return err
	}
	one, err := c.constant(s.Pos, value.NewNumber(1))
	if err != nil {
		return err
	}

	if err := c.emitOps(s.Pos, Instruction{Op: OpCount}, Instruction{Op: OpStore, A: counter}); err != nil {
		return err
	}
	top := int32(len(c.program.Code))
	if err := c.emitOps(s.Pos,
		Instruction{Op: OpLoad, A: counter},
		Instruction{Op: OpConst, A: zero},
		Instruction{Op: OpGreater},
	); err != nil {
		return err
	}
	exit, err := c.emitJump(s.Pos, OpJumpIfFalse)
	if err != nil {
		return err
	}
	if err := c.sequence(s.Body); err != nil {
		return err
	}
	if err := c.emitOps(s.Pos,
		Instruction{Op: OpLoad, A: counter},
		Instruction{Op: OpConst, A: one},
		Instruction{Op: OpSub},
		Instruction{Op: OpStore, A: counter},
		Instruction{Op: OpJump, A: top},
	); err != nil {
		return err
	}
	c.patch(exit)
	return nil
}

func (c *Compiler) expression(e ast.Expr) error {
	switch e := e.(type) {
	case *ast.Literal:
		v, err := value.FromLiteral(e.Value)
		if err != nil {
			return &Error{Pos: e.Pos, Msg: err.Error()}
		}
		idx, err := c.constant(e.Pos, v)
		if err != nil {
			return err
		}
		return c.emit(e.Pos, OpConst, idx, 0)

	case *ast.VariableRef:
		if _, ok := c.assigned[e.Name]; !ok {
			if c.registry != nil && c.registry.HasGlobal(e.Name) {
				return &Error{Pos: e.Pos, Msg: fmt.Sprintf("capability %s cannot be used as a value", e.Name)}
			}
			return &Error{Pos: e.Pos, Msg: fmt.Sprintf("undefined variable %s", e.Name)}
		}
		slot, err := c.slot(e.Name, e.Pos)
		if err != nil {
			return err
		}
		return c.emit(e.Pos, OpLoad, slot, 0)

	case *ast.Call:
		return c.call(e)

	case *ast.Unary:
		if err := c.expression(e.Operand); err != nil {
			return err
		}
		switch e.Op {
		case token.Bang:
			return c.emit(e.Pos, OpNot, 0, 0)
		case token.Minus:
			return c.emit(e.Pos, OpNeg, 0, 0)
		}
		return &Error{Pos: e.Pos, Msg: fmt.Sprintf("unsupported unary operator %s", e.Op)}

	case *ast.Binary:
		switch e.Op {
		case token.AndAnd:
			return c.logical(e, true)
		case token.OrOr:
			return c.logical(e, false)
		}
		op, ok := binaryOps[e.Op]
		if !ok {
			return &Error{Pos: e.Pos, Msg: fmt.Sprintf("unsupported binary operator %s", e.Op)}
		}
		if err := c.expression(e.Left); err != nil {
			return err
		}
		if err := c.expression(e.Right); err != nil {
			return err
		}
		return c.emit(e.Pos, op, 0, 0)
	}
	return &Error{Pos: e.Position(), Msg: fmt.Sprintf("unsupported expression %T", e)}
}

var binaryOps = map[token.Kind]Op{
	token.Plus:      OpAdd,
	token.Minus:     OpSub,
	token.Star:      OpMul,
	token.Slash:     OpDiv,
	token.Percent:   OpMod,
	token.Eq:        OpEq,
	token.NotEq:     OpNotEq,
	token.Less:      OpLess,
	token.LessEq:    OpLessEq,
	token.Greater:   OpGreater,
	token.GreaterEq: OpGreaterEq,
}

// logical compiles && (and=true) or || with short-circuiting. The result
// is always a bool.
//
//	a && b:  <a> JUMP_IF_FALSE short <b> BOOL JUMP end  short: CONST false  end:
//	a || b:  <a> JUMP_IF_FALSE rhs CONST true JUMP end  rhs: <b> BOOL  end:
func (c *Compiler) logical(e *ast.Binary, and bool) error {
	if err := c.expression(e.Left); err != nil {
		return err
	}
	branch, err := c.emitJump(e.Pos, OpJumpIfFalse)
	if err != nil {
		return err
	}

	if and {
		if err := c.expression(e.Right); err != nil {
			return err
		}
		if err := c.emit(e.Pos, OpBool, 0, 0); err != nil {
			return err
		}
		end, err := c.emitJump(e.Pos, OpJump)
		if err != nil {
			return err
		}
		c.patch(branch)
		if err := c.emitConst(e.Pos, value.NewBool(false)); err != nil {
			return err
		}
		c.patch(end)
		return nil
	}

	if err := c.emitConst(e.Pos, value.NewBool(true)); err != nil {
		return err
	}
	end, err := c.emitJump(e.Pos, OpJump)
	if err != nil {
		return err
	}
	c.patch(branch)
	if err := c.expression(e.Right); err != nil {
		return err
	}
	if err := c.emit(e.Pos, OpBool, 0, 0); err != nil {
		return err
	}
	c.patch(end)
	return nil
}

func (c *Compiler) call(e *ast.Call) error {
	name := e.Callee()
	if c.registry == nil {
		return &Error{Pos: e.Pos, Msg: fmt.Sprintf("unknown function %s", name)}
	}
	spec, ok := c.registry.Lookup(name)
	if !ok {
		if e.Receiver != "" && !c.registry.HasGlobal(e.Receiver) {
			return &Error{Pos: e.Pos, Msg: fmt.Sprintf("unknown capability %s", e.Receiver)}
		}
		return &Error{Pos: e.Pos, Msg: fmt.Sprintf("unknown function %s", name)}
	}
	if !spec.Accepts(len(e.Args)) {
		return &Error{Pos: e.Pos, Msg: fmt.Sprintf("%s expects %s arguments, got %d", name, spec.Arity(), len(e.Args))}
	}

	for _, arg := range e.Args {
		if err := c.expression(arg); err != nil {
			return err
		}
	}

	if _, seen := c.called[name]; !seen {
		c.called[name] = struct{}{}
		c.program.Intrinsics = append(c.program.Intrinsics, name)
	}
	if spec.Global != "" {
		c.globals[spec.Global] = struct{}{}
	}
	return c.emit(e.Pos, OpCall, int32(spec.ID), int32(len(e.Args)))
}

func (c *Compiler) constant(pos token.Pos, v value.Value) (int32, error) {
	key := constKey{kind: v.Kind(), repr: v.String()}
	if n, ok := v.Number(); ok {
		key.repr = fmt.Sprintf("%x", math.Float64bits(n))
	}
	if idx, ok := c.constants[key]; ok {
		return idx, nil
	}
	if len(c.program.Constants) >= MaxConstants {
		return 0, &Error{Pos: pos, Msg: "too many constants"}
	}
	idx := int32(len(c.program.Constants))
	c.program.Constants = append(c.program.Constants, v)
	c.constants[key] = idx
	return idx, nil
}

func (c *Compiler) emitConst(pos token.Pos, v value.Value) error {
	idx, err := c.constant(pos, v)
	if err != nil {
		return err
	}
	return c.emit(pos, OpConst, idx, 0)
}

func (c *Compiler) slot(name string, pos token.Pos) (int32, error) {
	if idx, ok := c.slots[name]; ok {
		return idx, nil
	}
	if len(c.program.Slots) >= MaxSlots {
		return 0, &Error{Pos: pos, Msg: "too many variables"}
	}
	idx := int32(len(c.program.Slots))
	c.program.Slots = append(c.program.Slots, name)
	c.slots[name] = idx
	return idx, nil
}

func (c *Compiler) hiddenSlot(pos token.Pos) (int32, error) {
	name := fmt.Sprintf("#repeat%d", c.hidden)
	c.hidden++
	return c.slot(name, pos)
}

func (c *Compiler) emit(pos token.Pos, op Op, a, b int32) error {
	if len(c.program.Code) >= MaxCode {
		return &Error{Pos: pos, Msg: "program too large"}
	}
	c.program.Code = append(c.program.Code, Instruction{Op: op, A: a, B: b, Line: int32(pos.Line)})
	return nil
}

func (c *Compiler) emitOps(pos token.Pos, ops ...Instruction) error {
	for _, in := range ops {
		if err := c.emit(pos, in.Op, in.A, in.B); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) emitJump(pos token.Pos, op Op) (int, error) {
	if err := c.emit(pos, op, -1, 0); err != nil {
		return 0, err
	}
	return len(c.program.Code) - 1, nil
}

func (c *Compiler) patch(at int) {
	c.program.Code[at].A = int32(len(c.program.Code))
}
