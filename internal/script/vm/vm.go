// Package vm executes compiled programs. Execution is sequential and
// never suspends: a program runs to completion, to its first runtime
// fault, or until its step budget is spent.
package vm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/GriffinCanCode/uiblocks/internal/script/compiler"
	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

const (
	// DefaultStepBudget bounds the instructions one program may execute.
	DefaultStepBudget = 100000
	// MaxStack bounds the operand stack.
	MaxStack = 256

	cancelCheckInterval = 1024
)

// Error is a RuntimeError. Unavailable is set when a capability provider
// refused the call.
type Error struct {
	Line        int
	Msg         string
	Unavailable bool
	Err         error
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result describes one execution.
type Result struct {
	Err   *Error
	Steps int
	Calls int
}

// Options tunes a VM.
type Options struct {
	StepBudget int
}

// VM runs programs compiled against one registry. A VM is stateless
// between executions and safe for concurrent use.
type VM struct {
	registry *intrinsics.Registry
	budget   int
}

// New creates a VM. A zero StepBudget selects DefaultStepBudget.
func New(registry *intrinsics.Registry, opts Options) *VM {
	budget := opts.StepBudget
	if budget <= 0 {
		budget = DefaultStepBudget
	}
	return &VM{registry: registry, budget: budget}
}

// frame is the mutable state of one execution.
type frame struct {
	prog  *compiler.Program
	env   intrinsics.Env
	stack []value.Value
	slots []value.Value
	set   []bool
	line  int
}

// Execute runs prog against env. Variables start unset on every call.
func (m *VM) Execute(ctx context.Context, prog *compiler.Program, env intrinsics.Env) (res Result) {
	if err := validate(prog, m.registry); err != nil {
		return Result{Err: err}
	}

	f := &frame{
		prog:  prog,
		env:   env,
		stack: make([]value.Value, 0, 16),
		slots: make([]value.Value, len(prog.Slots)),
		set:   make([]bool, len(prog.Slots)),
	}

	// Malformed decoded programs can underflow the stack.
	defer func() {
		if r := recover(); r != nil {
			res.Err = f.fail("invalid program: %v", r)
		}
	}()

	code := prog.Code
	for ip := 0; ip < len(code); {
		if res.Steps >= m.budget {
			res.Err = f.fail("step budget of %d instructions exhausted", m.budget)
			return res
		}
		res.Steps++
		if res.Steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				res.Err = &Error{Line: f.line, Msg: "execution cancelled", Err: err}
				return res
			}
		}

		in := code[ip]
		f.line = int(in.Line)
		ip++

		var err *Error
		switch in.Op {
		case compiler.OpConst:
			err = f.push(prog.Constants[in.A])

		case compiler.OpLoad:
			if !f.set[in.A] {
				err = f.fail("variable %s read before assignment", prog.Slots[in.A])
				break
			}
			err = f.push(f.slots[in.A])

		case compiler.OpStore:
			f.slots[in.A] = f.pop()
			f.set[in.A] = true

		case compiler.OpPop:
			f.pop()

		case compiler.OpAdd, compiler.OpSub, compiler.OpMul, compiler.OpDiv, compiler.OpMod:
			b, a := f.pop(), f.pop()
			v, opErr := arith(in.Op, a, b)
			if opErr != nil {
				err = f.wrap(opErr)
				break
			}
			err = f.push(v)

		case compiler.OpEq:
			b, a := f.pop(), f.pop()
			err = f.push(value.NewBool(value.Equal(a, b)))

		case compiler.OpNotEq:
			b, a := f.pop(), f.pop()
			err = f.push(value.NewBool(!value.Equal(a, b)))

		case compiler.OpLess, compiler.OpLessEq, compiler.OpGreater, compiler.OpGreaterEq:
			b, a := f.pop(), f.pop()
			v, opErr := compare(in.Op, a, b)
			if opErr != nil {
				err = f.wrap(opErr)
				break
			}
			err = f.push(v)

		case compiler.OpNot:
			err = f.push(value.NewBool(!f.pop().Truthy()))

		case compiler.OpNeg:
			v, opErr := value.Neg(f.pop())
			if opErr != nil {
				err = f.wrap(opErr)
				break
			}
			err = f.push(v)

		case compiler.OpBool:
			err = f.push(value.NewBool(f.pop().Truthy()))

		case compiler.OpCount:
			v := f.pop()
			n, ok := v.Number()
			switch {
			case !ok:
				err = f.fail("repeat count must be a number, got %s", v.Kind())
			case n < 0 || math.IsNaN(n) || math.IsInf(n, 0):
				err = f.fail("repeat count must be a finite number >= 0, got %s", v)
			default:
				err = f.push(value.NewNumber(math.Floor(n)))
			}

		case compiler.OpJump:
			ip = int(in.A)

		case compiler.OpJumpIfFalse:
			if !f.pop().Truthy() {
				ip = int(in.A)
			}

		case compiler.OpCall:
			res.Calls++
			err = m.call(ctx, f, intrinsics.ID(in.A), int(in.B))

		default:
			err = f.fail("invalid opcode %s", in.Op)
		}

		if err != nil {
			res.Err = err
			return res
		}
	}
	return res
}

func (m *VM) call(ctx context.Context, f *frame, id intrinsics.ID, argc int) (rerr *Error) {
	spec, _ := m.registry.Get(id)
	args := make([]value.Value, argc)
	copy(args, f.stack[len(f.stack)-argc:])
	f.stack = f.stack[:len(f.stack)-argc]

	if !spec.Accepts(argc) {
		return f.fail("%s expects %s arguments, got %d", spec.Name(), spec.Arity(), argc)
	}
	if spec.Global != "" {
		if _, ok := f.env.Global(spec.Global); !ok {
			return f.fail("%s: capability %s is not available", spec.Name(), spec.Global)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			rerr = f.fail("%s: intrinsic panicked: %v", spec.Name(), r)
		}
	}()

	result, err := spec.Handler(ctx, f.env, args)
	if err != nil {
		rerr = &Error{
			Line:        f.line,
			Msg:         fmt.Sprintf("%s: %v", spec.Name(), err),
			Unavailable: errors.Is(err, intrinsics.ErrUnavailable),
			Err:         err,
		}
		return rerr
	}
	return f.push(result)
}

func arith(op compiler.Op, a, b value.Value) (value.Value, error) {
	switch op {
	case compiler.OpAdd:
		return value.Add(a, b)
	case compiler.OpSub:
		return value.Sub(a, b)
	case compiler.OpMul:
		return value.Mul(a, b)
	case compiler.OpDiv:
		return value.Div(a, b)
	default:
		return value.Mod(a, b)
	}
}

var compareSymbols = map[compiler.Op]string{
	compiler.OpLess:      "<",
	compiler.OpLessEq:    "<=",
	compiler.OpGreater:   ">",
	compiler.OpGreaterEq: ">=",
}

func compare(op compiler.Op, a, b value.Value) (value.Value, error) {
	c, err := value.Compare(compareSymbols[op], a, b)
	if err != nil {
		return value.NilValue, err
	}
	switch op {
	case compiler.OpLess:
		return value.NewBool(c < 0), nil
	case compiler.OpLessEq:
		return value.NewBool(c <= 0), nil
	case compiler.OpGreater:
		return value.NewBool(c > 0), nil
	default:
		return value.NewBool(c >= 0), nil
	}
}

func (f *frame) push(v value.Value) *Error {
	if len(f.stack) >= MaxStack {
		return f.fail("stack overflow")
	}
	f.stack = append(f.stack, v)
	return nil
}

func (f *frame) pop() value.Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) fail(format string, args ...interface{}) *Error {
	return &Error{Line: f.line, Msg: fmt.Sprintf(format, args...)}
}

func (f *frame) wrap(err error) *Error {
	return &Error{Line: f.line, Msg: err.Error(), Err: err}
}

func validate(prog *compiler.Program, registry *intrinsics.Registry) *Error {
	if prog == nil {
		return &Error{Msg: "invalid program: nil"}
	}
	for i, in := range prog.Code {
		bad := false
		switch in.Op {
		case compiler.OpConst:
			bad = in.A < 0 || int(in.A) >= len(prog.Constants)
		case compiler.OpLoad, compiler.OpStore:
			bad = in.A < 0 || int(in.A) >= len(prog.Slots)
		case compiler.OpJump, compiler.OpJumpIfFalse:
			bad = in.A < 0 || int(in.A) > len(prog.Code)
		case compiler.OpCall:
			_, ok := registry.Get(intrinsics.ID(in.A))
			bad = !ok || in.A < 0 || in.B < 0 || in.B > MaxStack
		}
		if bad {
			return &Error{Line: int(in.Line), Msg: fmt.Sprintf("invalid program: bad operand at %d (%s %d)", i, in.Op, in.A)}
		}
	}
	return nil
}
