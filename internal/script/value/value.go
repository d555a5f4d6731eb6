// Package value defines the runtime values of the script language.
package value

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Kind tags a Value.
type Kind uint8

const (
	Nil Kind = iota
	Bool
	Number
	String
)

func (k Kind) String() string {
	switch k {
	case Nil:
		return "nil"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an immutable script value. The zero Value is nil.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

// NilValue is the nil value.
var NilValue = Value{}

// NewNumber returns a number value.
func NewNumber(n float64) Value { return Value{kind: Number, num: n} }

// NewString returns a string value.
func NewString(s string) Value { return Value{kind: String, str: s} }

// NewBool returns a bool value.
func NewBool(b bool) Value { return Value{kind: Bool, b: b} }

// FromLiteral converts a token literal (float64, string, bool or nil).
func FromLiteral(v interface{}) (Value, error) {
	switch v := v.(type) {
	case nil:
		return NilValue, nil
	case float64:
		return NewNumber(v), nil
	case string:
		return NewString(v), nil
	case bool:
		return NewBool(v), nil
	default:
		return NilValue, fmt.Errorf("unsupported literal type %T", v)
	}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool { return v.kind == Nil }

// Number returns the numeric payload and whether v is a number.
func (v Value) Number() (float64, bool) { return v.num, v.kind == Number }

// Str returns the string payload and whether v is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == String }

// Bool returns the bool payload and whether v is a bool.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == Bool }

// Truthy reports whether v counts as true in a condition. nil, false,
// 0 and "" are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return v.num != 0
	case String:
		return v.str != ""
	default:
		return false
	}
}

// Equal compares two values. Values of different kinds are unequal.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Bool:
		return a.b == b.b
	case Number:
		return a.num == b.num
	case String:
		return a.str == b.str
	default:
		return true
	}
}

// String formats v the way print and string concatenation show it.
// Integer-valued numbers have no decimal point.
func (v Value) String() string {
	switch v.kind {
	case Bool:
		return strconv.FormatBool(v.b)
	case Number:
		return FormatNumber(v.num)
	case String:
		return v.str
	default:
		return "nil"
	}
}

// FormatNumber formats n without a trailing ".0" for integral values.
func FormatNumber(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) < 1e15 {
		return strconv.FormatFloat(n, 'f', 0, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Interface returns the Go representation of v: nil, bool, float64 or
// string.
func (v Value) Interface() interface{} {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return v.num
	case String:
		return v.str
	default:
		return nil
	}
}

// TypeError reports an operand of the wrong kind.
type TypeError struct {
	Op    string
	Left  Kind
	Right Kind
	Unary bool
}

func (e *TypeError) Error() string {
	if e.Unary {
		return fmt.Sprintf("type mismatch: %s %s", e.Op, e.Left)
	}
	return fmt.Sprintf("type mismatch: %s %s %s", e.Left, e.Op, e.Right)
}

// MaxString bounds the byte length of a string built by a script.
const MaxString = 1 << 20

var (
	// ErrDivisionByZero is returned by Div and Mod.
	ErrDivisionByZero = errors.New("division by zero")
	ErrStringTooLong  = fmt.Errorf("string too long (limit %d bytes)", MaxString)
	// ErrUnordered is returned when an ordering comparison sees NaN.
	ErrUnordered = errors.New("NaN has no order")
)

// CheckLength rejects strings longer than MaxString.
func CheckLength(s string) error {
	if len(s) > MaxString {
		return ErrStringTooLong
	}
	return nil
}

// Add adds two numbers, or concatenates when either side is a string.
func Add(a, b Value) (Value, error) {
	if a.kind == String || b.kind == String {
		x, y := a.String(), b.String()
		if len(x)+len(y) > MaxString {
			return NilValue, ErrStringTooLong
		}
		return NewString(x + y), nil
	}
	x, y, err := numbers("+", a, b)
	if err != nil {
		return NilValue, err
	}
	return NewNumber(x + y), nil
}

func Sub(a, b Value) (Value, error) {
	x, y, err := numbers("-", a, b)
	if err != nil {
		return NilValue, err
	}
	return NewNumber(x - y), nil
}

func Mul(a, b Value) (Value, error) {
	x, y, err := numbers("*", a, b)
	if err != nil {
		return NilValue, err
	}
	return NewNumber(x * y), nil
}

func Div(a, b Value) (Value, error) {
	x, y, err := numbers("/", a, b)
	if err != nil {
		return NilValue, err
	}
	if y == 0 {
		return NilValue, ErrDivisionByZero
	}
	return NewNumber(x / y), nil
}

func Mod(a, b Value) (Value, error) {
	x, y, err := numbers("%", a, b)
	if err != nil {
		return NilValue, err
	}
	if y == 0 {
		return NilValue, ErrDivisionByZero
	}
	return NewNumber(math.Mod(x, y)), nil
}

// Neg negates a number.
func Neg(a Value) (Value, error) {
	if a.kind != Number {
		return NilValue, &TypeError{Op: "-", Left: a.kind, Unary: true}
	}
	return NewNumber(-a.num), nil
}

// Compare orders two numbers or two strings. It returns -1, 0 or 1.
// NaN operands are rejected with ErrUnordered.
func Compare(op string, a, b Value) (int, error) {
	switch {
	case a.kind == Number && b.kind == Number:
		if math.IsNaN(a.num) || math.IsNaN(b.num) {
			return 0, fmt.Errorf("%s: %w", op, ErrUnordered)
		}
		switch {
		case a.num < b.num:
			return -1, nil
		case a.num > b.num:
			return 1, nil
		}
		return 0, nil
	case a.kind == String && b.kind == String:
		switch {
		case a.str < b.str:
			return -1, nil
		case a.str > b.str:
			return 1, nil
		}
		return 0, nil
	}
	return 0, &TypeError{Op: op, Left: a.kind, Right: b.kind}
}

func numbers(op string, a, b Value) (float64, float64, error) {
	if a.kind != Number || b.kind != Number {
		return 0, 0, &TypeError{Op: op, Left: a.kind, Right: b.kind}
	}
	return a.num, b.num, nil
}
