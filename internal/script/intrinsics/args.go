package intrinsics

import (
	"fmt"
	"math"

	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

// ArgError reports an argument of the wrong kind or range.
type ArgError struct {
	Index int
	Msg   string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("argument %d: %s", e.Index+1, e.Msg)
}

// Number returns args[i] as a float64.
func Number(args []value.Value, i int) (float64, error) {
	n, ok := args[i].Number()
	if !ok {
		return 0, &ArgError{Index: i, Msg: fmt.Sprintf("expected number, got %s", args[i].Kind())}
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, &ArgError{Index: i, Msg: "expected finite number"}
	}
	return n, nil
}

// NonNegative returns args[i] as a float64 that is >= 0.
func NonNegative(args []value.Value, i int) (float64, error) {
	n, err := Number(args, i)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &ArgError{Index: i, Msg: fmt.Sprintf("expected non-negative number, got %s", value.FormatNumber(n))}
	}
	return n, nil
}

// String returns args[i] as a string.
func String(args []value.Value, i int) (string, error) {
	s, ok := args[i].Str()
	if !ok {
		return "", &ArgError{Index: i, Msg: fmt.Sprintf("expected string, got %s", args[i].Kind())}
	}
	return s, nil
}

// OptString returns args[i] as a string, or def when the argument was
// omitted or is nil.
func OptString(args []value.Value, i int, def string) (string, error) {
	if i >= len(args) || args[i].IsNil() {
		return def, nil
	}
	return String(args, i)
}

// OptNumber returns args[i] as a number, or def when omitted or nil.
func OptNumber(args []value.Value, i int, def float64) (float64, error) {
	if i >= len(args) || args[i].IsNil() {
		return def, nil
	}
	return Number(args, i)
}
