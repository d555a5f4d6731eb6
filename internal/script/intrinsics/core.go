package intrinsics

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

// RegisterCore adds the free functions available to every script.
func RegisterCore(b *Builder) *Builder {
	return b.
		Func("print", 0, 8, "write a line to the session log", corePrint).
		Func("len", 1, 1, "length of a string in characters", coreLen).
		Func("str", 1, 1, "format a value as a string", coreStr).
		Func("num", 1, 1, "convert a value to a number", coreNum)
}

func corePrint(_ context.Context, env Env, args []value.Value) (value.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	env.Print(strings.Join(parts, " "))
	return value.NilValue, nil
}

func coreLen(_ context.Context, _ Env, args []value.Value) (value.Value, error) {
	s, err := String(args, 0)
	if err != nil {
		return value.NilValue, err
	}
	return value.NewNumber(float64(utf8.RuneCountInString(s))), nil
}

func coreStr(_ context.Context, _ Env, args []value.Value) (value.Value, error) {
	s := args[0].String()
	if err := value.CheckLength(s); err != nil {
		return value.NilValue, err
	}
	return value.NewString(s), nil
}

// coreNum returns nil for strings that do not parse.
func coreNum(_ context.Context, _ Env, args []value.Value) (value.Value, error) {
	v := args[0]
	switch v.Kind() {
	case value.Number:
		return v, nil
	case value.Bool:
		if b, _ := v.Bool(); b {
			return value.NewNumber(1), nil
		}
		return value.NewNumber(0), nil
	case value.String:
		s, _ := v.Str()
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return value.NilValue, nil
		}
		return value.NewNumber(n), nil
	}
	return value.NilValue, nil
}
