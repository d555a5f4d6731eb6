package browser

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
	"github.com/GriffinCanCode/uiblocks/internal/script/value"
)

// Global is the script name of the capability.
const Global = "Browser"

// Register adds the Browser intrinsics.
func Register(b *intrinsics.Builder) *intrinsics.Builder {
	return b.
		Method(Global, "loadHtml", 1, 1, "sanitize and load an HTML document", method(loadHTMLOp)).
		Method(Global, "eval", 1, 1, "run JavaScript in the view sandbox", method(evalOp)).
		Method(Global, "query", 1, 1, "text of the first element matching a CSS selector", method(queryOp)).
		Method(Global, "xpath", 1, 1, "text of the first node matching an XPath expression", method(xpathOp)).
		Method(Global, "resize", 2, 2, "resize the view", method(resizeOp))
}

type handler func(ctx context.Context, v *View, args []value.Value) (value.Value, error)

func method(fn handler) intrinsics.Func {
	return func(ctx context.Context, env intrinsics.Env, args []value.Value) (value.Value, error) {
		g, ok := env.Global(Global)
		if !ok {
			return value.NilValue, intrinsics.ErrUnavailable
		}
		v, ok := g.(*View)
		if !ok {
			return value.NilValue, fmt.Errorf("%s is bound to %T", Global, g)
		}
		return fn(ctx, v, args)
	}
}

func text(s string, ok bool, err error) (value.Value, error) {
	if err != nil || !ok {
		return value.NilValue, err
	}
	return value.NewString(s), nil
}

func loadHTMLOp(ctx context.Context, v *View, args []value.Value) (value.Value, error) {
	html, err := intrinsics.String(args, 0)
	if err != nil {
		return value.NilValue, err
	}
	return value.NilValue, v.LoadHTML(ctx, html)
}

func evalOp(ctx context.Context, v *View, args []value.Value) (value.Value, error) {
	js, err := intrinsics.String(args, 0)
	if err != nil {
		return value.NilValue, err
	}
	return text(v.Eval(ctx, js))
}

func queryOp(_ context.Context, v *View, args []value.Value) (value.Value, error) {
	css, err := intrinsics.String(args, 0)
	if err != nil {
		return value.NilValue, err
	}
	return text(v.Query(css))
}

func xpathOp(_ context.Context, v *View, args []value.Value) (value.Value, error) {
	expr, err := intrinsics.String(args, 0)
	if err != nil {
		return value.NilValue, err
	}
	return text(v.XPath(expr))
}

func resizeOp(_ context.Context, v *View, args []value.Value) (value.Value, error) {
	w, err := intrinsics.NonNegative(args, 0)
	if err != nil {
		return value.NilValue, err
	}
	h, err := intrinsics.NonNegative(args, 1)
	if err != nil {
		return value.NilValue, err
	}
	return value.NilValue, v.Resize(w, h)
}
