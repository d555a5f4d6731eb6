package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
)

// Config tunes a sandbox runtime.
type Config struct {
	Timeout       time.Duration // per evaluation
	MaxCallStack  int
	EnableConsole bool
}

// DefaultConfig returns the sandbox defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       time.Second,
		MaxCallStack:  1024,
		EnableConsole: true,
	}
}

var errInterrupted = errors.New("script interrupted")

// bridge receives what sandboxed code sends to the host.
type bridge interface {
	emit(ev Event)
	Document() *Document
}

// Runtime wraps a goja VM with the sandbox globals installed.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	host   bridge
	mu     sync.Mutex
}

func newRuntime(config Config, host bridge) (*Runtime, error) {
	r := &Runtime{vm: goja.New(), config: config, host: host}
	if config.MaxCallStack > 0 {
		r.vm.SetMaxCallStackSize(config.MaxCallStack)
	}
	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

// Eval runs script and formats its completion value. A thrown exception
// is returned as *goja.Exception; a timeout or cancellation wraps
// errInterrupted.
func (r *Runtime) Eval(ctx context.Context, script string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-timer.C:
			r.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			r.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()
	// A late interrupt must not leak into the next evaluation.
	defer func() {
		close(done)
		<-exited
		r.vm.ClearInterrupt()
	}()

	val, err := r.vm.RunString(script)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return "", false, fmt.Errorf("%w: %v", errInterrupted, interrupted.Value())
		}
		return "", false, err
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return "", false, nil
	}
	return val.String(), true, nil
}

func (r *Runtime) setupGlobals() error {
	for _, name := range []string{"require", "process", "module", "exports", "fetch", "XMLHttpRequest", "WebSocket", "importScripts"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := r.vm.Set(name, noop); err != nil {
			return err
		}
	}

	if r.config.EnableConsole {
		console := r.vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error", "debug"} {
			if err := console.Set(level, r.consoleFunc(level)); err != nil {
				return err
			}
		}
		if err := r.vm.Set("console", console); err != nil {
			return err
		}
	}

	b := r.vm.NewObject()
	if err := b.Set("send", r.send); err != nil {
		return err
	}
	if err := b.Set("cursor", r.cursor); err != nil {
		return err
	}
	if err := b.Set("log", r.log); err != nil {
		return err
	}
	if err := r.vm.Set("bridge", b); err != nil {
		return err
	}

	doc := r.vm.NewObject()
	if err := doc.Set("querySelector", r.querySelector); err != nil {
		return err
	}
	if err := doc.Set("querySelectorAll", r.querySelectorAll); err != nil {
		return err
	}
	if err := doc.Set("getElementById", r.getElementByID); err != nil {
		return err
	}
	if err := doc.DefineAccessorProperty("title", r.vm.ToValue(r.title), nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}
	return r.vm.Set("document", doc)
}

func (r *Runtime) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		r.host.emit(Event{Kind: EventConsole, Level: level, Text: strings.Join(parts, " ")})
		return goja.Undefined()
	}
}

// send implements bridge.send(name, payload?).
func (r *Runtime) send(call goja.FunctionCall) goja.Value {
	name := call.Argument(0)
	if goja.IsUndefined(name) || name.String() == "" {
		panic(r.vm.NewTypeError("bridge.send: command name required"))
	}
	ev := Event{Kind: EventCommand, Name: name.String()}
	if p := call.Argument(1); !goja.IsUndefined(p) {
		raw, err := sonic.Marshal(p.Export())
		if err != nil {
			panic(r.vm.NewTypeError("bridge.send: payload is not serializable: " + err.Error()))
		}
		ev.Payload = raw
	}
	r.host.emit(ev)
	return goja.Undefined()
}

// cursor implements bridge.cursor(x, y).
func (r *Runtime) cursor(call goja.FunctionCall) goja.Value {
	r.host.emit(Event{
		Kind: EventCursor,
		X:    call.Argument(0).ToFloat(),
		Y:    call.Argument(1).ToFloat(),
	})
	return goja.Undefined()
}

// log implements bridge.log(text).
func (r *Runtime) log(call goja.FunctionCall) goja.Value {
	r.host.emit(Event{Kind: EventLog, Level: "info", Text: call.Argument(0).String()})
	return goja.Undefined()
}

func (r *Runtime) querySelector(call goja.FunctionCall) goja.Value {
	d := r.host.Document()
	if d == nil || len(call.Arguments) == 0 {
		return goja.Null()
	}
	els := d.Select(call.Arguments[0].String(), 1)
	if len(els) == 0 {
		return goja.Null()
	}
	return r.vm.ToValue(r.proxy(els[0]))
}

func (r *Runtime) querySelectorAll(call goja.FunctionCall) goja.Value {
	d := r.host.Document()
	if d == nil || len(call.Arguments) == 0 {
		return r.vm.NewArray()
	}
	els := d.Select(call.Arguments[0].String(), 0)
	out := make([]interface{}, len(els))
	for i, e := range els {
		out[i] = r.proxy(e)
	}
	return r.vm.NewArray(out...)
}

func (r *Runtime) getElementByID(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).String()
	d := r.host.Document()
	if d == nil || id == "" {
		return goja.Null()
	}
	for _, e := range d.Select("[id]", 0) {
		if e.ID == id {
			return r.vm.ToValue(r.proxy(e))
		}
	}
	return goja.Null()
}

func (r *Runtime) title() string {
	if d := r.host.Document(); d != nil {
		return d.Title()
	}
	return ""
}

func (r *Runtime) proxy(e Element) map[string]interface{} {
	return map[string]interface{}{
		"tagName":     e.TagName,
		"id":          e.ID,
		"className":   e.ClassName,
		"textContent": e.TextContent,
		"getAttribute": func(name string) interface{} {
			if v, ok := e.Attributes[name]; ok {
				return v
			}
			return nil
		},
	}
}
