// Package codeexec implements run_code, a JavaScript sandbox for
// calculations and data shaping. Scripts run in a fresh goja runtime with
// no filesystem, network or module access and a wall clock limit.
package codeexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/haasonsaas/tariti/internal/tools"
)

// DefaultTimeout bounds a script run when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Second

const description = "Execute JavaScript code in a sandboxed environment. Useful for data calculations, transformations, formatting, or analysis. " +
	"No filesystem or network access. Has access to Math, JSON, Date, Array, Object, and console.log (output is captured). " +
	"Returns the value of the last expression or all console.log output."

// Config configures a Runner.
type Config struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Input is the input of run_code.
type Input struct {
	Code        string `json:"code" jsonschema_description:"JavaScript code to execute. Use console.log() for output or end with an expression to return its value."`
	Description string `json:"description,omitempty" jsonschema_description:"Brief description of what this code does (shown to user)"`
}

// Output is the captured console output and the JSON form of the value the
// script returned, if any.
type Output struct {
	Logs   []string        `json:"logs"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Runner executes scripts.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Runner.
func New(cfg Config) *Runner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{timeout: timeout, logger: logger.With("tool", "run_code")}
}

// Tool returns the run_code tool.
func (r *Runner) Tool() tools.Tool {
	return tools.New("run_code", description, r.Run)
}

// Run wraps the code in a function body and calls it. A value returned by
// that function becomes the result. Failures carry the logs captured so far.
func (r *Runner) Run(ctx context.Context, in Input, _ tools.Caller) (any, error) {
	vm := goja.New()
	out := Output{Logs: []string{}}

	stringify, err := jsonStringify(vm)
	if err != nil {
		return nil, tools.Failf("Code execution error: %v", err)
	}
	console := vm.NewObject()
	_ = console.Set("log", logFunc(vm, stringify, &out.Logs, ""))
	_ = console.Set("error", logFunc(vm, stringify, &out.Logs, "[error] "))
	if err := vm.Set("console", console); err != nil {
		return nil, tools.Failf("Code execution error: %v", err)
	}

	timer := time.AfterFunc(r.timeout, func() {
		vm.Interrupt(fmt.Sprintf("Script execution timed out after %dms", r.timeout.Milliseconds()))
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt("execution cancelled") })
	defer stop()

	value, err := vm.RunString("(function() { " + in.Code + "\n})()")
	if err != nil {
		r.logger.Debug("script failed", "description", in.Description, "error", err)
		return nil, &tools.Failure{
			Message: "Code execution error: " + errorMessage(err),
			Data:    Output{Logs: out.Logs},
		}
	}

	if value != nil && !goja.IsUndefined(value) {
		encoded, err := stringify(goja.Undefined(), value)
		if err == nil && !goja.IsUndefined(encoded) {
			out.Result = json.RawMessage(encoded.String())
		}
	}
	return out, nil
}

func jsonStringify(vm *goja.Runtime) (goja.Callable, error) {
	jsonObj := vm.Get("JSON").ToObject(vm)
	fn, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return nil, errors.New("JSON.stringify unavailable")
	}
	return fn, nil
}

// logFunc captures console arguments as their JSON text joined by spaces.
func logFunc(vm *goja.Runtime, stringify goja.Callable, logs *[]string, prefix string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			encoded, err := stringify(goja.Undefined(), arg)
			if err != nil || goja.IsUndefined(encoded) {
				continue
			}
			parts[i] = encoded.String()
		}
		*logs = append(*logs, prefix+strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func errorMessage(err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Sprint(interrupted.Value())
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		if obj, ok := exc.Value().(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return msg.String()
			}
		}
		return exc.Value().String()
	}
	return err.Error()
}
