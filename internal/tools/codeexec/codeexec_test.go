package codeexec

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/tariti/internal/tools"
)

func runTool(t *testing.T, r *Runner, code string) tools.Result {
	t.Helper()
	reg := tools.NewRegistry(tools.Options{})
	if err := reg.Register(r.Tool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	input, _ := json.Marshal(Input{Code: code})
	return reg.Execute(context.Background(), "run_code", input, tools.Caller{})
}

func TestRunCode(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		wantLogs   []string
		wantResult string
	}{
		{
			name:       "return value",
			code:       "const xs = [1, 2, 3]; return xs.reduce((a, b) => a + b, 0);",
			wantLogs:   []string{},
			wantResult: "6",
		},
		{
			name:     "console output",
			code:     `console.log("total", 3); console.error({ok: false});`,
			wantLogs: []string{`"total" 3`, `[error] {"ok":false}`},
		},
		{
			name:       "object result",
			code:       `return {avg: Math.round(10 / 3)};`,
			wantLogs:   []string{},
			wantResult: `{"avg":3}`,
		},
		{
			name:     "trailing comment",
			code:     "console.log(1) // done",
			wantLogs: []string{"1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runTool(t, New(Config{}), tt.code)
			if !res.Success {
				t.Fatalf("run failed: %s", res.Error)
			}
			out := res.Data.(Output)
			if strings.Join(out.Logs, "\n") != strings.Join(tt.wantLogs, "\n") {
				t.Fatalf("logs = %q, want %q", out.Logs, tt.wantLogs)
			}
			if string(out.Result) != tt.wantResult {
				t.Fatalf("result = %s, want %s", out.Result, tt.wantResult)
			}
		})
	}
}

func TestRunCodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr string
		logs    int
	}{
		{name: "thrown error keeps logs", code: `console.log("before"); throw new Error("bad data");`, wantErr: "Code execution error: bad data", logs: 1},
		{name: "reference error", code: `return missing + 1;`, wantErr: "missing is not defined"},
		{name: "syntax error", code: `return (;`, wantErr: "Code execution error: "},
		{name: "no require", code: `require("fs")`, wantErr: "require is not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runTool(t, New(Config{}), tt.code)
			if res.Success || !strings.Contains(res.Error, tt.wantErr) {
				t.Fatalf("result = %+v, want error containing %q", res, tt.wantErr)
			}
			out, ok := res.Data.(Output)
			if !ok {
				t.Fatalf("data = %T, want Output", res.Data)
			}
			if len(out.Logs) != tt.logs {
				t.Fatalf("logs = %q", out.Logs)
			}
		})
	}
}

func TestRunCodeTimeout(t *testing.T) {
	start := time.Now()
	res := runTool(t, New(Config{Timeout: 50 * time.Millisecond}), "while (true) {}")
	if res.Success || !strings.Contains(res.Error, "timed out after 50ms") {
		t.Fatalf("result = %+v", res)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout was not enforced")
	}
}

func TestRunCodeCancelled(t *testing.T) {
	r := New(Config{Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := r.Run(ctx, Input{Code: "while (true) {}"}, tools.Caller{})
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Fatalf("err = %v", err)
	}
}
