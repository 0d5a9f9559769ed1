package system

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/locushq/locus/internal/agent"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"1+1", 2},
		{"2 + 3 * 4", 14},
		{"(2+3)*4", 20},
		{"10/4", 2.5},
		{"-5 + 3", -2},
		{"--4", 4},
		{"10 % 3", 1},
		{"2*(3+(4-1))", 12},
		{"0.1 + 0.2", 0.3},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.expr)
		if err != nil {
			t.Errorf("Evaluate(%q) error: %v", tc.expr, err)
			continue
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	for _, expr := range []string{"", "1/0", "5 % 0", "(1+2", "1+", "2 ** 3", "abc", "1 2"} {
		if _, err := Evaluate(expr); err == nil {
			t.Errorf("Evaluate(%q) succeeded, want error", expr)
		}
	}
}

func TestCalculateTool(t *testing.T) {
	tool := &CalculateTool{}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"expression":"(2+3)*4"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", res.Content)
	}
	var out struct {
		Result float64 `json:"result"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out.Result != 20 {
		t.Errorf("result = %v, want 20", out.Result)
	}

	res, _ = tool.Execute(context.Background(), json.RawMessage(`{"expression":"1/0"}`))
	if !res.IsError {
		t.Error("division by zero not reported as tool error")
	}
}

func TestTimeToolTimezone(t *testing.T) {
	tool := &TimeTool{}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"timezone":"America/New_York"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "America/New_York") {
		t.Errorf("content missing timezone: %s", res.Content)
	}

	res, _ = tool.Execute(context.Background(), json.RawMessage(`{"timezone":"Mars/Olympus"}`))
	if !res.IsError {
		t.Error("unknown timezone not reported as tool error")
	}
}

func TestEchoTool(t *testing.T) {
	tool := &EchoTool{}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "hello" {
		t.Errorf("content = %q, want hello", res.Content)
	}
}

func TestRegisterCoreTools(t *testing.T) {
	reg := agent.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, name := range []string{"get_time", "echo", "calculate", "generate_uuid"} {
		if !reg.Has(name) {
			t.Errorf("registry missing %s", name)
		}
	}
}
