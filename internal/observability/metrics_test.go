package observability

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

func TestMessageCounters(t *testing.T) {
	m := newTestMetrics(t)
	m.MessageReceived("telegram", "inbound")
	m.MessageReceived("telegram", "inbound")
	m.MessageSent("discord")

	expected := `
		# HELP locus_messages_total Total number of messages processed by channel and direction
		# TYPE locus_messages_total counter
		locus_messages_total{channel="discord",direction="outbound"} 1
		locus_messages_total{channel="telegram",direction="inbound"} 2
	`
	if err := testutil.CollectAndCompare(m.MessageCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", 1.2, 100, 40)
	m.RecordLLMRequest("anthropic", "claude-sonnet-4", "error", 0.3, 0, 0)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4", "input")); got != 100 {
		t.Errorf("input tokens = %v, want 100", got)
	}
	// Zero token counts must not create series.
	if count := testutil.CollectAndCount(m.LLMTokensUsed); count != 2 {
		t.Errorf("token series = %d, want 2", count)
	}
}

func TestRecordToolAndPlan(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordToolExecution("search_memories", "success", 0.05)
	m.RecordToolExecution("use_tool", "error", 0.2)
	m.RecordPlanExecution("completed", 12.5)
	m.RecordPlanStep("tool_call", "completed")
	m.RecordPlanStep("tool_call", "failed")

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("use_tool", "error")); got != 1 {
		t.Errorf("tool error count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PlanExecutionCounter.WithLabelValues("completed")); got != 1 {
		t.Errorf("plan count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PlanStepCounter.WithLabelValues("tool_call", "failed")); got != 1 {
		t.Errorf("failed step count = %v, want 1", got)
	}
}

func TestRecordSSEAndApproval(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordSSEEvent("chunk")
	m.RecordSSEEvent("chunk")
	m.RecordSSEEvent("done")
	m.RecordApproval("denied")

	if got := testutil.ToFloat64(m.SSEEventCounter.WithLabelValues("chunk")); got != 2 {
		t.Errorf("chunk events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ApprovalCounter.WithLabelValues("denied")); got != 1 {
		t.Errorf("denied approvals = %v, want 1", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordHTTPRequest("POST", "/v1/chat/stream", "200", 0.8)
	m.RecordHTTPRequest("POST", "/v1/chat/stream", "200", 1.1)

	if got := testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("POST", "/v1/chat/stream", "200")); got != 2 {
		t.Errorf("http count = %v, want 2", got)
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := newTestMetrics(t)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordSSEEvent("chunk")
				m.RecordError("gateway", "write_failed")
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(m.SSEEventCounter.WithLabelValues("chunk")); got != 400 {
		t.Errorf("chunk events = %v, want 400", got)
	}
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("gateway", "write_failed")); got != 400 {
		t.Errorf("errors = %v, want 400", got)
	}
}
