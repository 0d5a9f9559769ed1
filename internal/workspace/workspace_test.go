package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/locushq/locus/pkg/models"
)

type fakeResponder struct {
	mu      sync.Mutex
	calls   int
	lastSel models.AgentSelection
	history []*models.Message
	reply   string
	err     error
}

func (f *fakeResponder) Respond(_ context.Context, sel models.AgentSelection, history []*models.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSel = sel
	f.history = history
	if f.err != nil {
		return "", f.err
	}
	if f.reply == "" {
		return "hello back", nil
	}
	return f.reply, nil
}

func newTestWorkspace(settings models.WorkspaceSettings, responder Responder, sendTo func(string) SendFunc) *Workspace {
	return New("test", settings, models.AgentSelection{Provider: "anthropic", Model: "claude-sonnet-4-5"}, responder, sendTo, discardLogger())
}

func TestBufferPrunesToFiveTimesContextWindow(t *testing.T) {
	w := newTestWorkspace(models.WorkspaceSettings{MaxContextMessages: 4}, nil, nil)
	for i := 0; i < 50; i++ {
		w.AddMessage(&models.Message{Role: models.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	msgs := w.Messages()
	if len(msgs) != 20 {
		t.Fatalf("buffer = %d messages, want exactly 20 (5×4)", len(msgs))
	}
	if msgs[0].Content != "m30" || msgs[19].Content != "m49" {
		t.Errorf("kept [%s..%s], want [m30..m49]", msgs[0].Content, msgs[19].Content)
	}
}

func TestContextMessagesLimits(t *testing.T) {
	w := newTestWorkspace(models.WorkspaceSettings{MaxContextMessages: 3}, nil, nil)
	for i := 0; i < 10; i++ {
		w.AddMessage(&models.Message{Content: fmt.Sprintf("m%d", i)})
	}
	if got := w.ContextMessages(0); len(got) != 3 || got[0].Content != "m7" {
		t.Errorf("default window = %d from %s, want 3 from m7", len(got), got[0].Content)
	}
	if got := w.ContextMessages(5); len(got) != 5 {
		t.Errorf("explicit limit = %d, want 5", len(got))
	}
	if got := w.ContextMessages(100); len(got) != 10 {
		t.Errorf("oversized limit = %d, want all 10", len(got))
	}
}

func TestClearMessagesRotatesConversation(t *testing.T) {
	w := newTestWorkspace(models.WorkspaceSettings{}, nil, nil)
	w.AddMessage(&models.Message{Content: "hi"})
	before := w.ConversationID()

	w.ClearMessages()
	if len(w.Messages()) != 0 {
		t.Error("buffer not emptied")
	}
	if w.ConversationID() == before {
		t.Error("conversation id did not rotate")
	}
}

func TestSetStateErrorSemantics(t *testing.T) {
	w := newTestWorkspace(models.WorkspaceSettings{}, nil, nil)

	var transitions []models.WorkspaceState
	w.On(EventStateChange, func(args ...any) {
		if s, ok := args[0].(models.WorkspaceState); ok {
			transitions = append(transitions, s)
		}
	})

	w.SetState(models.WorkspaceError, "boom")
	if state, errMsg := w.State(); state != models.WorkspaceError || errMsg != "boom" {
		t.Errorf("state = %s/%q, want error/boom", state, errMsg)
	}

	w.SetState(models.WorkspaceIdle, "")
	if state, errMsg := w.State(); state != models.WorkspaceIdle || errMsg != "" {
		t.Errorf("state = %s/%q, want idle with cleared error", state, errMsg)
	}

	if len(transitions) != 2 {
		t.Errorf("stateChange emissions = %d, want 2", len(transitions))
	}
}

func TestProcessIncomingMessageAutoReply(t *testing.T) {
	responder := &fakeResponder{reply: "the answer"}
	w := newTestWorkspace(models.WorkspaceSettings{AutoReply: true, MaxContextMessages: 10}, responder, nil)

	err := w.ProcessIncomingMessage(context.Background(), &models.Message{Content: "question"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	msgs := w.Messages()
	if len(msgs) != 2 {
		t.Fatalf("buffer = %d messages, want user + assistant", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("roles = %s,%s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Content != "the answer" {
		t.Errorf("reply = %q", msgs[1].Content)
	}
	if responder.lastSel.Provider != "anthropic" {
		t.Errorf("responder got provider %q", responder.lastSel.Provider)
	}
}

func TestProcessIncomingMessageWithoutAutoReply(t *testing.T) {
	responder := &fakeResponder{}
	w := newTestWorkspace(models.WorkspaceSettings{AutoReply: false}, responder, nil)

	if err := w.ProcessIncomingMessage(context.Background(), &models.Message{Content: "hi"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if responder.calls != 0 {
		t.Error("responder called despite autoReply off")
	}
	if len(w.Messages()) != 1 {
		t.Errorf("buffer = %d, want just the user message", len(w.Messages()))
	}
}

func TestGenerateResponseStreamEventsAndChannelSend(t *testing.T) {
	var sent []string
	sendTo := func(channelID string) SendFunc {
		if channelID != "chan-1" {
			return nil
		}
		return func(_ context.Context, _ string, text string) error {
			sent = append(sent, text)
			return nil
		}
	}
	responder := &fakeResponder{reply: "out"}
	w := newTestWorkspace(models.WorkspaceSettings{MaxContextMessages: 10}, responder, sendTo)

	var events []string
	w.On(EventStreamStart, func(...any) { events = append(events, "start") })
	w.On(EventStreamEnd, func(...any) { events = append(events, "end") })

	w.AddMessage(&models.Message{Role: models.RoleUser, Content: "hi"})
	reply, err := w.GenerateResponse(context.Background(), "chan-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply.Content != "out" {
		t.Errorf("reply = %q", reply.Content)
	}
	if len(events) != 2 || events[0] != "start" || events[1] != "end" {
		t.Errorf("stream events = %v, want [start end]", events)
	}
	if len(sent) != 1 || sent[0] != "out" {
		t.Errorf("channel sends = %v, want the reply", sent)
	}
	if state, _ := w.State(); state != models.WorkspaceIdle {
		t.Errorf("state = %s, want idle", state)
	}
}

func TestGenerateResponseErrorEntersErrorState(t *testing.T) {
	responder := &fakeResponder{err: errors.New("provider down")}
	w := newTestWorkspace(models.WorkspaceSettings{}, responder, nil)
	w.AddMessage(&models.Message{Role: models.RoleUser, Content: "hi"})

	_, err := w.GenerateResponse(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "provider down") {
		t.Fatalf("err = %v, want wrapped provider error", err)
	}
	state, errMsg := w.State()
	if state != models.WorkspaceError || errMsg != "provider down" {
		t.Errorf("state = %s/%q, want error/provider down", state, errMsg)
	}
}
