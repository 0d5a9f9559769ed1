package workspace

import (
	"testing"

	"github.com/locushq/locus/pkg/models"
)

func newTestManager(responder Responder) (*Manager, *Emitter) {
	bus := NewEmitter(discardLogger())
	return NewManager(bus, responder, nil, discardLogger()), bus
}

func TestChannelAssociationRoundTrip(t *testing.T) {
	m, _ := newTestManager(nil)
	w := m.Create("w1", models.WorkspaceSettings{}, models.AgentSelection{})

	if err := m.AssociateChannel(w.ID(), "chan-1"); err != nil {
		t.Fatalf("associate: %v", err)
	}
	if got, ok := m.ByChannel("chan-1"); !ok || got.ID() != w.ID() {
		t.Fatal("channel did not resolve to its workspace")
	}

	m.DisassociateChannel("chan-1")
	if _, ok := m.ByChannel("chan-1"); ok {
		t.Error("channel still resolves after disassociation")
	}
	// Unknown channel disassociation is a no-op.
	m.DisassociateChannel("chan-1")
}

func TestAssociateChannelRebinds(t *testing.T) {
	m, _ := newTestManager(nil)
	w1 := m.Create("w1", models.WorkspaceSettings{}, models.AgentSelection{})
	w2 := m.Create("w2", models.WorkspaceSettings{}, models.AgentSelection{})

	if err := m.AssociateChannel(w1.ID(), "chan-1"); err != nil {
		t.Fatalf("associate: %v", err)
	}
	if err := m.AssociateChannel(w2.ID(), "chan-1"); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if got, _ := m.ByChannel("chan-1"); got.ID() != w2.ID() {
		t.Error("channel did not move to the new workspace")
	}
}

func TestDefaultWorkspacePointer(t *testing.T) {
	m, _ := newTestManager(nil)
	if m.Default() != nil {
		t.Fatal("default set with zero workspaces")
	}

	w1 := m.Create("w1", models.WorkspaceSettings{}, models.AgentSelection{})
	w2 := m.Create("w2", models.WorkspaceSettings{}, models.AgentSelection{})
	if m.Default().ID() != w1.ID() {
		t.Error("first workspace is not the default")
	}

	if err := m.SetDefault(w2.ID()); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if err := m.Delete(w2.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if m.Default().ID() != w1.ID() {
		t.Error("default did not repoint after deleting the default")
	}

	if err := m.Delete(w1.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if m.Default() != nil {
		t.Error("default set with zero workspaces after deletes")
	}
}

func TestChannelMessageBridgeCreatesDefaultWorkspace(t *testing.T) {
	responder := &fakeResponder{reply: "auto"}
	m, bus := newTestManager(responder)

	bus.Emit(EventChannelMessage, "chan-9", &models.Message{Content: "hello"})

	w := m.Default()
	if w == nil {
		t.Fatal("bridge did not create a default workspace")
	}
	msgs := w.Messages()
	if len(msgs) != 2 || msgs[1].Content != "auto" {
		t.Fatalf("messages = %d, want user + auto reply", len(msgs))
	}
	// The channel is now bound to the workspace it landed in.
	if got, ok := m.ByChannel("chan-9"); !ok || got.ID() != w.ID() {
		t.Error("channel not bound after bridge delivery")
	}
}

func TestChannelMessageBridgeRoutesToBoundWorkspace(t *testing.T) {
	m, bus := newTestManager(nil)
	w1 := m.Create("w1", models.WorkspaceSettings{}, models.AgentSelection{})
	w2 := m.Create("w2", models.WorkspaceSettings{}, models.AgentSelection{})
	if err := m.AssociateChannel(w2.ID(), "chan-2"); err != nil {
		t.Fatalf("associate: %v", err)
	}

	bus.Emit(EventChannelMessage, "chan-2", &models.Message{Content: "for w2"})
	if len(w1.Messages()) != 0 {
		t.Error("message leaked into unbound workspace")
	}
	if msgs := w2.Messages(); len(msgs) != 1 || msgs[0].Content != "for w2" {
		t.Errorf("w2 messages = %d, want the routed message", len(msgs))
	}
}

func TestDisposeUnsubscribesAndIsIdempotent(t *testing.T) {
	m, bus := newTestManager(nil)
	m.Create("w1", models.WorkspaceSettings{}, models.AgentSelection{})

	m.Dispose()
	m.Dispose() // double dispose is a no-op

	bus.Emit(EventChannelMessage, "chan-1", &models.Message{Content: "late"})
	w := m.Default()
	if len(w.Messages()) != 0 {
		t.Error("disposed manager still received bus traffic")
	}
}
