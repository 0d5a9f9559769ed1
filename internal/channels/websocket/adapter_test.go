package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/locushq/locus/pkg/models"
)

func dialTestServer(t *testing.T, a *Adapter) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, a *Adapter, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for a.ConnectionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d, want %d", a.ConnectionCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRejectsConnectionsBeforeStart(t *testing.T) {
	a := NewAdapter(Config{})
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial succeeded before Start")
	}
}

func TestInboundAndOutboundRoundtrip(t *testing.T) {
	a := NewAdapter(Config{})
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background())

	client := dialTestServer(t, a)
	waitForConnections(t, a, 1)

	if err := client.WriteJSON(wire{Content: "hello from client"}); err != nil {
		t.Fatal(err)
	}

	var inbound *models.Message
	select {
	case inbound = <-a.Messages():
	case <-time.After(time.Second):
		t.Fatal("no inbound message")
	}
	if inbound.Content != "hello from client" || inbound.Channel != models.ChannelWebSocket {
		t.Errorf("inbound = %+v", inbound)
	}
	if inbound.ChannelID == "" {
		t.Fatal("inbound message has no connection id")
	}

	// Reply through the same connection id.
	if err := a.Send(context.Background(), &models.Message{ChannelID: inbound.ChannelID, Content: "reply"}); err != nil {
		t.Fatal(err)
	}
	var frame wire
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	if err := client.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Content != "reply" || frame.Role != "assistant" {
		t.Errorf("frame = %+v", frame)
	}
}

func TestSendToUnknownConnection(t *testing.T) {
	a := NewAdapter(Config{})
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background())

	if err := a.Send(context.Background(), &models.Message{ChannelID: "nope", Content: "x"}); err == nil {
		t.Fatal("unknown connection id accepted")
	}
}

func TestIgnoresEmptyFrames(t *testing.T) {
	a := NewAdapter(Config{})
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background())

	client := dialTestServer(t, a)
	waitForConnections(t, a, 1)

	if err := client.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := client.WriteJSON(wire{Content: ""}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-a.Messages():
		t.Fatalf("empty frame delivered: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStopClosesConnections(t *testing.T) {
	a := NewAdapter(Config{})
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	client := dialTestServer(t, a)
	waitForConnections(t, a, 1)

	if err := a.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("client connection still readable after Stop")
	}
	if _, ok := <-a.Messages(); ok {
		t.Error("messages channel still open")
	}
}
