package slack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/locushq/locus/pkg/models"
)

type fakeAPI struct {
	mu      sync.Mutex
	authErr error
	posted  []string
}

func (f *fakeAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, channelID)
	return channelID, "123.456", nil
}

func (f *fakeAPI) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &slack.AuthTestResponse{UserID: "BBOT"}, nil
}

type fakeSocket struct {
	mu    sync.Mutex
	acked int
}

func (f *fakeSocket) RunContext(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSocket) Ack(req socketmode.Request, payload ...interface{}) {
	f.mu.Lock()
	f.acked++
	f.mu.Unlock()
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeAPI, *fakeSocket, chan socketmode.Event) {
	t.Helper()
	a, err := NewAdapter(Config{BotToken: "xoxb-test", AppToken: "xapp-test", RateLimit: 1000, RateBurst: 100})
	if err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{}
	sock := &fakeSocket{}
	events := make(chan socketmode.Event, 10)
	a.api = api
	a.socket = sock
	a.events = events
	return a, api, sock, events
}

func messageEvent(user, channel, text string) socketmode.Event {
	return socketmode.Event{
		Type:    socketmode.EventTypeEventsAPI,
		Request: &socketmode.Request{EnvelopeID: "env-1"},
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{
					User:      user,
					Channel:   channel,
					Text:      text,
					TimeStamp: "111.222",
				},
			},
		},
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := NewAdapter(Config{BotToken: "xoxb-only"}); err == nil {
		t.Fatal("missing app token accepted")
	}
	if _, err := NewAdapter(Config{AppToken: "xapp-only"}); err == nil {
		t.Fatal("missing bot token accepted")
	}
}

func TestStartFailsOnBadAuth(t *testing.T) {
	a, api, _, _ := newTestAdapter(t)
	api.authErr = errors.New("invalid_auth")
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("auth failure not surfaced")
	}
}

func TestInboundMessageFlow(t *testing.T) {
	a, _, sock, events := newTestAdapter(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background())

	events <- messageEvent("U123", "C456", "hello bot")

	select {
	case msg := <-a.Messages():
		if msg.ChannelID != "C456" || msg.Content != "hello bot" || msg.Channel != models.ChannelSlack {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no inbound message")
	}

	sock.mu.Lock()
	defer sock.mu.Unlock()
	if sock.acked != 1 {
		t.Errorf("acked = %d, want 1", sock.acked)
	}
}

func TestInboundSkipsOwnAndSubtypeMessages(t *testing.T) {
	a, _, _, events := newTestAdapter(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background())

	// Own message.
	events <- messageEvent("BBOT", "C456", "echo")
	// Subtype (edit).
	edited := messageEvent("U123", "C456", "edited")
	evt := edited.Data.(slackevents.EventsAPIEvent)
	evt.InnerEvent.Data.(*slackevents.MessageEvent).SubType = "message_changed"
	edited.Data = evt
	events <- edited

	select {
	case msg := <-a.Messages():
		t.Fatalf("filtered message delivered: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendPostsMessage(t *testing.T) {
	a, api, _, _ := newTestAdapter(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background())

	if err := a.Send(context.Background(), &models.Message{ChannelID: "C1", Content: "reply"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Send(context.Background(), &models.Message{Content: "no channel"}); err == nil {
		t.Error("missing channel id accepted")
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.posted) != 1 || api.posted[0] != "C1" {
		t.Errorf("posted = %v", api.posted)
	}
}
