package webchat

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/channels"
)

func TestInboundAndOutbound(t *testing.T) {
	a := New("127.0.0.1:0")

	inbound := make(chan bus.InboundMessage, 1)
	a.OnMessage(func(msg bus.InboundMessage) error {
		inbound <- msg
		return nil
	})

	// Bind a fixed port for the test client.
	a.listen = "127.0.0.1:18799"
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Disconnect(context.Background())

	conn, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:18799/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(clientFrame{UserID: "alice", Text: "hello"}); err != nil {
		t.Fatal(err)
	}

	var msg bus.InboundMessage
	select {
	case msg = <-inbound:
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}
	if msg.UserID != "alice" || msg.Text != "hello" || msg.ChatID == "" {
		t.Errorf("msg = %+v", msg)
	}

	// Reply goes back over the same connection via its chat id.
	if err := a.SendMessage(context.Background(), msg.ChatID, "hi alice", channels.SendOptions{}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame serverFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Text != "hi alice" {
		t.Errorf("frame = %+v", frame)
	}
}

func TestSendToUnknownClient(t *testing.T) {
	a := New("127.0.0.1:0")
	if err := a.SendMessage(context.Background(), "nope", "text", channels.SendOptions{}); err == nil {
		t.Error("send to unknown client succeeded")
	}
}
