// Package webchat is a local WebSocket chat adapter. Each connected client
// is its own conversation; the connection id doubles as the chat id.
package webchat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/channels"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Local loopback server; browser origin checks do not apply.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientFrame is one message from a web client.
type clientFrame struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// serverFrame is one message to a web client.
type serverFrame struct {
	Text      string    `json:"text"`
	Typing    bool      `json:"typing,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Adapter serves the chat WebSocket on a loopback address.
type Adapter struct {
	listen  string
	handler bus.MessageHandler
	server  *http.Server

	mu        sync.RWMutex
	conns     map[string]*websocket.Conn
	connected bool
}

// New creates a disconnected adapter listening on addr when connected.
func New(addr string) *Adapter {
	return &Adapter{
		listen: addr,
		conns:  map[string]*websocket.Conn{},
	}
}

func (a *Adapter) Name() string { return "webchat" }

func (a *Adapter) OnMessage(h bus.MessageHandler) { a.handler = h }

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *Adapter) Connect(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.handleWS)

	ln, err := net.Listen("tcp", a.listen)
	if err != nil {
		return fmt.Errorf("webchat listen %s: %w", a.listen, err)
	}
	a.server = &http.Server{Handler: mux}
	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("webchat.server_stopped", "error", err)
		}
	}()

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	slog.Info("webchat.listening", "addr", a.listen)
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = false
	conns := a.conns
	a.conns = map[string]*websocket.Conn{}
	a.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

func (a *Adapter) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("webchat.upgrade_failed", "error", err)
		return
	}
	connID := uuid.NewString()
	a.mu.Lock()
	a.conns[connID] = conn
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.conns, connID)
		a.mu.Unlock()
		conn.Close()
	}()

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Text == "" {
			continue
		}
		userID := frame.UserID
		if userID == "" {
			userID = connID
		}
		if a.handler != nil {
			err := a.handler(bus.InboundMessage{
				UserID:    userID,
				ChatID:    connID,
				Text:      frame.Text,
				Timestamp: time.Now(),
			})
			if err != nil {
				slog.Warn("webchat.handler_error", "error", err)
			}
		}
	}
}

func (a *Adapter) conn(to string) (*websocket.Conn, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.conns[to]
	if !ok {
		return nil, fmt.Errorf("webchat client %q not connected", to)
	}
	return c, nil
}

func (a *Adapter) SendMessage(ctx context.Context, to, text string, opts channels.SendOptions) error {
	c, err := a.conn(to)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(serverFrame{Text: text, Timestamp: time.Now()})
	return c.WriteMessage(websocket.TextMessage, payload)
}

func (a *Adapter) SendTyping(ctx context.Context, to string) error {
	c, err := a.conn(to)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(serverFrame{Typing: true, Timestamp: time.Now()})
	return c.WriteMessage(websocket.TextMessage, payload)
}
