// Package ipc is the Unix-socket hub tool-server subprocesses call back
// into. One JSON request per connection, one JSON response, close.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/clawfleet/internal/tracing"
)

// Handler services one request type. The returned map is merged into the
// `ok:true` response envelope.
type Handler func(ctx context.Context, payload json.RawMessage) (map[string]any, error)

// Hub accepts connections on the orchestrator's IPC socket.
type Hub struct {
	root     string
	sockPath string
	handlers map[string]Handler

	ln net.Listener
	wg sync.WaitGroup
}

// SocketPath returns the socket location for this process.
func SocketPath(root string) string {
	return filepath.Join(root, fmt.Sprintf("ipc-%d.sock", os.Getpid()))
}

// NewHub creates a Hub with an empty handler table.
func NewHub(root string) *Hub {
	return &Hub{
		root:     root,
		sockPath: SocketPath(root),
		handlers: map[string]Handler{},
	}
}

// Path returns the socket path the hub binds.
func (h *Hub) Path() string { return h.sockPath }

// Handle registers a handler for a request type.
func (h *Hub) Handle(reqType string, fn Handler) {
	h.handlers[reqType] = fn
}

// Start removes stale sockets left by prior runs, binds the socket and
// begins accepting. Each connection is serviced on its own goroutine.
func (h *Hub) Start(ctx context.Context) error {
	stale, _ := filepath.Glob(filepath.Join(h.root, "ipc-*.sock"))
	for _, s := range stale {
		if err := os.Remove(s); err != nil {
			slog.Warn("ipc.stale_socket_remove_failed", "path", s, "error", err)
		} else {
			slog.Info("ipc.stale_socket_removed", "path", s)
		}
	}

	ln, err := net.Listen("unix", h.sockPath)
	if err != nil {
		return fmt.Errorf("bind ipc socket: %w", err)
	}
	h.ln = ln
	slog.Info("ipc.listening", "socket", h.sockPath)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Warn("ipc.accept_failed", "error", err)
				continue
			}
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.serve(ctx, conn)
			}()
		}
	}()
	return nil
}

// Stop closes the listener, waits for in-flight connections and removes the
// socket file.
func (h *Hub) Stop() {
	if h.ln != nil {
		h.ln.Close()
	}
	h.wg.Wait()
	os.Remove(h.sockPath)
}

type request struct {
	Type string `json:"type"`
}

// serve handles one connection: read the single request object, dispatch,
// write the single response. Panics become ok:false instead of taking the
// hub down.
func (h *Hub) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var resp map[string]any
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("ipc.handler_panic", "panic", r)
				resp = map[string]any{"ok": false, "error": fmt.Sprintf("internal error: %v", r)}
			}
		}()
		resp = h.dispatch(ctx, conn)
	}()

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		slog.Warn("ipc.write_failed", "error", err)
	}
}

func (h *Hub) dispatch(ctx context.Context, conn net.Conn) map[string]any {
	raw, err := io.ReadAll(conn)
	if err != nil {
		return fail(fmt.Sprintf("read request: %v", err))
	}
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return fail(fmt.Sprintf("invalid request JSON: %v", err))
	}

	handler, ok := h.handlers[req.Type]
	if !ok {
		return fail("Unknown IPC message type: " + req.Type)
	}
	slog.Debug("ipc.request", "type", req.Type)

	ctx, span := tracing.Tracer().Start(ctx, "ipc.request")
	span.SetAttributes(attribute.String("type", req.Type))
	defer span.End()

	data, err := handler(ctx, raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fail(err.Error())
	}
	resp := map[string]any{"ok": true}
	for k, v := range data {
		resp[k] = v
	}
	return resp
}

func fail(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}
