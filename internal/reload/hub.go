// Package reload implements the browser reload channel. A Hub listens on its
// own port, distinct from the origin server, so HTTP restarts never drop the
// long-lived connections browsers keep open. Each connected tab is told to
// reload at most once per change: delivery is tracked per client rather than
// through one shared pending flag, so every tab refreshes, not just the first
// one to poll.
package reload

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/kiln/internal/errors"
	"github.com/conneroisu/kiln/internal/logging"
)

// Instruction is the literal message that tells a browser to refresh.
const Instruction = "reload"

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to the peer with this period.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from the peer. Inbound traffic is only
	// keepalives; anything larger is a misbehaving client.
	maxMessageSize = 512
)

// Hub maintains the registry of connected reload clients and pushes the
// reload instruction to each of them after a successful rebuild cycle.
type Hub struct {
	addr   string
	logger logging.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	listener   net.Listener
	httpServer *http.Server
}

type client struct {
	conn *websocket.Conn
	send chan string
}

// NewHub creates a Hub that will listen on addr.
func NewHub(addr string, logger logging.Logger) *Hub {
	return &Hub{
		addr:    addr,
		logger:  logger.WithComponent("reload"),
		clients: make(map[*client]struct{}),
	}
}

// Start binds the hub's listener. Serving begins when Run is called.
func (h *Hub) Start() error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return errors.NewNetworkError("reload_bind", "binding reload listen address", err).
			WithComponent("reload")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)

	h.listener = listener
	h.httpServer = &http.Server{Handler: mux}

	return nil
}

// Addr returns the bound listen address. Valid after Start.
func (h *Hub) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// Run serves reload connections until ctx is cancelled, then closes every
// client connection and returns.
func (h *Hub) Run(ctx context.Context) error {
	if h.httpServer == nil {
		return errors.NewInternalError("reload_not_started", "hub Run called before Start", nil).
			WithComponent("reload")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.httpServer.Shutdown(shutdownCtx)

		h.closeAll()
	}()

	err := h.httpServer.Serve(h.listener)
	<-done

	if err != nil && err != http.ErrServerClosed {
		return errors.NewNetworkError("reload_serve", "serving reload connections", err).
			WithComponent("reload")
	}

	return ctx.Err()
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan string, 8),
	}

	h.register(c)

	go c.writePump(h)
	go c.readPump(h)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug(context.Background(), "client connected", "total", count)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debug(context.Background(), "client disconnected", "total", count)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

// ClientCount returns the number of connected reload clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NotifyReload queues the reload instruction for every connected client, once
// per client. A client whose queue is full is dropped; the browser's script
// reconnects on its next page load.
func (h *Hub) NotifyReload() {
	h.mu.RLock()
	var stalled []*client
	for c := range h.clients {
		select {
		case c.send <- Instruction:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.unregister(c)
	}
}

// readPump drains inbound keepalive messages until the connection drops, then
// removes the client from the registry.
func (c *client) readPump(h *Hub) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)

	ctx := context.Background()
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

// writePump pushes queued instructions to the connection and keeps it alive
// with periodic pings.
func (c *client) writePump(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	ctx := context.Background()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, []byte(message))
			cancel()
			if err != nil {
				h.unregister(c)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// ClientScript returns the snippet appended to every served HTML page. It
// connects back to the hub and reloads the page when the reload instruction
// arrives.
func ClientScript(addr string) string {
	return fmt.Sprintf(`
<script>
    const ws = new WebSocket("ws://%s/ws");
    ws.onmessage = (event) => {
        if (event.data === %q) {
            location.reload();
        }
    };
</script>`, addr, Instruction)
}
