package controlplane

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hidcoord/coordinator/internal/statestore"
)

// dashboardUpgrader allows any origin: the dashboard only ever binds to
// loopback, so there's no cross-origin surface to police.
var dashboardUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// automatingSnapshot is the read-only payload pushed to the dashboard:
// derived entirely from State Store, never a new piece of mutable
// state.
type automatingSnapshot struct {
	Automating bool                   `json:"automating"`
	Cursor     statestore.Point       `json:"cursor"`
	Hover      statestore.HoverTarget `json:"hover"`
	Viewport   statestore.Rect        `json:"viewport"`
	LastAction string                 `json:"last_action"`
	LastError  string                 `json:"last_error"`
}

// dashboardHub pushes an automatingSnapshot to every connected operator
// dashboard whenever State Store changes, throttled to at most once per
// 100ms: register/unregister channels, a per-client buffered send
// channel, drop-on-backpressure broadcast. Push-only: the dashboard
// never originates commands, so the only read loop (readPumpIgnoring)
// discards inbound frames and exists to detect disconnects.
type dashboardHub struct {
	store *statestore.Store

	clientsMu sync.Mutex
	clients   map[*dashboardClient]struct{}

	notify chan struct{}
}

type dashboardClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newDashboardHub(store *statestore.Store) *dashboardHub {
	h := &dashboardHub{
		store:   store,
		clients: make(map[*dashboardClient]struct{}),
		notify:  make(chan struct{}, 1),
	}
	store.OnChange(func() {
		select {
		case h.notify <- struct{}{}:
		default:
		}
	})
	return h
}

// run throttles State Store change notifications to one broadcast per
// 100ms and pushes the current snapshot to every connected client.
func (h *dashboardHub) run() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	pending := false
	for {
		select {
		case <-h.notify:
			pending = true
		case <-ticker.C:
			if pending {
				h.broadcast()
				pending = false
			}
		}
	}
}

func (h *dashboardHub) broadcast() {
	snap := h.store.Read()
	msg := automatingSnapshot{
		Automating: snap.Automating,
		Cursor:     snap.Cursor,
		Hover:      snap.Hover,
		Viewport:   snap.Viewport,
		LastAction: snap.LastAction,
		LastError:  snap.LastError,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Dashboard: marshal error: %v", err)
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client: drop rather than block the broadcast.
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *dashboardHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := dashboardUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Dashboard: upgrade failed: %v", err)
		return
	}

	c := &dashboardClient{conn: conn, send: make(chan []byte, 8)}
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()

	go c.writePump()
	go c.readPumpIgnoring(h)

	// Prime the new client with the current snapshot on the next tick
	// instead of waiting for the next State Store mutation.
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// writePump drains send to the socket, starting with the priming
// snapshot handleWS requests for every new client.
func (c *dashboardClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(msg)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPumpIgnoring discards any inbound frames (the dashboard is
// receive-only) purely to detect disconnects and unregister.
func (c *dashboardClient) readPumpIgnoring(h *dashboardHub) {
	defer func() {
		h.clientsMu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.clientsMu.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
<title>Coordinator — diagnostics</title>
<style>
body { font-family: monospace; background: #111; color: #ddd; padding: 2em; }
.automating { color: #ffb347; font-weight: bold; }
.idle { color: #7fd27f; }
td { padding: 2px 1em 2px 0; }
</style>
</head>
<body>
<h2>Coordinator diagnostics</h2>
<table>
<tr><td>status</td><td id="status" class="idle">idle</td></tr>
<tr><td>cursor</td><td id="cursor">-</td></tr>
<tr><td>hover</td><td id="hover">-</td></tr>
<tr><td>last action</td><td id="lastAction">-</td></tr>
<tr><td>last error</td><td id="lastError">-</td></tr>
</table>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/dashboard/ws");
ws.onmessage = (ev) => {
  const s = JSON.parse(ev.data);
  const status = document.getElementById("status");
  status.textContent = s.automating ? "automating" : "idle";
  status.className = s.automating ? "automating" : "idle";
  document.getElementById("cursor").textContent = s.cursor.X + ", " + s.cursor.Y;
  document.getElementById("hover").textContent = s.hover.Name || s.hover.ID || "-";
  document.getElementById("lastAction").textContent = s.last_action || "-";
  document.getElementById("lastError").textContent = s.last_error || "-";
};
</script>
</body>
</html>
`

func (h *dashboardHub) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}
