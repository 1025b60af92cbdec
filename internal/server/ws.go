package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hostbeat/hostbeat/internal/logger"
	"github.com/hostbeat/hostbeat/internal/monitor"
)

const (
	// writeWait bounds a single outbound frame write.
	writeWait = 10 * time.Second
	// pongWait is how long to wait for a pong before dropping the client.
	pongWait = 20 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 15 * time.Second
	// sendBuffer is the per-client outbound queue depth. A client this far
	// behind starts losing frames instead of stalling the hub.
	sendBuffer = 16
)

// envelope is the wire shape of every server-to-client event.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// clientMessage is the wire shape of every client-to-server message.
type clientMessage struct {
	Type            string `json:"type"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
}

// Client message types.
const (
	msgStartRealtime = "start_realtime_updates"
	msgStopRealtime  = "stop_realtime_updates"
	msgRequestStats  = "request_stats"
	msgRequestStatus = "request_ssh_status"
)

// Server event names.
const (
	eventStats     = "stats_update"
	eventSSHStatus = "ssh_status_update"
)

// Hub tracks connected WebSocket clients and bridges them to the monitor's
// snapshot stream.
type Hub struct {
	svc *monitor.Service
	log logger.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]bool
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(svc *monitor.Service, log logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		svc: svc,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
	}
}

// ServeWS upgrades the connection and runs the client's pumps until it
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan envelope, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = true
	h.mu.Unlock()

	h.log.Debug("websocket client connected (%s)", r.RemoteAddr)

	go c.writePump()
	c.readPump()
	h.remove(c)
	h.log.Debug("websocket client disconnected (%s)", r.RemoteAddr)
}

// BroadcastStatus pushes the current connection status to every client.
func (h *Hub) BroadcastStatus() {
	status := h.svc.ConnectionStatus()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.enqueue(envelope{Event: eventSSHStatus, Data: status})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. New connections are refused afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	c.shutdown()
}

// wsClient is one WebSocket consumer. Snapshots flow to it through its own
// distributor subscription, which exists only while realtime updates are on.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan envelope
	done chan struct{}

	mu        sync.Mutex
	unsub     func()
	closeOnce sync.Once
}

// enqueue queues a frame, dropping it when the client is too far behind.
func (c *wsClient) enqueue(e envelope) {
	select {
	case c.send <- e:
	case <-c.done:
	default:
	}
}

// shutdown tears down the subscription and the connection. Idempotent.
func (c *wsClient) shutdown() {
	c.closeOnce.Do(func() {
		c.stopRealtime()
		close(c.done)
		c.conn.Close()
	})
}

// startRealtime subscribes to the snapshot stream and starts the scheduler
// at the requested cadence.
func (c *wsClient) startRealtime(intervalSeconds int) {
	interval := intervalRequest{IntervalSeconds: intervalSeconds}.duration()
	c.hub.svc.Scheduler().Start(interval)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsub != nil {
		return // already streaming
	}

	ch, unsub := c.hub.svc.Distributor().Subscribe()
	c.unsub = unsub
	go func() {
		for snap := range ch {
			c.enqueue(envelope{Event: eventStats, Data: snap})
		}
	}()
}

// stopRealtime drops the snapshot subscription. The scheduler keeps running
// for other consumers.
func (c *wsClient) stopRealtime() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
}

// readPump consumes client messages until the connection drops.
func (c *wsClient) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read error: %v", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(envelope{Event: "error", Data: map[string]string{"error": "invalid message"}})
			continue
		}
		c.handle(msg)
	}
}

func (c *wsClient) handle(msg clientMessage) {
	switch msg.Type {
	case msgStartRealtime:
		c.startRealtime(msg.IntervalSeconds)
		c.enqueue(envelope{Event: eventSSHStatus, Data: c.hub.svc.ConnectionStatus()})
	case msgStopRealtime:
		c.stopRealtime()
	case msgRequestStats:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		snap, err := c.hub.svc.Collect(ctx)
		cancel()
		if err != nil {
			c.enqueue(envelope{Event: "error", Data: map[string]string{"error": err.Error()}})
			return
		}
		c.enqueue(envelope{Event: eventStats, Data: snap})
	case msgRequestStatus:
		c.enqueue(envelope{Event: eventSSHStatus, Data: c.hub.svc.ConnectionStatus()})
	default:
		c.enqueue(envelope{Event: "error", Data: map[string]string{"error": "unknown message type: " + msg.Type}})
	}
}

// writePump serializes all writes to the connection and keeps it alive with
// pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case e := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
