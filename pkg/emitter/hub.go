package emitter

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/NotCoffee418/iec62056_reader/pkg/logging"
	"github.com/NotCoffee418/iec62056_reader/pkg/metrics"
	"github.com/NotCoffee418/iec62056_reader/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Readers sit on a LAN, any origin may subscribe
	},
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub broadcasts batches to websocket subscribers and remembers the latest
// batch per device. It is safe for concurrent use by many sessions.
type Hub struct {
	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*client

	latestMu sync.RWMutex
	latest   map[string]*types.Batch

	logger zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*client),
		latest:  make(map[string]*types.Batch),
		logger:  logging.Component("hub"),
	}
}

// Emit stores batch as the device's latest and sends it to every subscriber.
// A subscriber that cannot keep up is dropped, it never blocks the session.
func (h *Hub) Emit(_ context.Context, batch *types.Batch) error {
	h.latestMu.Lock()
	h.latest[batch.DeviceID] = batch
	h.latestMu.Unlock()

	h.Broadcast(batch)
	return nil
}

func (h *Hub) Broadcast(batch *types.Batch) {
	data := batch.ToJsonBytes()
	if data == nil {
		return
	}

	h.clientsMu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range clients {
		if err := c.send(data); err != nil {
			h.logger.Debug().Err(err).Msg("dropping websocket client")
			h.RemoveClient(c.conn)
		}
	}
}

func (h *Hub) addClient(conn *websocket.Conn) *client {
	c := &client{conn: conn}
	h.clientsMu.Lock()
	h.clients[conn] = c
	n := len(h.clients)
	h.clientsMu.Unlock()
	metrics.SetWebsocketClients(n)
	return c
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.clientsMu.Unlock()
	if ok {
		conn.Close()
		metrics.SetWebsocketClients(n)
	}
}

func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Latest returns the newest batch of a device, or nil.
func (h *Hub) Latest(deviceID string) *types.Batch {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	return h.latest[deviceID]
}

// LatestAll returns the newest batch of every device, ordered by device id.
func (h *Hub) LatestAll() []*types.Batch {
	h.latestMu.RLock()
	batches := make([]*types.Batch, 0, len(h.latest))
	for _, b := range h.latest {
		batches = append(batches, b)
	}
	h.latestMu.RUnlock()
	sort.Slice(batches, func(i, j int) bool { return batches[i].DeviceID < batches[j].DeviceID })
	return batches
}

// ServeHTTP upgrades to a websocket, sends the latest batches and keeps the
// subscriber until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := h.addClient(conn)

	for _, batch := range h.LatestAll() {
		if err := c.send(batch.ToJsonBytes()); err != nil {
			h.RemoveClient(conn)
			return
		}
	}

	// Keep connection alive, the reads also answer pings
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.RemoveClient(conn)
			return
		}
	}
}

// LatestHandler serves /latest, optionally filtered with ?device=.
func (h *Hub) LatestHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if device := r.URL.Query().Get("device"); device != "" {
		batch := h.Latest(device)
		if batch == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "No readings available yet",
			})
			return
		}
		json.NewEncoder(w).Encode(batch)
		return
	}

	batches := h.LatestAll()
	if len(batches) == 0 {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "No readings available yet",
		})
		return
	}
	json.NewEncoder(w).Encode(batches)
}
