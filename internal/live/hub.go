// Package live fans freshly drained events out to dashboard sockets.
// Each socket is bound to one project for its whole lifetime; the hub
// keeps one Redis subscription per project with at least one viewer
// and drops it when the last viewer leaves.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	"github.com/Nijaek/analytics-dashboard/pkg/redis"
)

const channelPrefix = "events-live:"

// ChannelName is the pub/sub channel carrying one project's live feed.
func ChannelName(projectID int64) string {
	return channelPrefix + strconv.FormatInt(projectID, 10)
}

// Close codes for rejected socket handshakes.
const (
	CloseInvalidTicket   = 4001
	CloseProjectNotFound = 4003
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Upgrade performs the HTTP to WebSocket handshake.
func Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}

// Reject sends a close frame with an application close code and drops
// the connection. Ticket and project checks happen after the upgrade,
// so rejections must travel in-protocol.
func Reject(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// Metrics are the live delivery instruments, created by
// monitoring.CreateLiveMetrics.
type Metrics struct {
	Connections *prometheus.GaugeVec
	Messages    *prometheus.CounterVec
}

// Subscriber starts delivering one project's feed to the hub and
// returns a stop function. Swappable so tests can feed the hub without
// Redis.
type Subscriber func(projectID int64, deliver func(models.LiveEvent)) (stop func())

// RedisSubscriber bridges a project's pub/sub channel into the hub.
func RedisSubscriber(ps *redis.TypedPubSub[models.LiveEvent], logger logging.Logger) Subscriber {
	return func(projectID int64, deliver func(models.LiveEvent)) func() {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			if err := ps.Subscribe(ctx, ChannelName(projectID), deliver); err != nil {
				logger.WithError(err).WithField("project_id", projectID).Warn("Live channel subscription ended")
			}
		}()
		return cancel
	}
}

type projectMessage struct {
	projectID int64
	payload   []byte
}

// Client is one dashboard socket.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	projectID int64
	send      chan []byte
	logger    logging.Logger
}

// Hub maintains the set of active clients grouped by project.
type Hub struct {
	clients    map[int64]map[*Client]bool
	stops      map[int64]func()
	register   chan *Client
	unregister chan *Client
	broadcast  chan projectMessage
	subscriber Subscriber
	logger     logging.Logger
	metrics    *Metrics
	mutex      sync.RWMutex
}

func NewHub(subscriber Subscriber, logger logging.Logger, m *Metrics) *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		stops:      make(map[int64]func()),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan projectMessage, 256),
		subscriber: subscriber,
		logger:     logger,
		metrics:    m,
	}
}

// Run is the hub's main loop. It owns the client registry; returning
// closes every socket.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	group, ok := h.clients[client.projectID]
	if !ok {
		group = make(map[*Client]bool)
		h.clients[client.projectID] = group
		if h.subscriber != nil {
			pid := client.projectID
			h.stops[pid] = h.subscriber(pid, func(ev models.LiveEvent) {
				h.Broadcast(pid, ev)
			})
		}
	}
	group[client] = true
	count := len(group)
	h.mutex.Unlock()

	if h.metrics != nil {
		h.metrics.Connections.WithLabelValues("open").Inc()
	}
	h.logger.WithFields(logging.Fields{
		"project_id":      client.projectID,
		"project_clients": count,
	}).Info("Live client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	group, ok := h.clients[client.projectID]
	if !ok || !group[client] {
		h.mutex.Unlock()
		return
	}
	delete(group, client)
	close(client.send)
	remaining := len(group)
	if remaining == 0 {
		delete(h.clients, client.projectID)
		if stop, ok := h.stops[client.projectID]; ok {
			stop()
			delete(h.stops, client.projectID)
		}
	}
	h.mutex.Unlock()

	if h.metrics != nil {
		h.metrics.Connections.WithLabelValues("open").Dec()
	}
	h.logger.WithFields(logging.Fields{
		"project_id":      client.projectID,
		"project_clients": remaining,
	}).Info("Live client disconnected")
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for pid, group := range h.clients {
		for client := range group {
			close(client.send)
			client.conn.Close()
		}
		delete(h.clients, pid)
		if stop, ok := h.stops[pid]; ok {
			stop()
			delete(h.stops, pid)
		}
	}
}

// Broadcast queues one event for every socket of a project. The feed
// is lossy under pressure; a full queue drops the message rather than
// stalling the pipeline.
func (h *Hub) Broadcast(projectID int64, ev models.LiveEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal live event")
		return
	}

	select {
	case h.broadcast <- projectMessage{projectID: projectID, payload: payload}:
	default:
		h.logger.Warn("Broadcast queue full, dropping live event")
		if h.metrics != nil {
			h.metrics.Messages.WithLabelValues("dropped").Inc()
		}
	}
}

func (h *Hub) deliver(msg projectMessage) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients[msg.projectID] {
		select {
		case client.send <- msg.payload:
			if h.metrics != nil {
				h.metrics.Messages.WithLabelValues("delivered").Inc()
			}
		default:
			// Slow consumer: drop the message. A dead socket fails its
			// next write deadline and unregisters through the pumps.
			if h.metrics != nil {
				h.metrics.Messages.WithLabelValues("dropped").Inc()
			}
		}
	}
}

// TotalClients reports how many sockets are open across all projects.
func (h *Hub) TotalClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	total := 0
	for _, group := range h.clients {
		total += len(group)
	}
	return total
}

// ProjectClients reports how many sockets one project has open.
func (h *Hub) ProjectClients(projectID int64) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients[projectID])
}

// ServeClient registers an authorized socket and starts its pumps.
func (h *Hub) ServeClient(conn *websocket.Conn, projectID int64) {
	client := &Client{
		hub:       h,
		conn:      conn,
		projectID: projectID,
		send:      make(chan []byte, 256),
		logger:    h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// readPump drains the connection. Dashboard clients send nothing of
// interest, but reading keeps pong handling alive and notices closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("Live socket read error")
			}
			return
		}
	}
}

// writePump pumps hub messages to the socket and keeps it alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
