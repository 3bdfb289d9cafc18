package web

import (
	"net/http"
	"sync"

	"github.com/dashwire/dashwire/core"

	"github.com/gorilla/websocket"
)

// Message is one frame exchanged with the browser.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// interactionFrame is what the browser sends back on user interaction.
type interactionFrame struct {
	Type    string         `json:"type"`
	ChartID string         `json:"chart_id"`
	Native  map[string]any `json:"native"`
}

// replayFunc fetches the payloads a new client starts with: the chart's
// last payload, or every stored payload when the chart id is empty.
type replayFunc func(chartID string) []ChartPayload

// client is one connected browser. Writes are serialized through the
// mutex; the websocket package forbids concurrent writers on one
// connection.
type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Hub tracks WebSocket clients and which chart each one watches. The
// empty chart id subscribes a client to every chart.
type Hub struct {
	sync.RWMutex
	clients       map[*client]string
	upgrader      websocket.Upgrader
	broadcastChan chan Message
	sink          InteractionSink
	replay        replayFunc
	log           core.Logger
}

// NewHub creates the hub and starts its broadcast loop.
func NewHub(log core.Logger, sink InteractionSink, replay replayFunc) *Hub {
	hub := &Hub{
		clients: make(map[*client]string),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		broadcastChan: make(chan Message, 100),
		sink:          sink,
		replay:        replay,
		log:           log,
	}

	go hub.handleBroadcasts()

	return hub
}

// Broadcast queues a message for delivery to interested clients.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcastChan <- msg:
	default:
		h.log.Warn("dropping broadcast, channel full")
	}
}

// handleBroadcasts delivers queued messages to clients watching the
// message's chart.
func (h *Hub) handleBroadcasts() {
	for msg := range h.broadcastChan {
		msgChart := ""
		if payload, ok := msg.Payload.(ChartPayload); ok {
			msgChart = payload.ChartID
		}

		h.RLock()
		for cl, chartID := range h.clients {
			if chartID != "" && msgChart != "" && chartID != msgChart {
				continue
			}

			if err := cl.send(msg); err != nil {
				h.log.Error("error sending WebSocket message: ", err)
				cl.conn.Close()
				// Removal happens in the client handler when the read loop
				// observes the closed connection.
			}
		}
		h.RUnlock()
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	chartID := r.URL.Query().Get("chart")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade connection to WebSocket: ", err)
		return
	}

	cl := &client{conn: conn}

	h.Lock()
	h.clients[cl] = chartID
	count := len(h.clients)
	h.Unlock()

	h.log.WithField("chart", chartID).Infof("WebSocket client connected, total %d", count)

	go h.sendInitial(cl, chartID)
	go h.handleClient(cl)
}

// sendInitial replays the last known payloads to a new client, so a page
// loaded between pushes is not blank until the next refresh fires.
func (h *Hub) sendInitial(cl *client, chartID string) {
	if h.replay == nil {
		return
	}

	for _, payload := range h.replay(chartID) {
		if err := cl.send(Message{Type: "chart_data", Payload: payload}); err != nil {
			h.log.Error("failed to send initial payload: ", err)
			return
		}
	}
}

// handleClient reads interaction frames from the browser and forwards
// them to the sink until the connection drops.
func (h *Hub) handleClient(cl *client) {
	defer func() {
		h.Lock()
		delete(h.clients, cl)
		remaining := len(h.clients)
		h.Unlock()
		cl.conn.Close()
		h.log.Infof("WebSocket client disconnected, remaining %d", remaining)
	}()

	for {
		var frame interactionFrame
		if err := cl.conn.ReadJSON(&frame); err != nil {
			return
		}

		if frame.Type != "interaction" || frame.ChartID == "" {
			continue
		}

		if h.sink != nil {
			h.sink(frame.ChartID, frame.Native)
		}
	}
}
