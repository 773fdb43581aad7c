package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/pkg/logger"
)

const (
	streamSendBuffer = 64
	streamPingPeriod = 15 * time.Second
	streamWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards connect from other origins; auth happens upstream.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StreamHub fans triggered alerts out to websocket subscribers. It
// doubles as the "stream" notifier action: a rule routed to "stream"
// pushes its alerts to every connected dashboard. Slow consumers are
// disconnected rather than allowed to stall the hub.
type StreamHub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	log     *slog.Logger
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewStreamHub() *StreamHub {
	return &StreamHub{
		clients: make(map[*streamClient]struct{}),
		log:     logger.Named("stream"),
	}
}

// Notify implements the dispatcher's Notifier interface.
func (h *StreamHub) Notify(_ context.Context, alert *model.TriggeredAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// Buffer full; the write pump will notice the closed
			// channel and drop the connection.
			go h.remove(client)
		}
	}
	return nil
}

// Serve upgrades the request and keeps the connection until the client
// goes away.
func (h *StreamHub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err, "client_ip", c.ClientIP())
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan []byte, streamSendBuffer),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	h.readPump(client)
}

func (h *StreamHub) writePump(client *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-client.send:
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				h.remove(client)
				return
			}
		}
	}
}

// readPump discards inbound frames; the stream is one-way. It exists
// to notice disconnects and process control frames.
func (h *StreamHub) readPump(client *streamClient) {
	defer h.remove(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHub) remove(client *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	if ok {
		client.conn.Close()
	}
}

// Subscribers reports the live connection count for the health surface.
func (h *StreamHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
