package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"AgroPulse/internal/domain/models"
	domrepo "AgroPulse/internal/domain/repository"
	xlogger "AgroPulse/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 16
)

// AlertHub streams alerts to websocket subscribers. It is an AlertSink, so
// Refresh pushes new and updated alerts to every connected client.
// A client that cannot keep up is disconnected rather than slowing the others.
type AlertHub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	upgrader websocket.Upgrader
	log      *xlogger.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (cl *wsClient) close() {
	cl.once.Do(func() { close(cl.send) })
}

var _ domrepo.AlertSink = (*AlertHub)(nil)

func NewAlertHub(log *xlogger.Logger) *AlertHub {
	if log == nil {
		log = xlogger.NewNop()
	}
	return &AlertHub{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log.With(xlogger.String("component", "alert_hub")),
	}
}

// alertFrame is one websocket message.
type alertFrame struct {
	Type   string         `json:"type"`
	Alerts []models.Alert `json:"alerts"`
}

// PublishAlerts fans alerts out to all subscribers.
func (h *AlertHub) PublishAlerts(_ context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	msg, err := json.Marshal(alertFrame{Type: "alerts", Alerts: alerts})
	if err != nil {
		return err
	}

	var slow []*wsClient
	h.mu.RLock()
	for cl := range h.clients {
		select {
		case cl.send <- msg:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range slow {
		h.log.Warn("Dropping slow websocket client", xlogger.String("remote", cl.conn.RemoteAddr().String()))
		h.remove(cl)
	}
	return nil
}

// ServeWS upgrades the request and blocks until the client goes away.
func (h *AlertHub) ServeWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered the request
		h.log.Debug("Websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	cl := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("Websocket client connected", xlogger.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(cl)
	h.readLoop(cl)
	return nil
}

// Len is the number of connected clients.
func (h *AlertHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *AlertHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for cl := range clients {
		cl.close()
	}
}

func (h *AlertHub) remove(cl *wsClient) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	cl.close()
}

// readLoop only keeps the connection alive; clients have nothing to say.
func (h *AlertHub) readLoop(cl *wsClient) {
	defer h.remove(cl)
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *AlertHub) writeLoop(cl *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
