package scribe

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bosley/voxnote/auth"
	"github.com/bosley/voxnote/store"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

type wsConnection struct {
	conn      *websocket.Conn
	userID    string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	hub       *subscriberList
}

func (c *wsConnection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// subscriberList tracks open status sockets per user.
type subscriberList struct {
	mu    sync.RWMutex
	conns map[string][]*wsConnection
}

func newSubscriberList() *subscriberList {
	return &subscriberList{conns: make(map[string][]*wsConnection)}
}

func (l *subscriberList) Add(c *wsConnection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[c.userID] = append(l.conns[c.userID], c)
}

func (l *subscriberList) Remove(c *wsConnection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	conns := l.conns[c.userID]
	for i, conn := range conns {
		if conn == c {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(l.conns, c.userID)
	} else {
		l.conns[c.userID] = conns
	}
}

func (l *subscriberList) Get(userID string) []*wsConnection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*wsConnection(nil), l.conns[userID]...)
}

func (l *subscriberList) CloseAll() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, conns := range l.conns {
		for _, c := range conns {
			c.close()
		}
	}
}

// StatusChanged pushes a status event to every socket the owner has open.
func (s *Scribe) StatusChanged(ownerID, recordingID string, status store.Status) {
	data, err := json.Marshal(WebSocketMessage{
		Type:      "status",
		UserID:    ownerID,
		Timestamp: time.Now(),
		Payload:   StatusEvent{RecordingID: recordingID, Status: status},
	})
	if err != nil {
		slog.Error("Failed to marshal status message", "error", err)
		return
	}

	conns := s.subscribers.Get(ownerID)
	if len(conns) == 0 {
		slog.Debug("No subscribers found for user", "userID", ownerID)
		return
	}
	for i, conn := range conns {
		select {
		case conn.send <- data:
			slog.Debug("Sent status to subscriber",
				"userID", ownerID,
				"connectionIndex", i)
		default:
			slog.Warn("Failed to send to subscriber - channel full",
				"userID", ownerID,
				"connectionIndex", i)
		}
	}
}

func (s *Scribe) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	caller, ok := auth.IdentityFrom(r.Context())
	if !ok || caller != userID {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	wsConn := &wsConnection{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		hub:    s.subscribers,
	}
	s.subscribers.Add(wsConn)

	go wsConn.writePump()
	go wsConn.readPump()
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (c *wsConnection) readPump() {
	defer func() {
		c.hub.Remove(c)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
	}
}
