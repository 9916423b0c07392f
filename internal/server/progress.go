package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TobiSchelling/zhongwen/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

// ProgressEvent is pushed to a learner's open progress sockets whenever one
// of their generation runs changes state.
type ProgressEvent struct {
	UnitID int64     `json:"unit_id"`
	State  string    `json:"state"`
	Time   time.Time `json:"time"`
}

type subscriber struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// Hub fans progress events out to the sockets of each user.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscriber]struct{}
	origins  map[string]bool
	upgrader websocket.Upgrader
	log      *logging.Logger
}

// NewHub creates an empty hub. Upgrades are accepted from the server's own
// origin and from the listed browser origins.
func NewHub(log *logging.Logger, origins ...string) *Hub {
	h := &Hub{
		subs:    make(map[string]map[*subscriber]struct{}),
		origins: make(map[string]bool, len(origins)),
		log:     logging.OrNop(log).With("component", "progress"),
	}
	for _, o := range origins {
		h.origins[strings.TrimRight(o, "/")] = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows clients that send no Origin (non-browser), the
// server's own host, and configured origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.origins[origin] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	h.log.Warn("rejected websocket origin", "origin", origin)
	return false
}

// Publish sends ev to every socket of userID. Slow sockets drop events
// rather than stall the pipeline.
func (h *Hub) Publish(userID string, ev ProgressEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshaling progress event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[userID] {
		select {
		case sub.send <- msg:
		default:
			h.log.Warn("progress subscriber too slow, dropping event", "user_id", userID, "state", ev.State)
		}
	}
}

// Subscribers returns the number of open sockets for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

func (h *Hub) register(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
}

func (h *Hub) unregister(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[userID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, userID)
		}
	}
	sub.close()
}

// ServeWS upgrades the request and streams userID's events until the
// client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(userID, sub)
	h.log.Debug("progress subscriber connected", "user_id", userID)

	go h.writePump(sub)
	h.readPump(sub)

	h.unregister(userID, sub)
	h.log.Debug("progress subscriber disconnected", "user_id", userID)
}

// readPump discards client messages; it exists to process pongs and to
// notice when the connection closes.
func (h *Hub) readPump(sub *subscriber) {
	sub.conn.SetReadLimit(maxMessageSize)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
