package devapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"direct-chat/internal/authutil"
	"direct-chat/internal/message"
)

const writeWait = 10 * time.Second

// hubConn serializes writes to one websocket.
type hubConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *hubConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// Hub tracks live websocket connections keyed by user id.
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]map[*hubConn]struct{}
	log   zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{conns: make(map[int64]map[*hubConn]struct{}), log: log}
}

func (h *Hub) register(userID int64, c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*hubConn]struct{})
	}
	h.conns[userID][c] = struct{}{}
}

func (h *Hub) unregister(userID int64, c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.conns[userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.conns, userID)
		}
	}
}

// Connected counts registered connections.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.conns {
		n += len(conns)
	}
	return n
}

// Send delivers payload to every connection of each user, once per user.
func (h *Hub) Send(payload any, userIDs ...int64) {
	seen := make(map[int64]bool, len(userIDs))
	var targets []*hubConn
	h.mu.RLock()
	for _, uid := range userIDs {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		if len(h.conns[uid]) == 0 {
			h.log.Debug().Int64("user_id", uid).Msg("no live connection")
		}
		for c := range h.conns[uid] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		if err := c.writeJSON(payload); err != nil {
			h.log.Warn().Err(err).Msg("ws send failed")
			_ = c.ws.Close()
		}
	}
}

type errorFrame struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// streamHandler upgrades the request, then authenticates the token query
// parameter; a bad token closes the socket with a policy violation.
func (s *Server) streamHandler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("ws upgrade")
			return
		}
		defer ws.Close()

		userID, err := authutil.ValidateToken(r.URL.Query().Get("token"), authutil.KindAccess)
		if err != nil {
			s.metrics.StreamsRejected.Add(1)
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}

		c := &hubConn{ws: ws}
		s.hub.register(userID, c)
		s.metrics.StreamsOpened.Add(1)
		s.log.Info().Int64("user_id", userID).Int("connected", s.hub.Connected()).Msg("stream connected")
		defer func() {
			s.hub.unregister(userID, c)
			s.log.Info().Int64("user_id", userID).Msg("stream disconnected")
		}()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			s.relay(r, userID, c, data)
		}
	}
}

// relay forwards a message the sender already stored to its receiver.
// Anything else is answered with an error frame.
func (s *Server) relay(r *http.Request, userID int64, c *hubConn, data []byte) {
	var frame message.Message
	if err := json.Unmarshal(data, &frame); err != nil {
		_ = c.writeJSON(errorFrame{Error: "invalid_json", Details: err.Error()})
		return
	}
	if frame.ID == 0 || !frame.Routable() || frame.SenderID != userID {
		_ = c.writeJSON(errorFrame{Error: "invalid_message"})
		return
	}
	stored, err := s.store.Message(r.Context(), frame.ID)
	if err != nil || stored.SenderID != userID || stored.ReceiverID != frame.ReceiverID {
		_ = c.writeJSON(errorFrame{Error: "invalid_message"})
		return
	}
	s.metrics.FramesRelayed.Add(1)
	s.hub.Send(stored, stored.ReceiverID)
}
