package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/session"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains session_id -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling of ephemeral events: local broadcast + publish to Redis.
type Hub struct {
	// sessionID -> map[clientID]*Client
	sessions map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per session
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishSessionEvent(sessionID string, event string, payload []byte) error
}

// RedisSubscriber subscribes to session channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeSession(sessionID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		sessions: make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a session room. Starts Redis subscription for this session if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.redisSub != nil {
			sid := c.SessionID
			cancel, err := h.redisSub.SubscribeSession(sid, func(event string, payload []byte) {
				h.Broadcast(sid, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[sid] = cancel
			} else {
				h.logger.Warn("redis subscribe", zap.String("session_id", sid), zap.Error(err))
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
}

// Unregister removes a client from a session room and returns how many connections the same
// participant still holds in it. Cancels Redis subscription when last client leaves.
func (h *Hub) Unregister(c *Client) (remaining int) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		for _, other := range m {
			if other.ParticipantID == c.ParticipantID {
				remaining++
			}
		}
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
	return remaining
}

// Broadcast sends a message to all clients in a session (local only).
func (h *Hub) Broadcast(sessionID string, event string, payload interface{}) {
	msg, err := newMessage(event, payload)
	if err != nil {
		h.logger.Warn("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// PublishToSessionOnly publishes to Redis only (no local broadcast), so the Redis subscriber callback
// performs the broadcast once for all instances, including this one.
func (h *Hub) PublishToSessionOnly(sessionID string, event string, payload interface{}) error {
	if h.redis == nil {
		h.Broadcast(sessionID, event, payload)
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.redis.PublishSessionEvent(sessionID, event, data)
}

// SendMessage implements session.Messenger. Session updates are built by every instance from its
// own replica, so they are delivered locally. Ephemeral events fan out through Redis.
func (h *Hub) SendMessage(sessionID string, event string, payload interface{}) error {
	if event == session.EventSessionUpdate {
		h.Broadcast(sessionID, event, payload)
		return nil
	}
	return h.PublishToSessionOnly(sessionID, event, payload)
}

// ConnectionCount returns the number of connected clients in a session.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SendToClient sends a message to a single client in a session (for WebRTC signaling and errors).
func (h *Hub) SendToClient(sessionID string, clientID string, event string, payload interface{}) {
	msg, err := newMessage(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	c, ok := h.sessions[sessionID][clientID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func newMessage(event string, payload interface{}) (WSMessage, error) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return WSMessage{}, err
		}
		data = b
	}
	return WSMessage{Event: event, Data: data}, nil
}
