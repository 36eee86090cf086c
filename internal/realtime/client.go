package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/session"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

const messageTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict with SetCheckOrigin
	},
}

// SetCheckOrigin replaces the WebSocket handshake origin check. Call before serving.
func SetCheckOrigin(check func(r *http.Request) bool) {
	upgrader.CheckOrigin = check
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Identity is the authenticated participant behind a connection.
type Identity struct {
	ParticipantID string
	Name          string
	Role          models.Role
	GroupID       string
}

// TokenValidator resolves the token passed on the WebSocket URL.
type TokenValidator func(token string) (Identity, error)

// Client represents a single WebSocket connection of a participant in a session.
type Client struct {
	ID            string
	SessionID     string
	ParticipantID string
	Name          string
	Role          models.Role
	GroupID       string
	hub           *Hub
	sfu           *SFU
	coord         *session.Coordinator
	conn          *websocket.Conn
	send          chan WSMessage
	logger        *zap.Logger
}

// ServeWs handles the WebSocket upgrade, joins the participant to the session and runs the client loop.
func ServeWs(hub *Hub, manager *session.Manager, sfu *SFU, validate TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		token := c.Query("token")
		if sessionID == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		id, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		coord, err := manager.Open(c.Request.Context(), sessionID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			logger.Error("open session", zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session unavailable"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:            uuid.New().String(),
			SessionID:     sessionID,
			ParticipantID: id.ParticipantID,
			Name:          id.Name,
			Role:          id.Role,
			GroupID:       id.GroupID,
			hub:           hub,
			sfu:           sfu,
			coord:         coord,
			conn:          conn,
			send:          make(chan WSMessage, 256),
			logger:        logger.With(zap.String("session_id", sessionID), zap.String("participant_id", id.ParticipantID)),
		}
		hub.Register(client)
		go client.writePump()

		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		_, err = coord.Join(ctx, client.ParticipantID, client.Name, client.Role)
		cancel()
		if err != nil {
			client.sendError(session.MsgJoin, err)
		}
		client.sendToMe(string(session.KindSnapshot), coord.View())
		client.readPump()
	}
}

func (c *Client) sendToMe(event string, payload interface{}) {
	c.hub.SendToClient(c.SessionID, c.ID, event, payload)
}

func (c *Client) sendError(event string, err error) {
	c.sendToMe("error", map[string]string{"event": event, "error": apperr.Reason(err)})
}

func (c *Client) readPump() {
	defer func() {
		if c.sfu != nil {
			c.sfu.UnregisterClient(c.SessionID, c.ID)
		}
		if c.hub.Unregister(c) == 0 {
			ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
			if err := c.coord.Disconnected(ctx, c.ParticipantID); err != nil {
				c.logger.Debug("mark disconnected", zap.Error(err))
			}
			cancel()
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.coord.Touch(c.ParticipantID)
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if c.handleSignaling(msg) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		err := c.coord.HandleMessage(ctx, session.Message{
			Event:         msg.Event,
			ParticipantID: c.ParticipantID,
			Name:          c.Name,
			Role:          c.Role,
			GroupID:       c.GroupID,
			Data:          msg.Data,
		})
		cancel()
		if err != nil {
			c.logger.Debug("inbound message rejected", zap.String("event", msg.Event), zap.Error(err))
			c.sendError(msg.Event, err)
		}
	}
}

// handleSignaling relays WebRTC negotiation to the SFU. It reports whether msg was a signaling event.
func (c *Client) handleSignaling(msg WSMessage) bool {
	switch msg.Event {
	case "webrtc_publisher_offer", "webrtc_subscribe", "webrtc_subscriber_answer", "webrtc_ice":
	default:
		return false
	}
	if c.sfu == nil {
		return true
	}
	var err error
	switch msg.Event {
	case "webrtc_publisher_offer":
		var payload struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		}
		if json.Unmarshal(msg.Data, &payload) == nil && payload.SDP != "" {
			sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: payload.SDP}
			err = c.sfu.HandlePublisherOffer(c.SessionID, c.ParticipantID, c.Role, sdp, c.sendToMe)
		}
	case "webrtc_subscribe":
		err = c.sfu.HandleSubscribe(c.SessionID, c.ID, c.sendToMe)
	case "webrtc_subscriber_answer":
		var payload struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		}
		if json.Unmarshal(msg.Data, &payload) == nil && payload.SDP != "" {
			sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}
			err = c.sfu.HandleSubscriberAnswer(c.SessionID, c.ID, sdp)
		}
	case "webrtc_ice":
		var payload struct {
			Target    string          `json:"target"`
			Candidate json.RawMessage `json:"candidate"`
		}
		if json.Unmarshal(msg.Data, &payload) == nil && len(payload.Candidate) > 0 {
			var cand webrtc.ICECandidateInit
			if json.Unmarshal(payload.Candidate, &cand) == nil {
				if payload.Target == "publisher" {
					err = c.sfu.HandlePublisherICE(c.SessionID, c.ParticipantID, cand)
				} else if payload.Target == "subscriber" {
					err = c.sfu.HandleSubscriberICE(c.SessionID, c.ID, cand)
				}
			}
		}
	}
	if err != nil {
		c.logger.Debug("webrtc signaling", zap.String("event", msg.Event), zap.Error(err))
	}
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
