package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/archboard-io/archboard/auth"
	"github.com/archboard-io/archboard/internal/slogging"
)

const (
	// maxMessageSize caps inbound frames
	maxMessageSize = 64 * 1024

	// pongWait is how long a connection may stay silent before the read
	// deadline expires; pingPeriod keeps it refreshed
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// writeWait bounds a single outbound frame write
	writeWait = 10 * time.Second

	// maxErrorDetail truncates diagnostic strings sent to clients
	maxErrorDetail = 256

	defaultSendBufferSize = 256
)

// Upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development; restrict in production
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ConnectionManager orchestrates the websocket lifecycle for collaborative
// editing: authenticate, authorize, register, drive the message loop, and
// tear down
type ConnectionManager struct {
	hub        *WebSocketHub
	auth       *auth.Service
	store      DiagramStore
	gate       *PermissionGate
	limiter    *MessageRateLimiter
	saver      *DiagramSaver
	snapshots  *SnapshotCache
	sendBuffer int
}

// ConnectionManagerConfig wires the manager's collaborators
type ConnectionManagerConfig struct {
	Hub            *WebSocketHub
	Auth           *auth.Service
	Store          DiagramStore
	Gate           *PermissionGate
	Limiter        *MessageRateLimiter
	Saver          *DiagramSaver
	Snapshots      *SnapshotCache
	SendBufferSize int
}

// NewConnectionManager creates a manager from its collaborators
func NewConnectionManager(cfg ConnectionManagerConfig) *ConnectionManager {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewMessageRateLimiter(nil)
	}
	return &ConnectionManager{
		hub:        cfg.Hub,
		auth:       cfg.Auth,
		store:      cfg.Store,
		gate:       cfg.Gate,
		limiter:    cfg.Limiter,
		saver:      cfg.Saver,
		snapshots:  cfg.Snapshots,
		sendBuffer: cfg.SendBufferSize,
	}
}

// HandleWS serves GET /ws/diagrams/:id?token=... It upgrades the
// connection, authenticates the token, confirms read access, registers the
// client, announces presence, delivers the welcome envelope, and then runs
// the receive loop until the transport closes
func (m *ConnectionManager) HandleWS(c *gin.Context) {
	diagramID := c.Param("id")
	logger := slogging.GetContextLogger(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("websocket upgrade failed for diagram %s: %v", diagramID, err)
		return
	}

	ctx := c.Request.Context()

	// Authenticating
	claims, err := m.auth.DecodeToken(c.Query("token"))
	if err != nil {
		logger.Warn("websocket auth failed for diagram %s: %v", diagramID, err)
		m.rejectConnection(conn, ErrorCodeInvalidToken, "invalid or expired token")
		return
	}

	participant := m.resolveParticipant(ctx, claims)

	// Authorized: read access is the floor for connecting at all
	if allowed, reason := m.gate.Authorize(ctx, participant.ID, diagramID, ActionRead); !allowed {
		logger.Warn("websocket read access denied for user %s on diagram %s", participant.ID, diagramID)
		m.rejectConnection(conn, ErrorCodePermissionDenied, reason)
		return
	}

	client := &WebSocketClient{
		Hub:        m.hub,
		Conn:       conn,
		DiagramID:  diagramID,
		User:       participant,
		Permission: m.effectivePermission(ctx, participant.ID, diagramID),
		Send:       make(chan []byte, m.sendBuffer),
	}

	// Active
	m.hub.Join(diagramID, client)

	m.hub.Broadcast(diagramID, PresenceMessage{
		Type:      MessageTypeUserJoined,
		User:      participant,
		Timestamp: time.Now().UTC(),
	}, participant.ID)

	m.sendWelcome(ctx, client)

	go client.writePump()
	m.readLoop(ctx, client)
}

// resolveParticipant builds the identity attached to the connection,
// preferring the stored profile over token claims when available
func (m *ConnectionManager) resolveParticipant(ctx context.Context, claims *auth.Claims) Participant {
	participant := Participant{
		ID:      claims.UserID,
		Name:    claims.Name,
		Email:   claims.Email,
		Picture: claims.Picture,
	}
	if u, err := m.store.GetUser(ctx, claims.UserID); err == nil {
		if u.Name != "" {
			participant.Name = u.Name
		}
		if u.Email != "" {
			participant.Email = u.Email
		}
		if u.Picture != "" {
			participant.Picture = u.Picture
		}
	}
	if participant.Name == "" {
		participant.Name = participant.Email
	}
	if participant.Name == "" {
		participant.Name = participant.ID
	}
	return participant
}

// effectivePermission reports the level echoed in the welcome envelope
func (m *ConnectionManager) effectivePermission(ctx context.Context, userID, diagramID string) Permission {
	if allowed, _ := m.gate.Authorize(ctx, userID, diagramID, ActionMutate); allowed {
		return PermissionEdit
	}
	return PermissionRead
}

// rejectConnection sends a final error envelope and closes the transport
// with a policy-violation status. Used before any session state exists
func (m *ConnectionManager) rejectConnection(conn *websocket.Conn, code, message string) {
	logger := slogging.Get()

	envelope := ErrorMessage{
		Type:      MessageTypeError,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if data, err := MarshalMessage(envelope); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("failed to send rejection envelope: %v", err)
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code)
	if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil {
		logger.Debug("failed to send close message: %v", err)
	}
	if err := conn.Close(); err != nil {
		logger.Debug("failed to close connection: %v", err)
	}
}

// sendWelcome delivers the welcome envelope to a newly registered client
func (m *ConnectionManager) sendWelcome(ctx context.Context, client *WebSocketClient) {
	now := time.Now().UTC()

	welcome := WelcomeMessage{
		Type:       MessageTypeWelcome,
		Message:    fmt.Sprintf("Connected to diagram %s", client.DiagramID),
		User:       client.User,
		Permission: client.Permission,
		Members:    m.hub.Members(client.DiagramID),
		RateLimits: m.limiter.Limits(),
		Timestamp:  now,
	}

	if d := m.lookupDiagram(ctx, client.User.ID, client.DiagramID); d != nil {
		welcome.Diagram = d
		welcome.Owner = m.lookupOwner(ctx, d.OwnerID)
	}

	m.sendToClient(client, welcome)
}

// lookupDiagram fetches the diagram visible to the user, serving from the
// snapshot cache when possible
func (m *ConnectionManager) lookupDiagram(ctx context.Context, userID, diagramID string) *Diagram {
	if d, ok := m.snapshots.Get(ctx, diagramID); ok {
		return d
	}

	d, err := m.store.GetDiagram(ctx, userID, diagramID)
	if errors.Is(err, ErrNotFound) {
		shared, serr := m.store.GetSharedDiagrams(ctx, userID)
		if serr != nil {
			slogging.Get().Error("shared diagram lookup failed for user %s: %v", userID, serr)
			return nil
		}
		for i := range shared {
			if shared[i].ID == diagramID {
				d, err = &shared[i], nil
				break
			}
		}
	}
	if err != nil || d == nil {
		if err != nil && !errors.Is(err, ErrNotFound) {
			slogging.Get().Error("diagram lookup failed for %s: %v", diagramID, err)
		}
		return nil
	}

	m.snapshots.Put(ctx, d)
	return d
}

func (m *ConnectionManager) lookupOwner(ctx context.Context, ownerID string) *Participant {
	if u, err := m.store.GetUser(ctx, ownerID); err == nil {
		return &Participant{ID: u.ID, Name: u.Name, Email: u.Email, Picture: u.Picture}
	}
	return &Participant{ID: ownerID}
}

// readLoop drives the Active state: one inbound frame at a time through
// parse, rate limiting, and dispatch. It returns when the transport
// closes or errors, then runs teardown
func (m *ConnectionManager) readLoop(ctx context.Context, client *WebSocketClient) {
	defer m.teardown(client)

	client.Conn.SetReadLimit(maxMessageSize)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slogging.Get().Debug("websocket read error for user %s on diagram %s: %v",
					client.User.ID, client.DiagramID, err)
			}
			return
		}
		m.dispatch(ctx, client, data)
	}
}

// teardown runs the Disconnecting state: deregister, announce departure,
// release resources. Also reached for connections the broadcaster pruned
func (m *ConnectionManager) teardown(client *WebSocketClient) {
	m.hub.Leave(client.DiagramID, client)
	client.closeSend()
	_ = client.Conn.Close()

	m.hub.Broadcast(client.DiagramID, PresenceMessage{
		Type:      MessageTypeUserLeft,
		User:      client.User,
		Timestamp: time.Now().UTC(),
	}, client.User.ID)
}

// dispatch routes one inbound frame: parse and validate, admit through the
// rate limiter, then act per message kind. Unrecognized types still consume
// the limiter's fallback budget before they are rejected, so a flood of
// them is throttled like any other traffic. Every failure keeps the
// connection in the message loop
func (m *ConnectionManager) dispatch(ctx context.Context, client *WebSocketClient, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		var unknown *UnknownMessageTypeError
		if errors.As(err, &unknown) {
			metricMessagesReceived.WithLabelValues(string(unknown.Type)).Inc()
			if !m.limiter.Allow(client.User.ID, unknown.Type, time.Now()) {
				metricRateLimitRejections.WithLabelValues(string(unknown.Type)).Inc()
				m.sendError(client, ErrorCodeRateLimitExceeded,
					fmt.Sprintf("rate limit exceeded for %s messages", unknown.Type))
				return
			}
			m.sendError(client, ErrorCodeUnknownMessageType, unknown.Error())
			return
		}
		m.sendError(client, ErrorCodeInvalidMessageFormat, truncate(err.Error(), maxErrorDetail))
		return
	}

	msgType := msg.GetType()
	metricMessagesReceived.WithLabelValues(string(msgType)).Inc()

	if !m.limiter.Allow(client.User.ID, msgType, time.Now()) {
		metricRateLimitRejections.WithLabelValues(string(msgType)).Inc()
		// Cursor traffic is dropped silently so smooth interaction does
		// not produce client-visible noise
		if msgType == MessageTypeCursorMove {
			return
		}
		m.sendError(client, ErrorCodeRateLimitExceeded,
			fmt.Sprintf("rate limit exceeded for %s messages", msgType))
		return
	}

	switch msg := msg.(type) {
	case CursorMoveMessage:
		m.handleCursorMove(client, msg)
	case DiagramUpdateMessage:
		m.handleDiagramUpdate(ctx, client, msg)
	case PingMessage:
		m.sendToClient(client, PongMessage{
			Type:      MessageTypePong,
			Timestamp: time.Now().UTC(),
		})
	case PongMessage:
		// Application-level pong from the client; nothing to do
	default:
		m.sendError(client, ErrorCodeUnknownMessageType,
			fmt.Sprintf("unknown message type: %q", msgType))
	}
}

func (m *ConnectionManager) handleCursorMove(client *WebSocketClient, msg CursorMoveMessage) {
	out := msg
	out.User = &client.User
	if out.Timestamp == nil {
		now := time.Now().UTC()
		out.Timestamp = &now
	}
	m.hub.Broadcast(client.DiagramID, out, client.User.ID)
}

func (m *ConnectionManager) handleDiagramUpdate(ctx context.Context, client *WebSocketClient, msg DiagramUpdateMessage) {
	allowed, reason := m.gate.Authorize(ctx, client.User.ID, client.DiagramID, ActionMutate)
	if !allowed {
		m.sendError(client, ErrorCodePermissionDenied, reason)
		return
	}

	now := time.Now().UTC()
	out := msg
	out.User = &client.User
	out.Timestamp = &now
	m.hub.Broadcast(client.DiagramID, out, client.User.ID)

	m.saver.Schedule(client.DiagramID, client.User.ID, updateFromPayload(msg.Data))
}

// updateFromPayload extracts the persistable fields from an opaque
// diagram_update payload
func updateFromPayload(data map[string]any) DiagramUpdate {
	var update DiagramUpdate
	if v, ok := data["title"].(string); ok {
		update.Title = &v
	}
	if v, ok := data["description"].(string); ok {
		update.Description = &v
	}
	if v, ok := data["nodes"]; ok {
		if raw, err := json.Marshal(v); err == nil {
			update.Nodes = raw
		}
	}
	if v, ok := data["edges"]; ok {
		if raw, err := json.Marshal(v); err == nil {
			update.Edges = raw
		}
	}
	return update
}

// sendError delivers a structured error envelope to one client
func (m *ConnectionManager) sendError(client *WebSocketClient, code, message string) {
	m.sendToClient(client, ErrorMessage{
		Type:      MessageTypeError,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// sendToClient enqueues an envelope for one client's write pump. A full
// buffer drops the envelope; dead consumers are evicted on broadcast, not
// blocked on
func (m *ConnectionManager) sendToClient(client *WebSocketClient, msg Message) {
	data, err := MarshalMessage(msg)
	if err != nil {
		slogging.Get().Error("failed to marshal %s envelope for user %s: %v",
			msg.GetType(), client.User.ID, err)
		return
	}
	select {
	case client.Send <- data:
	default:
		slogging.Get().Warn("dropping %s envelope for user %s: send buffer full",
			msg.GetType(), client.User.ID)
	}
}

// writePump pumps buffered envelopes to the websocket and keeps the
// connection alive with periodic pings. One envelope per frame
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
