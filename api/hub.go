package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/archboard-io/archboard/internal/slogging"
)

// WebSocketClient is one participant's connection to a diagram session.
// It is created and owned by the ConnectionManager; the hub only reads it
// and pushes into its Send channel
type WebSocketClient struct {
	Hub       *WebSocketHub
	Conn      *websocket.Conn
	DiagramID string
	User      Participant
	// Permission is the effective level resolved at connect time,
	// echoed in the welcome envelope
	Permission Permission
	// Send buffers outbound envelopes for the write pump
	Send chan []byte

	closeOnce sync.Once
}

// closeSend shuts the outbound channel exactly once. Safe to call from
// both the broadcast prune path and connection teardown
func (c *WebSocketClient) closeSend() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// DiagramSession is the set of live connections for one diagram
type DiagramSession struct {
	ID        string
	DiagramID string
	StartedAt time.Time

	mu      sync.Mutex
	clients map[*WebSocketClient]bool
}

func newDiagramSession(diagramID string) *DiagramSession {
	return &DiagramSession{
		ID:        uuid.New().String(),
		DiagramID: diagramID,
		StartedAt: time.Now().UTC(),
		clients:   make(map[*WebSocketClient]bool),
	}
}

// ClientCount returns the number of live connections in the session
func (s *DiagramSession) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Members returns the participants currently connected to the session
func (s *DiagramSession) Members() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]Participant, 0, len(s.clients))
	for client := range s.clients {
		members = append(members, client.User)
	}
	return members
}

// WebSocketHub is the session registry and broadcaster. Sessions are keyed
// by diagram ID; a session with zero connections is removed immediately,
// so an entry's presence implies at least one live connection
type WebSocketHub struct {
	mu       sync.RWMutex
	diagrams map[string]*DiagramSession
}

// NewWebSocketHub creates an empty hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		diagrams: make(map[string]*DiagramSession),
	}
}

// GetSession returns the live session for a diagram, or nil
func (h *WebSocketHub) GetSession(diagramID string) *DiagramSession {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.diagrams[diagramID]
}

// SessionCount returns the number of live sessions
func (h *WebSocketHub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.diagrams)
}

// Members returns the participants connected to a diagram, or nil when no
// session exists
func (h *WebSocketHub) Members(diagramID string) []Participant {
	session := h.GetSession(diagramID)
	if session == nil {
		return nil
	}
	return session.Members()
}

// Join registers a connection, creating the diagram's session on first use.
// The client is inserted while the registry lock is still held, so a
// concurrent last-leave cannot delete the session between lookup and insert
func (h *WebSocketHub) Join(diagramID string, client *WebSocketClient) *DiagramSession {
	h.mu.Lock()
	session, ok := h.diagrams[diagramID]
	if !ok {
		session = newDiagramSession(diagramID)
		h.diagrams[diagramID] = session
		metricActiveSessions.Inc()
	}
	session.mu.Lock()
	session.clients[client] = true
	session.mu.Unlock()
	h.mu.Unlock()

	metricActiveConnections.Inc()
	slogging.Get().Debug("client joined diagram %s (user %s, session %s)",
		diagramID, client.User.ID, session.ID)
	return session
}

// Leave removes a connection and deletes the session when it was the last
// one. Safe to call for connections the broadcaster already pruned
func (h *WebSocketHub) Leave(diagramID string, client *WebSocketClient) {
	h.mu.Lock()
	session, ok := h.diagrams[diagramID]
	if !ok {
		h.mu.Unlock()
		return
	}

	session.mu.Lock()
	_, present := session.clients[client]
	if present {
		delete(session.clients, client)
	}
	empty := len(session.clients) == 0
	session.mu.Unlock()

	if empty {
		delete(h.diagrams, diagramID)
		metricActiveSessions.Dec()
	}
	h.mu.Unlock()

	if present {
		metricActiveConnections.Dec()
		slogging.Get().Debug("client left diagram %s (user %s)", diagramID, client.User.ID)
	}
}

// Broadcast fans an envelope out to every connection in the diagram's
// session except those belonging to excludeUserID. Best effort: a
// connection that cannot accept the send is classified dead, pruned from
// the registry, and skipped for the rest of the broadcast. Its own
// teardown then runs the normal leave path
func (h *WebSocketHub) Broadcast(diagramID string, msg Message, excludeUserID string) {
	data, err := MarshalMessage(msg)
	if err != nil {
		slogging.Get().Error("failed to marshal %s broadcast for diagram %s: %v",
			msg.GetType(), diagramID, err)
		return
	}

	session := h.GetSession(diagramID)
	if session == nil {
		return
	}

	var dead []*WebSocketClient
	session.mu.Lock()
	for client := range session.clients {
		if excludeUserID != "" && client.User.ID == excludeUserID {
			continue
		}
		select {
		case client.Send <- data:
		default:
			dead = append(dead, client)
			delete(session.clients, client)
		}
	}
	session.mu.Unlock()

	metricBroadcasts.WithLabelValues(string(msg.GetType())).Inc()

	for _, client := range dead {
		client.closeSend()
		metricActiveConnections.Dec()
		metricDeadConnectionsPruned.Inc()
		slogging.Get().Info("pruned dead connection on diagram %s (user %s)",
			diagramID, client.User.ID)
	}
	if len(dead) > 0 {
		h.removeIfEmpty(diagramID, session)
	}
}

// removeIfEmpty deletes the registry entry when the session lost its last
// connection during a broadcast prune
func (h *WebSocketHub) removeIfEmpty(diagramID string, session *DiagramSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.diagrams[diagramID]; ok && current == session {
		if session.ClientCount() == 0 {
			delete(h.diagrams, diagramID)
			metricActiveSessions.Dec()
		}
	}
}
