package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/archboard-io/archboard/internal/slogging"
)

// Error is the JSON error body for REST endpoints
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CollaborationSessionInfo describes one live session for REST consumers
type CollaborationSessionInfo struct {
	SessionID string        `json:"session_id"`
	DiagramID string        `json:"diagram_id"`
	StartedAt time.Time     `json:"started_at"`
	Members   []Participant `json:"members"`
}

// bearerToken extracts the token from an Authorization header
func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	return parts[1], nil
}

// GetDiagramCollaborators serves GET /api/diagrams/:id/collaborators,
// returning the live session membership for a diagram the caller can read
func (m *ConnectionManager) GetDiagramCollaborators(c *gin.Context) {
	diagramID := c.Param("id")
	logger := slogging.GetContextLogger(c)

	tokenStr, err := bearerToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, Error{Error: "unauthorized", Message: err.Error()})
		return
	}

	claims, err := m.auth.DecodeToken(tokenStr)
	if err != nil {
		logger.Warn("collaborator listing auth failed for diagram %s: %v", diagramID, err)
		c.JSON(http.StatusUnauthorized, Error{Error: "unauthorized", Message: "invalid or expired token"})
		return
	}

	if allowed, reason := m.gate.Authorize(c.Request.Context(), claims.UserID, diagramID, ActionRead); !allowed {
		c.JSON(http.StatusForbidden, Error{Error: "forbidden", Message: reason})
		return
	}

	session := m.hub.GetSession(diagramID)
	if session == nil {
		c.JSON(http.StatusOK, CollaborationSessionInfo{
			DiagramID: diagramID,
			Members:   []Participant{},
		})
		return
	}

	c.JSON(http.StatusOK, CollaborationSessionInfo{
		SessionID: session.ID,
		DiagramID: diagramID,
		StartedAt: session.StartedAt,
		Members:   session.Members(),
	})
}
