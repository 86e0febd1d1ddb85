package api

import (
	"context"
	"errors"

	"github.com/archboard-io/archboard/internal/slogging"
)

// Action is a collaborative operation requiring authorization
type Action string

const (
	// ActionRead covers connecting and following live edits
	ActionRead Action = "read"
	// ActionMutate covers diagram mutations
	ActionMutate Action = "mutate"
	// ActionShare covers sharing operations
	ActionShare Action = "share"
)

// requiredPermission maps an action to the minimum permission level
func requiredPermission(action Action) Permission {
	switch action {
	case ActionMutate, ActionShare:
		return PermissionEdit
	default:
		return PermissionRead
	}
}

// PermissionGate answers whether a participant may perform an action on a
// diagram. Rule evaluation belongs to the store: owners always pass,
// collaborators pass per their stored level, everyone else is denied. The
// gate only maps actions to levels and passes the verdict through
type PermissionGate struct {
	store DiagramStore
}

// NewPermissionGate creates a gate backed by the given store
func NewPermissionGate(store DiagramStore) *PermissionGate {
	return &PermissionGate{store: store}
}

// Authorize returns the verdict and, on denial, a human-readable reason
// safe to surface to the client
func (g *PermissionGate) Authorize(ctx context.Context, userID, diagramID string, action Action) (bool, string) {
	// Owners have full access
	_, err := g.store.GetDiagram(ctx, userID, diagramID)
	if err == nil {
		return true, ""
	}
	if !errors.Is(err, ErrNotFound) {
		slogging.Get().Error("authorization lookup failed for user %s on diagram %s: %v",
			userID, diagramID, err)
		return false, "authorization check failed"
	}

	perm, err := g.store.CollaboratorPermission(ctx, diagramID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, "you do not have permission to access this diagram"
	}
	if err != nil {
		slogging.Get().Error("collaborator lookup failed for user %s on diagram %s: %v",
			userID, diagramID, err)
		return false, "authorization check failed"
	}

	if requiredPermission(action) == PermissionEdit && perm != PermissionEdit {
		return false, "you only have read permission for this diagram"
	}
	return true, ""
}
