package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
)

// ErrNotFound is returned by store lookups when no matching row exists
var ErrNotFound = errors.New("not found")

// Permission is a collaborator's access level on a diagram
type Permission string

const (
	// PermissionRead allows viewing a diagram and following live edits
	PermissionRead Permission = "read"
	// PermissionEdit allows mutating a diagram and sharing it
	PermissionEdit Permission = "edit"
)

// User is a registered account
type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:256" json:"name"`
	Email     string    `gorm:"uniqueIndex;size:320" json:"email"`
	Picture   string    `gorm:"size:512" json:"picture,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Diagram is the stored document participants collaborate on
type Diagram struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	OwnerID     string         `gorm:"index;size:64" json:"owner_id"`
	Title       string         `gorm:"size:512" json:"title"`
	Description string         `json:"description,omitempty"`
	Nodes       datatypes.JSON `json:"nodes,omitempty"`
	Edges       datatypes.JSON `json:"edges,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Collaborator grants a user access to another user's diagram
type Collaborator struct {
	DiagramID  string     `gorm:"primaryKey;size:64" json:"diagram_id"`
	UserID     string     `gorm:"primaryKey;size:64" json:"user_id"`
	Permission Permission `gorm:"size:16" json:"permission"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DiagramUpdate carries the fields of a partial diagram write. Nil fields
// are left untouched
type DiagramUpdate struct {
	Title       *string
	Description *string
	Nodes       json.RawMessage
	Edges       json.RawMessage
}

// IsEmpty reports whether the update would change nothing
func (u DiagramUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Nodes == nil && u.Edges == nil
}

// DiagramStore is the storage collaborator for diagrams, sharing grants,
// and user lookups. Lookups scoped by owner return ErrNotFound both for
// missing rows and for rows owned by someone else
type DiagramStore interface {
	// GetDiagram returns the diagram only when ownerID owns it
	GetDiagram(ctx context.Context, ownerID, diagramID string) (*Diagram, error)
	// GetSharedDiagrams returns all diagrams shared with the user
	GetSharedDiagrams(ctx context.Context, userID string) ([]Diagram, error)
	// UpdateDiagram applies a partial update to an owned diagram
	UpdateDiagram(ctx context.Context, ownerID, diagramID string, update DiagramUpdate) (*Diagram, error)
	// GetUser returns a user's profile
	GetUser(ctx context.Context, userID string) (*User, error)
	// CollaboratorPermission returns the user's grant on the diagram,
	// or ErrNotFound when no grant exists
	CollaboratorPermission(ctx context.Context, diagramID, userID string) (Permission, error)
}
