package api

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDiagramStore implements DiagramStore on a gorm database handle
type GormDiagramStore struct {
	db *gorm.DB
}

// NewGormDiagramStore wraps an open gorm handle
func NewGormDiagramStore(db *gorm.DB) *GormDiagramStore {
	return &GormDiagramStore{db: db}
}

// OpenPostgres opens a PostgreSQL-backed gorm handle and migrates the schema
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.AutoMigrate(&User{}, &Diagram{}, &Collaborator{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, nil
}

// GetDiagram returns the diagram only when ownerID owns it
func (s *GormDiagramStore) GetDiagram(ctx context.Context, ownerID, diagramID string) (*Diagram, error) {
	var d Diagram
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", diagramID, ownerID).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load diagram %s: %w", diagramID, err)
	}
	return &d, nil
}

// GetSharedDiagrams returns all diagrams shared with the user
func (s *GormDiagramStore) GetSharedDiagrams(ctx context.Context, userID string) ([]Diagram, error) {
	var diagrams []Diagram
	err := s.db.WithContext(ctx).
		Joins("JOIN collaborators ON collaborators.diagram_id = diagrams.id").
		Where("collaborators.user_id = ?", userID).
		Find(&diagrams).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load shared diagrams for %s: %w", userID, err)
	}
	return diagrams, nil
}

// UpdateDiagram applies a partial update to an owned diagram and returns
// the stored row
func (s *GormDiagramStore) UpdateDiagram(ctx context.Context, ownerID, diagramID string, update DiagramUpdate) (*Diagram, error) {
	values := map[string]any{}
	if update.Title != nil {
		values["title"] = *update.Title
	}
	if update.Description != nil {
		values["description"] = *update.Description
	}
	if update.Nodes != nil {
		values["nodes"] = []byte(update.Nodes)
	}
	if update.Edges != nil {
		values["edges"] = []byte(update.Edges)
	}
	if len(values) > 0 {
		res := s.db.WithContext(ctx).
			Model(&Diagram{}).
			Where("id = ? AND owner_id = ?", diagramID, ownerID).
			Updates(values)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update diagram %s: %w", diagramID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	return s.GetDiagram(ctx, ownerID, diagramID)
}

// GetUser returns a user's profile
func (s *GormDiagramStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return &u, nil
}

// CollaboratorPermission returns the user's grant on the diagram
func (s *GormDiagramStore) CollaboratorPermission(ctx context.Context, diagramID, userID string) (Permission, error) {
	var c Collaborator
	err := s.db.WithContext(ctx).
		Where("diagram_id = ? AND user_id = ?", diagramID, userID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load collaborator grant: %w", err)
	}
	return c.Permission, nil
}
