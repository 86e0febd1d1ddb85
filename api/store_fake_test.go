package api

import (
	"context"
	"sync"
)

// recordedUpdate captures one UpdateDiagram call for assertions
type recordedUpdate struct {
	OwnerID   string
	DiagramID string
	Update    DiagramUpdate
}

// fakeDiagramStore is an in-memory DiagramStore for tests
type fakeDiagramStore struct {
	mu        sync.Mutex
	users     map[string]User
	diagrams  map[string]Diagram
	grants    map[string]map[string]Permission
	updates   []recordedUpdate
	updateErr error
}

func newFakeStore() *fakeDiagramStore {
	return &fakeDiagramStore{
		users:    make(map[string]User),
		diagrams: make(map[string]Diagram),
		grants:   make(map[string]map[string]Permission),
	}
}

func (s *fakeDiagramStore) addUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *fakeDiagramStore) addDiagram(d Diagram) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagrams[d.ID] = d
}

func (s *fakeDiagramStore) share(diagramID, userID string, perm Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[diagramID] == nil {
		s.grants[diagramID] = make(map[string]Permission)
	}
	s.grants[diagramID][userID] = perm
}

func (s *fakeDiagramStore) setUpdateErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

func (s *fakeDiagramStore) recordedUpdates() []recordedUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedUpdate, len(s.updates))
	copy(out, s.updates)
	return out
}

func (s *fakeDiagramStore) GetDiagram(_ context.Context, ownerID, diagramID string) (*Diagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.diagrams[diagramID]
	if !ok || d.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	out := d
	return &out, nil
}

func (s *fakeDiagramStore) GetSharedDiagrams(_ context.Context, userID string) ([]Diagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Diagram
	for diagramID, grants := range s.grants {
		if _, ok := grants[userID]; !ok {
			continue
		}
		if d, ok := s.diagrams[diagramID]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeDiagramStore) UpdateDiagram(_ context.Context, ownerID, diagramID string, update DiagramUpdate) (*Diagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	d, ok := s.diagrams[diagramID]
	if !ok || d.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if update.Title != nil {
		d.Title = *update.Title
	}
	if update.Description != nil {
		d.Description = *update.Description
	}
	if update.Nodes != nil {
		d.Nodes = []byte(update.Nodes)
	}
	if update.Edges != nil {
		d.Edges = []byte(update.Edges)
	}
	s.diagrams[diagramID] = d
	s.updates = append(s.updates, recordedUpdate{OwnerID: ownerID, DiagramID: diagramID, Update: update})
	out := d
	return &out, nil
}

func (s *fakeDiagramStore) GetUser(_ context.Context, userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := u
	return &out, nil
}

func (s *fakeDiagramStore) CollaboratorPermission(_ context.Context, diagramID, userID string) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.grants[diagramID][userID]
	if !ok {
		return "", ErrNotFound
	}
	return perm, nil
}
