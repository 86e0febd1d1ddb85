package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/archboard-io/archboard/internal/slogging"
)

const (
	// DefaultSaveDelay is the debounce interval before a mutation is
	// written through to storage
	DefaultSaveDelay = 5 * time.Second

	// saveTimeout bounds the storage round trip of one flush
	saveTimeout = 10 * time.Second
)

// pendingSave is the latest not-yet-committed mutation for one diagram
type pendingSave struct {
	timer       *time.Timer
	requesterID string
	update      DiagramUpdate
	scheduledAt time.Time
}

// DiagramSaver coalesces bursts of diagram mutations into a single delayed
// write per diagram. Scheduling replaces any pending write for the same
// diagram, so under arbitrarily rapid mutation exactly one write carrying
// the most recent payload reaches storage per quiescent period. Write
// failures are logged and never reach the client; the pending entry is
// cleared either way
type DiagramSaver struct {
	store     DiagramStore
	snapshots *SnapshotCache
	delay     time.Duration

	mu      sync.Mutex
	pending map[string]*pendingSave
}

// NewDiagramSaver creates a saver writing through the given store.
// snapshots may be nil; delay falls back to DefaultSaveDelay when
// non-positive
func NewDiagramSaver(store DiagramStore, snapshots *SnapshotCache, delay time.Duration) *DiagramSaver {
	if delay <= 0 {
		delay = DefaultSaveDelay
	}
	return &DiagramSaver{
		store:     store,
		snapshots: snapshots,
		delay:     delay,
		pending:   make(map[string]*pendingSave),
	}
}

// Schedule queues a delayed write of update for the diagram, cancelling
// and replacing any write already pending for it. Fire and forget: the
// caller never blocks on the eventual write
func (s *DiagramSaver) Schedule(diagramID, requesterID string, update DiagramUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pending[diagramID]; ok {
		prev.timer.Stop()
	}

	p := &pendingSave{
		requesterID: requesterID,
		update:      update,
		scheduledAt: time.Now().UTC(),
	}
	p.timer = time.AfterFunc(s.delay, func() {
		s.flush(diagramID, p)
	})
	s.pending[diagramID] = p
}

// HasPending reports whether a delayed write is queued for the diagram
func (s *DiagramSaver) HasPending(diagramID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[diagramID]
	return ok
}

// Stop cancels every pending write without flushing. Used on shutdown
func (s *DiagramSaver) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for diagramID, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, diagramID)
	}
}

// flush performs the delayed write for one diagram. A timer that fired
// after being superseded finds a different pending entry and backs off
func (s *DiagramSaver) flush(diagramID string, p *pendingSave) {
	s.mu.Lock()
	if s.pending[diagramID] != p {
		s.mu.Unlock()
		return
	}
	delete(s.pending, diagramID)
	s.mu.Unlock()

	logger := slogging.Get()
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	ownerID, err := s.resolveOwner(ctx, diagramID, p.requesterID)
	if err != nil {
		metricDebouncedSaves.WithLabelValues("failed").Inc()
		logger.Error("debounced save skipped for diagram %s: %v", diagramID, err)
		return
	}

	if _, err := s.store.UpdateDiagram(ctx, ownerID, diagramID, p.update); err != nil {
		metricDebouncedSaves.WithLabelValues("failed").Inc()
		logger.Error("debounced save failed for diagram %s: %v", diagramID, err)
		return
	}

	if s.snapshots != nil {
		s.snapshots.Invalidate(ctx, diagramID)
	}
	metricDebouncedSaves.WithLabelValues("ok").Inc()
	logger.Debug("debounced save committed for diagram %s (scheduled %s ago)",
		diagramID, time.Since(p.scheduledAt).Round(time.Millisecond))
}

// resolveOwner finds the diagram's true owner: the requester when they own
// it, otherwise through the requester's shared-diagram grants
func (s *DiagramSaver) resolveOwner(ctx context.Context, diagramID, requesterID string) (string, error) {
	d, err := s.store.GetDiagram(ctx, requesterID, diagramID)
	if err == nil {
		return d.OwnerID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("owner lookup failed: %w", err)
	}

	shared, err := s.store.GetSharedDiagrams(ctx, requesterID)
	if err != nil {
		return "", fmt.Errorf("shared diagram lookup failed: %w", err)
	}
	for _, d := range shared {
		if d.ID == diagramID {
			return d.OwnerID, nil
		}
	}
	return "", fmt.Errorf("diagram %s not found for participant %s", diagramID, requesterID)
}
