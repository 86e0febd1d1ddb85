package api

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringPtr(s string) *string { return &s }

func TestDiagramSaver(t *testing.T) {
	const delay = 30 * time.Millisecond

	t.Run("WritesAfterDelay", func(t *testing.T) {
		store := newFakeStore()
		store.addDiagram(Diagram{ID: "d1", OwnerID: "owner"})
		saver := NewDiagramSaver(store, nil, delay)
		defer saver.Stop()

		saver.Schedule("d1", "owner", DiagramUpdate{Title: stringPtr("v1")})
		require.True(t, saver.HasPending("d1"))
		assert.Empty(t, store.recordedUpdates())

		require.Eventually(t, func() bool {
			return len(store.recordedUpdates()) == 1
		}, time.Second, 5*time.Millisecond)

		assert.False(t, saver.HasPending("d1"))
		got := store.recordedUpdates()[0]
		assert.Equal(t, "owner", got.OwnerID)
		assert.Equal(t, "d1", got.DiagramID)
		assert.Equal(t, "v1", *got.Update.Title)
	})

	t.Run("BurstCoalescesToLastPayload", func(t *testing.T) {
		store := newFakeStore()
		store.addDiagram(Diagram{ID: "d1", OwnerID: "owner"})
		saver := NewDiagramSaver(store, nil, delay)
		defer saver.Stop()

		for i := 0; i < 10; i++ {
			saver.Schedule("d1", "owner", DiagramUpdate{Title: stringPtr(string(rune('a' + i)))})
		}
		saver.Schedule("d1", "owner", DiagramUpdate{Title: stringPtr("final")})

		require.Eventually(t, func() bool {
			return len(store.recordedUpdates()) > 0
		}, time.Second, 5*time.Millisecond)

		// let any stray timers fire
		time.Sleep(2 * delay)

		updates := store.recordedUpdates()
		require.Len(t, updates, 1)
		assert.Equal(t, "final", *updates[0].Update.Title)
	})

	t.Run("ReschedulingExtendsQuietPeriod", func(t *testing.T) {
		store := newFakeStore()
		store.addDiagram(Diagram{ID: "d1", OwnerID: "owner"})
		saver := NewDiagramSaver(store, nil, delay)
		defer saver.Stop()

		saver.Schedule("d1", "owner", DiagramUpdate{Title: stringPtr("v1")})
		time.Sleep(delay / 2)
		saver.Schedule("d1", "owner", DiagramUpdate{Title: stringPtr("v2")})
		time.Sleep(delay / 2)

		// the original deadline has passed but the write was pushed back
		assert.Empty(t, store.recordedUpdates())

		require.Eventually(t, func() bool {
			return len(store.recordedUpdates()) == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, "v2", *store.recordedUpdates()[0].Update.Title)
	})

	t.Run("DiagramsAreIndependent", func(t *testing.T) {
		store := newFakeStore()
		store.addDiagram(Diagram{ID: "d1", OwnerID: "owner"})
		store.addDiagram(Diagram{ID: "d2", OwnerID: "owner"})
		saver := NewDiagramSaver(store, nil, delay)
		defer saver.Stop()

		saver.Schedule("d1", "owner", DiagramUpdate{Title: stringPtr("one")})
		saver.Schedule("d2", "owner", DiagramUpdate{Title: stringPtr("two")})

		require.Eventually(t, func() bool {
			return len(store.recordedUpdates()) == 2
		}, time.Second, 5*time.Millisecond)

		seen := map[string]string{}
		for _, u := range store.recordedUpdates() {
			seen[u.DiagramID] = *u.Update.Title
		}
		assert.Equal(t, map[string]string{"d1": "one", "d2": "two"}, seen)
	})

	t.Run("OwnerResolvedThroughSharedGrant", func(t *testing.T) {
		store := newFakeStore()
		store.addDiagram(Diagram{ID: "d1", OwnerID: "owner"})
		store.share("d1", "editor", PermissionEdit)
		saver := NewDiagramSaver(store, nil, delay)
		defer saver.Stop()

		saver.Schedule("d1", "editor", DiagramUpdate{Title: stringPtr("by-editor")})

		require.Eventually(t, func() bool {
			return len(store.recordedUpdates()) == 1
		}, time.Second, 5*time.Millisecond)

		// the write lands against the owner's row, not the editor's
		assert.Equal(t, "owner", store.recordedUpdates()[0].OwnerID)
	})

	t.Run("FailureClearsPendingAndStaysSilent", func(t *testing.T) {
		store := newFakeStore()
		store.addDiagram(Diagram{ID: "d1", OwnerID: "owner"})
		store.setUpdateErr(errors.New("connection reset"))
		saver := NewDiagramSaver(store, nil, delay)
		defer saver.Stop()

		saver.Schedule("d1", "owner", DiagramUpdate{Title: stringPtr("doomed")})

		require.Eventually(t, func() bool {
			return !saver.HasPending("d1")
		}, time.Second, 5*time.Millisecond)

		// recovery: the next schedule goes through normally
		store.setUpdateErr(nil)
		saver.Schedule("d1", "owner", DiagramUpdate{Title: stringPtr("recovered")})
		require.Eventually(t, func() bool {
			return len(store.recordedUpdates()) == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, "recovered", *store.recordedUpdates()[0].Update.Title)
	})

	t.Run("StopCancelsPendingWrites", func(t *testing.T) {
		store := newFakeStore()
		store.addDiagram(Diagram{ID: "d1", OwnerID: "owner"})
		saver := NewDiagramSaver(store, nil, delay)

		saver.Schedule("d1", "owner", DiagramUpdate{Title: stringPtr("dropped")})
		saver.Stop()

		time.Sleep(3 * delay)
		assert.Empty(t, store.recordedUpdates())
		assert.False(t, saver.HasPending("d1"))
	})

	t.Run("NonPositiveDelayFallsBack", func(t *testing.T) {
		saver := NewDiagramSaver(newFakeStore(), nil, 0)
		assert.Equal(t, DefaultSaveDelay, saver.delay)
	})
}
