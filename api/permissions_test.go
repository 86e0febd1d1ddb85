package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissionGate(t *testing.T) {
	store := newFakeStore()
	store.addDiagram(Diagram{ID: "d1", OwnerID: "owner"})
	store.share("d1", "editor", PermissionEdit)
	store.share("d1", "reader", PermissionRead)
	gate := NewPermissionGate(store)
	ctx := context.Background()

	t.Run("OwnerHasFullAccess", func(t *testing.T) {
		for _, action := range []Action{ActionRead, ActionMutate, ActionShare} {
			ok, reason := gate.Authorize(ctx, "owner", "d1", action)
			assert.True(t, ok, "action %s", action)
			assert.Empty(t, reason)
		}
	})

	t.Run("EditorMayReadAndMutate", func(t *testing.T) {
		ok, _ := gate.Authorize(ctx, "editor", "d1", ActionRead)
		assert.True(t, ok)
		ok, _ = gate.Authorize(ctx, "editor", "d1", ActionMutate)
		assert.True(t, ok)
		ok, _ = gate.Authorize(ctx, "editor", "d1", ActionShare)
		assert.True(t, ok)
	})

	t.Run("ReaderMayOnlyRead", func(t *testing.T) {
		ok, _ := gate.Authorize(ctx, "reader", "d1", ActionRead)
		assert.True(t, ok)

		ok, reason := gate.Authorize(ctx, "reader", "d1", ActionMutate)
		assert.False(t, ok)
		assert.Equal(t, "you only have read permission for this diagram", reason)

		ok, _ = gate.Authorize(ctx, "reader", "d1", ActionShare)
		assert.False(t, ok)
	})

	t.Run("StrangerDenied", func(t *testing.T) {
		ok, reason := gate.Authorize(ctx, "stranger", "d1", ActionRead)
		assert.False(t, ok)
		assert.Equal(t, "you do not have permission to access this diagram", reason)
	})

	t.Run("UnknownDiagramDenied", func(t *testing.T) {
		ok, _ := gate.Authorize(ctx, "owner", "missing", ActionRead)
		assert.False(t, ok)
	})

	t.Run("OwnershipIsPerDiagram", func(t *testing.T) {
		store.addDiagram(Diagram{ID: "d2", OwnerID: "someone-else"})

		ok, _ := gate.Authorize(ctx, "owner", "d2", ActionRead)
		assert.False(t, ok)
	})
}
