package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spolu/ingestd/internal/hierarchy"
	"github.com/spolu/ingestd/internal/provider"
)

func strptr(s string) *string { return &s }

func newConnector(t *testing.T, s Store, id string) {
	t.Helper()
	err := s.CreateConnector(context.Background(), &ConnectorInstance{
		ID:       id,
		Provider: provider.KindConfluence,
		Connection: provider.ConnectionRef{
			ConnectionID: "conn-1",
			WorkspaceID:  "ws-1",
		},
	})
	require.NoError(t, err)
}

func TestConnectorLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	newConnector(t, s, "cx1")

	t.Run("created running", func(t *testing.T) {
		c, err := s.GetConnector(ctx, "cx1")
		require.NoError(t, err)
		require.Equal(t, ConnectorStatusRunning, c.Status)
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		err := s.CreateConnector(ctx, &ConnectorInstance{ID: "cx1"})
		require.Error(t, err)
	})

	t.Run("sync start and success", func(t *testing.T) {
		require.NoError(t, s.MarkSyncStarted(ctx, "cx1"))
		c, _ := s.GetConnector(ctx, "cx1")
		require.Equal(t, SyncStatusRunning, c.SyncStatus)
		require.NotNil(t, c.LastSyncStart)

		require.NoError(t, s.MarkSyncSucceeded(ctx, "cx1"))
		c, _ = s.GetConnector(ctx, "cx1")
		require.Equal(t, SyncStatusSucceeded, c.SyncStatus)
		require.NotNil(t, c.LastSyncFinish)
	})

	t.Run("needs_reauth pauses the connector", func(t *testing.T) {
		require.NoError(t, s.MarkSyncFailed(ctx, "cx1", SyncStatusNeedsReauth, "token expired"))
		c, _ := s.GetConnector(ctx, "cx1")
		require.Equal(t, SyncStatusNeedsReauth, c.SyncStatus)
		require.Equal(t, ConnectorStatusPaused, c.Status)
		require.Equal(t, "token expired", c.LastError)
	})

	t.Run("plain failure marks error status", func(t *testing.T) {
		require.NoError(t, s.MarkSyncFailed(ctx, "cx1", SyncStatusFailed, "boom"))
		c, _ := s.GetConnector(ctx, "cx1")
		require.Equal(t, ConnectorStatusError, c.Status)
	})

	t.Run("unknown connector", func(t *testing.T) {
		_, err := s.GetConnector(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, s.MarkSyncStarted(ctx, "missing"), ErrNotFound)
	})
}

func TestCursors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	newConnector(t, s, "cx1")

	t.Run("missing cursor means start", func(t *testing.T) {
		state, err := s.GetCursor(ctx, "cx1", "space-a")
		require.NoError(t, err)
		require.Nil(t, state.Cursor)
		require.False(t, state.CursorExhausted())
	})

	t.Run("cursor advances and accumulates items", func(t *testing.T) {
		require.NoError(t, s.SetCursor(ctx, "cx1", "space-a", strptr("p1"), 2))
		require.NoError(t, s.SetCursor(ctx, "cx1", "space-a", strptr("p2"), 1))

		state, err := s.GetCursor(ctx, "cx1", "space-a")
		require.NoError(t, err)
		require.Equal(t, "p2", *state.Cursor)
		require.Equal(t, int64(3), state.ItemsSynced)
	})

	t.Run("empty cursor marks exhaustion", func(t *testing.T) {
		require.NoError(t, s.SetCursor(ctx, "cx1", "space-a", strptr(""), 0))
		state, _ := s.GetCursor(ctx, "cx1", "space-a")
		require.True(t, state.CursorExhausted())
	})

	t.Run("reset returns cursors to start", func(t *testing.T) {
		require.NoError(t, s.ResetCursors(ctx, "cx1"))
		state, _ := s.GetCursor(ctx, "cx1", "space-a")
		require.Nil(t, state.Cursor)
		require.Equal(t, int64(0), state.ItemsSynced)
	})
}

func TestNodes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	newConnector(t, s, "cx1")

	folder := &ContentNode{
		ConnectorID:      "cx1",
		InternalID:       "cx1-folder-a",
		ParentInternalID: hierarchy.RootID("cx1"),
		Kind:             hierarchy.KindFolder,
		Permission:       hierarchy.PermissionRead,
		Title:            "Space A",
		LastSeenPassID:   "pass-1",
	}
	file := &ContentNode{
		ConnectorID:      "cx1",
		InternalID:       "cx1-file-b",
		ParentInternalID: "cx1-folder-a",
		Kind:             hierarchy.KindFile,
		Permission:       hierarchy.PermissionRead,
		Title:            "Page B",
		LastSeenPassID:   "pass-1",
	}
	require.NoError(t, s.UpsertNode(ctx, folder))
	require.NoError(t, s.UpsertNode(ctx, file))

	t.Run("upsert is idempotent by internal id", func(t *testing.T) {
		require.NoError(t, s.UpsertNode(ctx, file))
		nodes, err := s.ListNodes(ctx, "cx1")
		require.NoError(t, err)
		require.Len(t, nodes, 2)
	})

	t.Run("parent lookup feeds chain resolution", func(t *testing.T) {
		chain, err := hierarchy.ResolveParentChain(ctx, "cx1", "cx1-file-b", ParentLookup(s, "cx1"))
		require.NoError(t, err)
		require.Equal(t, []string{"cx1-folder-a", "cx1-root"}, chain)
	})

	t.Run("cascade applies atomically", func(t *testing.T) {
		updates := []hierarchy.PermissionUpdate{
			{InternalID: "cx1-file-b", Permission: hierarchy.PermissionNone},
			{InternalID: "cx1-missing", Permission: hierarchy.PermissionNone},
		}
		err := s.ApplyPermissionUpdates(ctx, "cx1", updates)
		require.ErrorIs(t, err, ErrNotFound)

		// The file keeps its permission: nothing from the failed
		// cascade may be visible.
		n, err := s.GetNode(ctx, "cx1", "cx1-file-b")
		require.NoError(t, err)
		require.Equal(t, hierarchy.PermissionRead, n.Permission)
	})

	t.Run("successful cascade updates every node", func(t *testing.T) {
		updates := []hierarchy.PermissionUpdate{
			{InternalID: "cx1-file-b", Permission: hierarchy.PermissionNone},
			{InternalID: "cx1-folder-a", Permission: hierarchy.PermissionNone},
		}
		require.NoError(t, s.ApplyPermissionUpdates(ctx, "cx1", updates))
		for _, id := range []string{"cx1-file-b", "cx1-folder-a"} {
			n, err := s.GetNode(ctx, "cx1", id)
			require.NoError(t, err)
			require.Equal(t, hierarchy.PermissionNone, n.Permission)
		}
	})

	t.Run("gc removes nodes missing from the pass", func(t *testing.T) {
		file.LastSeenPassID = "pass-2"
		require.NoError(t, s.UpsertNode(ctx, file))

		deleted, err := s.DeleteNodesNotSeen(ctx, "cx1", "pass-2")
		require.NoError(t, err)
		require.Equal(t, []string{"cx1-folder-a"}, deleted)

		_, err = s.GetNode(ctx, "cx1", "cx1-folder-a")
		require.ErrorIs(t, err, ErrNotFound)
	})
}
