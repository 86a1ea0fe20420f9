package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spolu/ingestd/internal/hierarchy"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu         sync.Mutex
	connectors map[string]*ConnectorInstance
	cursors    map[string]*SyncUnitState // key: connectorID/unitID
	nodes      map[string]*ContentNode   // key: connectorID/internalID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connectors: make(map[string]*ConnectorInstance),
		cursors:    make(map[string]*SyncUnitState),
		nodes:      make(map[string]*ContentNode),
	}
}

func cursorKey(connectorID, unitID string) string   { return connectorID + "/" + unitID }
func nodeKey(connectorID, internalID string) string { return connectorID + "/" + internalID }

// =============================================================================
// CONNECTORS
// =============================================================================

func (m *MemoryStore) CreateConnector(ctx context.Context, c *ConnectorInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.connectors[c.ID]; exists {
		return fmt.Errorf("connector %s already exists", c.ID)
	}
	now := time.Now().UTC()
	cloned := *c
	cloned.CreatedAt = now
	cloned.UpdatedAt = now
	if cloned.Status == "" {
		cloned.Status = ConnectorStatusRunning
	}
	m.connectors[c.ID] = &cloned
	return nil
}

func (m *MemoryStore) GetConnector(ctx context.Context, connectorID string) (*ConnectorInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.connectors[connectorID]
	if !ok {
		return nil, ErrNotFound
	}
	cloned := *c
	return &cloned, nil
}

func (m *MemoryStore) UpdateConnectorStatus(ctx context.Context, connectorID string, status ConnectorStatus) error {
	return m.mutateConnector(connectorID, func(c *ConnectorInstance) {
		c.Status = status
	})
}

func (m *MemoryStore) MarkSyncStarted(ctx context.Context, connectorID string) error {
	now := time.Now().UTC()
	return m.mutateConnector(connectorID, func(c *ConnectorInstance) {
		c.SyncStatus = SyncStatusRunning
		c.LastSyncStart = &now
		c.LastError = ""
	})
}

func (m *MemoryStore) MarkSyncSucceeded(ctx context.Context, connectorID string) error {
	now := time.Now().UTC()
	return m.mutateConnector(connectorID, func(c *ConnectorInstance) {
		c.SyncStatus = SyncStatusSucceeded
		c.LastSyncFinish = &now
	})
}

func (m *MemoryStore) MarkSyncFailed(ctx context.Context, connectorID string, syncStatus SyncStatus, lastError string) error {
	now := time.Now().UTC()
	return m.mutateConnector(connectorID, func(c *ConnectorInstance) {
		c.SyncStatus = syncStatus
		c.LastSyncFinish = &now
		c.LastError = lastError
		if syncStatus == SyncStatusNeedsReauth {
			c.Status = ConnectorStatusPaused
		} else {
			c.Status = ConnectorStatusError
		}
	})
}

func (m *MemoryStore) mutateConnector(connectorID string, mutate func(*ConnectorInstance)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.connectors[connectorID]
	if !ok {
		return ErrNotFound
	}
	mutate(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// =============================================================================
// UNIT CURSORS
// =============================================================================

func (m *MemoryStore) GetCursor(ctx context.Context, connectorID, unitID string) (*SyncUnitState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.cursors[cursorKey(connectorID, unitID)]
	if !ok {
		return &SyncUnitState{ConnectorID: connectorID, UnitID: unitID}, nil
	}
	cloned := *s
	if s.Cursor != nil {
		v := *s.Cursor
		cloned.Cursor = &v
	}
	return &cloned, nil
}

func (m *MemoryStore) SetCursor(ctx context.Context, connectorID, unitID string, cursor *string, itemsDelta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cursorKey(connectorID, unitID)
	s, ok := m.cursors[key]
	if !ok {
		s = &SyncUnitState{ConnectorID: connectorID, UnitID: unitID}
		m.cursors[key] = s
	}
	if cursor != nil {
		v := *cursor
		s.Cursor = &v
	} else {
		s.Cursor = nil
	}
	s.ItemsSynced += itemsDelta
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ResetCursors(ctx context.Context, connectorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, s := range m.cursors {
		if s.ConnectorID == connectorID {
			s.Cursor = nil
			s.ItemsSynced = 0
			s.UpdatedAt = time.Now().UTC()
			m.cursors[key] = s
		}
	}
	return nil
}

// =============================================================================
// CONTENT NODES
// =============================================================================

func (m *MemoryStore) UpsertNode(ctx context.Context, node *ContentNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cloned := *node
	m.nodes[nodeKey(node.ConnectorID, node.InternalID)] = &cloned
	return nil
}

func (m *MemoryStore) GetNode(ctx context.Context, connectorID, internalID string) (*ContentNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[nodeKey(connectorID, internalID)]
	if !ok {
		return nil, ErrNotFound
	}
	cloned := *n
	return &cloned, nil
}

func (m *MemoryStore) GetParent(ctx context.Context, connectorID, internalID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[nodeKey(connectorID, internalID)]
	if !ok {
		return "", false, nil
	}
	return n.ParentInternalID, true, nil
}

func (m *MemoryStore) ListNodes(ctx context.Context, connectorID string) ([]ContentNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var nodes []ContentNode
	for _, n := range m.nodes {
		if n.ConnectorID == connectorID {
			nodes = append(nodes, *n)
		}
	}
	return nodes, nil
}

func (m *MemoryStore) ApplyPermissionUpdates(ctx context.Context, connectorID string, updates []hierarchy.PermissionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch before touching anything so the cascade
	// applies atomically.
	for _, u := range updates {
		if _, ok := m.nodes[nodeKey(connectorID, u.InternalID)]; !ok {
			return fmt.Errorf("node %s: %w", u.InternalID, ErrNotFound)
		}
	}
	for _, u := range updates {
		m.nodes[nodeKey(connectorID, u.InternalID)].Permission = u.Permission
	}
	return nil
}

func (m *MemoryStore) DeleteNodesNotSeen(ctx context.Context, connectorID, passID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted []string
	for key, n := range m.nodes {
		if n.ConnectorID == connectorID && n.LastSeenPassID != passID {
			deleted = append(deleted, n.InternalID)
			delete(m.nodes, key)
		}
	}
	return deleted, nil
}

func (m *MemoryStore) Close() error { return nil }
