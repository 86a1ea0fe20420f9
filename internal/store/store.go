package store

import (
	"context"
	"errors"

	"github.com/spolu/ingestd/internal/hierarchy"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the sync state store contract consumed by activities. Each
// unit's cursor is written by exactly one in-flight task (partition key
// is the unit id), so last-write-wins per unit is sufficient.
type Store interface {
	// Connectors.
	CreateConnector(ctx context.Context, c *ConnectorInstance) error
	GetConnector(ctx context.Context, connectorID string) (*ConnectorInstance, error)
	UpdateConnectorStatus(ctx context.Context, connectorID string, status ConnectorStatus) error
	MarkSyncStarted(ctx context.Context, connectorID string) error
	MarkSyncSucceeded(ctx context.Context, connectorID string) error
	MarkSyncFailed(ctx context.Context, connectorID string, syncStatus SyncStatus, lastError string) error

	// Unit cursors.
	GetCursor(ctx context.Context, connectorID, unitID string) (*SyncUnitState, error)
	SetCursor(ctx context.Context, connectorID, unitID string, cursor *string, itemsDelta int64) error
	ResetCursors(ctx context.Context, connectorID string) error

	// Content nodes.
	UpsertNode(ctx context.Context, node *ContentNode) error
	GetNode(ctx context.Context, connectorID, internalID string) (*ContentNode, error)
	GetParent(ctx context.Context, connectorID, internalID string) (string, bool, error)
	ListNodes(ctx context.Context, connectorID string) ([]ContentNode, error)
	// ApplyPermissionUpdates applies one cascade as a single atomic
	// unit; a failure leaves no update applied.
	ApplyPermissionUpdates(ctx context.Context, connectorID string, updates []hierarchy.PermissionUpdate) error
	// DeleteNodesNotSeen removes nodes whose last seen pass is not
	// passID and returns their internal ids.
	DeleteNodesNotSeen(ctx context.Context, connectorID, passID string) ([]string, error)

	Close() error
}

// ParentLookup adapts the store to hierarchy.ParentLookup for one
// connector.
func ParentLookup(s Store, connectorID string) hierarchy.ParentLookup {
	return func(ctx context.Context, internalID string) (string, bool, error) {
		return s.GetParent(ctx, connectorID, internalID)
	}
}
