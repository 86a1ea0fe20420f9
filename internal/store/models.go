// Package store persists connector sync state: connector instances,
// per-unit cursors and the content-node hierarchy.
package store

import (
	"time"

	"github.com/spolu/ingestd/internal/hierarchy"
	"github.com/spolu/ingestd/internal/provider"
)

// =============================================================================
// CONNECTOR MODELS
// =============================================================================

// ConnectorStatus is the lifecycle status of a connector instance.
type ConnectorStatus string

const (
	ConnectorStatusRunning ConnectorStatus = "running"
	ConnectorStatusPaused  ConnectorStatus = "paused"
	ConnectorStatusError   ConnectorStatus = "error"
)

// SyncStatus is the terminal status of the most recent sync pass.
type SyncStatus string

const (
	SyncStatusRunning     SyncStatus = "running"
	SyncStatusSucceeded   SyncStatus = "succeeded"
	SyncStatusFailed      SyncStatus = "failed"
	SyncStatusNeedsReauth SyncStatus = "needs_reauth"
)

// ConnectorInstance binds a workspace to a provider account. Instances
// are soft-paused, never physically deleted while active.
type ConnectorInstance struct {
	ID             string                 `json:"id"`
	Provider       provider.Kind          `json:"provider"`
	Connection     provider.ConnectionRef `json:"connection"`
	Status         ConnectorStatus        `json:"status"`
	SyncStatus     SyncStatus             `json:"syncStatus"`
	LastSyncStart  *time.Time             `json:"lastSyncStart,omitempty"`
	LastSyncFinish *time.Time             `json:"lastSyncFinish,omitempty"`
	LastError      string                 `json:"lastError,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// =============================================================================
// SYNC UNIT MODELS
// =============================================================================

// SyncUnitState is the durable per-unit cursor record. Cursor nil means
// "start from the beginning"; empty string means "exhausted".
type SyncUnitState struct {
	ConnectorID string    `json:"connectorId"`
	UnitID      string    `json:"unitId"`
	Cursor      *string   `json:"cursor"`
	ItemsSynced int64     `json:"itemsSynced"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CursorExhausted reports whether the cursor marks the end of a pass.
func (s *SyncUnitState) CursorExhausted() bool {
	return s.Cursor != nil && *s.Cursor == ""
}

// =============================================================================
// CONTENT NODE MODELS
// =============================================================================

// ContentNode is the canonical folder/document/channel/table record
// surfaced to the permission UI and the index.
type ContentNode struct {
	ConnectorID      string               `json:"connectorId"`
	InternalID       string               `json:"internalId"`
	ParentInternalID string               `json:"parentInternalId,omitempty"`
	Kind             hierarchy.NodeKind   `json:"kind"`
	Permission       hierarchy.Permission `json:"permission"`
	Title            string               `json:"title"`
	SourceURL        string               `json:"sourceUrl,omitempty"`
	LastUpdatedAt    time.Time            `json:"lastUpdatedAt"`
	LastSeenPassID   string               `json:"lastSeenPassId,omitempty"`
}

// HierarchyNode projects the node into the hierarchy package's shape.
func (n *ContentNode) HierarchyNode() hierarchy.Node {
	return hierarchy.Node{
		InternalID:       n.InternalID,
		ParentInternalID: n.ParentInternalID,
		Kind:             n.Kind,
		Permission:       n.Permission,
		Title:            n.Title,
		SourceURL:        n.SourceURL,
		LastUpdatedAt:    n.LastUpdatedAt.UnixMilli(),
	}
}
