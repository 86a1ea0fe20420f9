package temporal

import (
	"github.com/spolu/ingestd/internal/hierarchy"
	"github.com/spolu/ingestd/internal/provider"
	"github.com/spolu/ingestd/internal/store"
)

// ===== Workflow inputs and results =====

// SyncInput parameterizes both the one-shot full sync workflow and the
// long-running incremental sync workflow.
type SyncInput struct {
	ConnectorID        string        `json:"connectorId"`
	Provider           provider.Kind `json:"provider"`
	MaxConcurrentUnits int           `json:"maxConcurrentUnits,omitempty"`
	PageSize           int           `json:"pageSize,omitempty"`
}

// SyncResult summarizes a completed sync pass.
type SyncResult struct {
	PassID       string           `json:"passId"`
	Status       store.SyncStatus `json:"status"`
	TotalCount   int64            `json:"totalCount"`
	UnitsSynced  int              `json:"unitsSynced"`
	UnitsFailed  []string         `json:"unitsFailed,omitempty"`
	ItemsSkipped int64            `json:"itemsSkipped,omitempty"`
	DeletedNodes int              `json:"deletedNodes,omitempty"`
}

// SyncProgress is the payload served by the sync.progress query handler.
type SyncProgress struct {
	PassID     string `json:"passId,omitempty"`
	Status     string `json:"status"`
	TotalCount int64  `json:"totalCount"`
	UnitsDone  int    `json:"unitsDone"`
	UnitsTotal int    `json:"unitsTotal"`
}

// CrawlInput drives a single-unit crawl workflow. SeedID identifies the
// crawl root (for the webcrawler provider this is the configured seed URL).
type CrawlInput struct {
	ConnectorID string        `json:"connectorId"`
	Provider    provider.Kind `json:"provider"`
	SeedID      string        `json:"seedId"`
	SeedName    string        `json:"seedName,omitempty"`
	PageSize    int           `json:"pageSize,omitempty"`
}

// CrawlResult reports the outcome of a completed crawl pass. A
// cancelled crawl carries no result; its resume cursor lives in the
// sync state store.
type CrawlResult struct {
	PassID         string `json:"passId"`
	ItemsProcessed int64  `json:"itemsProcessed"`
	ItemsSkipped   int64  `json:"itemsSkipped,omitempty"`
	LastCursor     string `json:"lastCursor,omitempty"`
}

// ===== Activity inputs and results =====

type StartSyncPassInput struct {
	ConnectorID string `json:"connectorId"`
	FullResync  bool   `json:"fullResync"`
}

type StartSyncPassOutput struct {
	PassID string `json:"passId"`
}

type ListSyncUnitsInput struct {
	ConnectorID string `json:"connectorId"`
}

type SyncUnitInput struct {
	ConnectorID string        `json:"connectorId"`
	PassID      string        `json:"passId"`
	Unit        provider.Unit `json:"unit"`
	PageSize    int           `json:"pageSize,omitempty"`
	// RestartExhausted starts an exhausted unit over from the
	// beginning instead of treating it as already synced. Crawls use
	// it so a finished site can be refreshed.
	RestartExhausted bool `json:"restartExhausted,omitempty"`
}

type SyncUnitResult struct {
	UnitID         string `json:"unitId"`
	ItemsProcessed int64  `json:"itemsProcessed"`
	ItemsSkipped   int64  `json:"itemsSkipped"`
	Exhausted      bool   `json:"exhausted"`
	Cancelled      bool   `json:"cancelled,omitempty"`
	LastCursor     string `json:"lastCursor,omitempty"`
}

type MarkSyncSucceededInput struct {
	ConnectorID string `json:"connectorId"`
}

type MarkSyncFailedInput struct {
	ConnectorID string           `json:"connectorId"`
	Status      store.SyncStatus `json:"status"`
	Error       string           `json:"error"`
}

type GarbageCollectInput struct {
	ConnectorID string `json:"connectorId"`
	PassID      string `json:"passId"`
}

type GarbageCollectOutput struct {
	Deleted []string `json:"deleted,omitempty"`
}

type CascadeInput struct {
	ConnectorID string               `json:"connectorId"`
	InternalID  string               `json:"internalId"`
	Permission  hierarchy.Permission `json:"permission"`
}

type CascadeOutput struct {
	Updated    int `json:"updated"`
	Reconciled int `json:"reconciled,omitempty"`
}

type ReconcileInput struct {
	ConnectorID string `json:"connectorId"`
}

type ReconcileOutput struct {
	Updated int `json:"updated"`
}
