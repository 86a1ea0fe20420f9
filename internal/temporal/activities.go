package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"golang.org/x/sync/errgroup"

	"github.com/spolu/ingestd/internal/classify"
	"github.com/spolu/ingestd/internal/hierarchy"
	"github.com/spolu/ingestd/internal/index"
	"github.com/spolu/ingestd/internal/provider"
	"github.com/spolu/ingestd/internal/store"
)

// Concurrent index deletions per garbage-collection activity.
const gcDeleteConcurrency = 8

// Interval of the background heartbeat that runs for the whole life of
// a unit sync. Must stay well under the heartbeat timeout.
const defaultHeartbeatInterval = 30 * time.Second

// Activities bundles the dependencies shared by all sync activities.
type Activities struct {
	store             store.Store
	index             index.Index
	providers         *provider.Registry
	classifiers       *classify.Registry
	limiter           *provider.Limiter
	pageSize          int
	heartbeatInterval time.Duration
}

// NewActivities wires the activity set. pageSize is the default page
// limit used when a workflow input does not override it.
func NewActivities(s store.Store, idx index.Index, providers *provider.Registry, pageSize int) *Activities {
	return &Activities{
		store:             s,
		index:             idx,
		providers:         providers,
		classifiers:       classify.NewRegistry(),
		limiter:           provider.NewLimiter(),
		pageSize:          pageSize,
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

// startHeartbeat emits heartbeats on a fixed interval until the
// returned stop func is called. Cancellation is delivered to an
// activity through its heartbeats, so a page fetch that blocks for
// minutes still learns about it mid-flight instead of at the next
// page boundary.
func (a *Activities) startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(a.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}

// =============================================================================
// PASS LIFECYCLE ACTIVITIES
// =============================================================================

// StartSyncPass stamps the connector as running and mints the pass id
// used to tag every node touched by this pass. A full resync also
// clears all unit cursors back to the beginning.
func (a *Activities) StartSyncPass(ctx context.Context, input StartSyncPassInput) (*StartSyncPassOutput, error) {
	logger := activity.GetLogger(ctx)

	if err := a.store.MarkSyncStarted(ctx, input.ConnectorID); err != nil {
		return nil, fmt.Errorf("marking sync started: %w", err)
	}
	if input.FullResync {
		if err := a.store.ResetCursors(ctx, input.ConnectorID); err != nil {
			return nil, fmt.Errorf("resetting cursors: %w", err)
		}
	}

	passID := uuid.New().String()
	logger.Info("Sync pass started", "connectorId", input.ConnectorID, "passId", passID, "fullResync", input.FullResync)
	return &StartSyncPassOutput{PassID: passID}, nil
}

// ListSyncUnits asks the provider for the connector's sync units.
func (a *Activities) ListSyncUnits(ctx context.Context, input ListSyncUnitsInput) ([]provider.Unit, error) {
	conn, err := a.store.GetConnector(ctx, input.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("loading connector %s: %w", input.ConnectorID, err)
	}
	adapter, err := a.providers.MustGet(conn.Provider)
	if err != nil {
		return nil, err
	}
	if err := a.limiter.Wait(ctx, conn.Provider); err != nil {
		return nil, err
	}
	units, err := adapter.ListUnits(ctx, conn.Connection)
	if err != nil {
		return nil, a.activityError(ctx, conn.Provider, err)
	}
	return units, nil
}

func (a *Activities) MarkSyncSucceeded(ctx context.Context, input MarkSyncSucceededInput) error {
	if err := a.store.MarkSyncSucceeded(ctx, input.ConnectorID); err != nil {
		return fmt.Errorf("marking sync succeeded: %w", err)
	}
	return nil
}

func (a *Activities) MarkSyncFailed(ctx context.Context, input MarkSyncFailedInput) error {
	if err := a.store.MarkSyncFailed(ctx, input.ConnectorID, input.Status, input.Error); err != nil {
		return fmt.Errorf("marking sync failed: %w", err)
	}
	return nil
}

// =============================================================================
// UNIT SYNC ACTIVITY
// =============================================================================

// SyncUnit drains one sync unit page by page, persisting the cursor
// after each page so a retry or a later pass resumes where this attempt
// stopped. Cancellation is observed between pages and returns a
// resumable result instead of an error.
func (a *Activities) SyncUnit(ctx context.Context, input SyncUnitInput) (*SyncUnitResult, error) {
	logger := activity.GetLogger(ctx)
	result := &SyncUnitResult{UnitID: input.Unit.ID}

	conn, err := a.store.GetConnector(ctx, input.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("loading connector %s: %w", input.ConnectorID, err)
	}
	adapter, err := a.providers.MustGet(conn.Provider)
	if err != nil {
		return nil, err
	}

	state, err := a.store.GetCursor(ctx, input.ConnectorID, input.Unit.ID)
	if err != nil {
		return nil, fmt.Errorf("loading cursor for unit %s: %w", input.Unit.ID, err)
	}
	if state.CursorExhausted() {
		if !input.RestartExhausted {
			result.Exhausted = true
			return result, nil
		}
		// A finished crawl restarts from the beginning; a cancelled
		// one never reached the sentinel and resumes below.
		state.Cursor = nil
	}
	cursor := ""
	if state.Cursor != nil {
		cursor = *state.Cursor
	}

	if err := a.upsertUnitContainer(ctx, conn, input.PassID, input.Unit); err != nil {
		return nil, err
	}

	stopHeartbeat := a.startHeartbeat(ctx)
	defer stopHeartbeat()

	pageSize := input.PageSize
	if pageSize <= 0 {
		pageSize = a.pageSize
	}

	for {
		if ctx.Err() != nil {
			result.Cancelled = true
			result.LastCursor = cursor
			return result, nil
		}
		if err := a.limiter.Wait(ctx, conn.Provider); err != nil {
			result.Cancelled = true
			result.LastCursor = cursor
			return result, nil
		}

		page, err := adapter.FetchPage(ctx, conn.Connection, input.Unit.ID, cursor, pageSize)
		if err != nil {
			if a.classifiers.Classify(conn.Provider, err) == classify.KindPermanentItem {
				// The unit vanished remotely. Mark it exhausted so the
				// pass converges; garbage collection reclaims its nodes.
				exhausted := ""
				if serr := a.store.SetCursor(ctx, input.ConnectorID, input.Unit.ID, &exhausted, 0); serr != nil {
					return nil, fmt.Errorf("marking vanished unit %s exhausted: %w", input.Unit.ID, serr)
				}
				logger.Warn("Unit gone upstream, skipping", "unitId", input.Unit.ID, "error", err)
				result.Exhausted = true
				return result, nil
			}
			return nil, a.activityError(ctx, conn.Provider, err)
		}

		for _, item := range page.Items {
			if err := a.upsertItem(ctx, conn, input.PassID, input.Unit, item); err != nil {
				var cycleErr *hierarchy.CycleDetectedError
				if errors.As(err, &cycleErr) {
					logger.Error("Parent chain cycle, skipping item",
						"unitId", input.Unit.ID, "itemId", item.NativeID, "error", err)
					result.ItemsSkipped++
					continue
				}
				return nil, err
			}
			result.ItemsProcessed++
		}

		next := page.NextCursor
		if err := a.store.SetCursor(ctx, input.ConnectorID, input.Unit.ID, &next, int64(len(page.Items))); err != nil {
			return nil, fmt.Errorf("persisting cursor for unit %s: %w", input.Unit.ID, err)
		}
		result.LastCursor = next
		activity.RecordHeartbeat(ctx, next)

		if next == "" {
			result.Exhausted = true
			logger.Info("Unit exhausted", "unitId", input.Unit.ID, "items", result.ItemsProcessed)
			return result, nil
		}
		cursor = next
	}
}

// upsertUnitContainer materializes the unit's own container node so its
// children always have a parent to chain through. An existing node
// keeps its permission; a new one is born with read access.
func (a *Activities) upsertUnitContainer(ctx context.Context, conn *store.ConnectorInstance, passID string, unit provider.Unit) error {
	internalID := hierarchy.InternalID(conn.ID, unit.Kind, unit.ID)
	perm := hierarchy.PermissionRead
	if existing, err := a.store.GetNode(ctx, conn.ID, internalID); err == nil {
		perm = existing.Permission
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading unit container %s: %w", internalID, err)
	}

	node := &store.ContentNode{
		ConnectorID:      conn.ID,
		InternalID:       internalID,
		ParentInternalID: hierarchy.RootID(conn.ID),
		Kind:             unit.Kind,
		Permission:       perm,
		Title:            unit.Title,
		LastSeenPassID:   passID,
	}
	if err := a.store.UpsertNode(ctx, node); err != nil {
		return fmt.Errorf("upserting unit container %s: %w", internalID, err)
	}
	if perm == hierarchy.PermissionNone {
		return nil
	}
	return a.index.UpsertNode(ctx, index.NodeUpsert{
		InternalID: internalID,
		Parents:    []string{internalID, hierarchy.RootID(conn.ID)},
		Title:      unit.Title,
	})
}

// upsertItem persists one fetched item and mirrors it into the index.
// Items whose provider reports no parent hang off the unit container;
// nested items point at their container by native id.
func (a *Activities) upsertItem(ctx context.Context, conn *store.ConnectorInstance, passID string, unit provider.Unit, item provider.Item) error {
	internalID := hierarchy.InternalID(conn.ID, item.Kind, item.NativeID)

	parentID := hierarchy.InternalID(conn.ID, unit.Kind, unit.ID)
	if item.ParentNativeID != "" && item.ParentNativeID != unit.ID {
		parentID = hierarchy.InternalID(conn.ID, hierarchy.KindFolder, item.ParentNativeID)
	}

	// An explicitly set permission survives re-sync; a new node inherits
	// from its parent when the parent is already known.
	perm := hierarchy.PermissionRead
	if existing, err := a.store.GetNode(ctx, conn.ID, internalID); err == nil {
		perm = existing.Permission
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading node %s: %w", internalID, err)
	} else if parent, perr := a.store.GetNode(ctx, conn.ID, parentID); perr == nil {
		perm = hierarchy.Inherited(parent.Permission)
	}

	node := &store.ContentNode{
		ConnectorID:      conn.ID,
		InternalID:       internalID,
		ParentInternalID: parentID,
		Kind:             item.Kind,
		Permission:       perm,
		Title:            item.Title,
		SourceURL:        item.SourceURL,
		LastUpdatedAt:    item.UpdatedAt,
		LastSeenPassID:   passID,
	}
	if err := a.store.UpsertNode(ctx, node); err != nil {
		return fmt.Errorf("upserting node %s: %w", internalID, err)
	}

	chain, err := hierarchy.ResolveParentChain(ctx, conn.ID, internalID, store.ParentLookup(a.store, conn.ID))
	if err != nil {
		return err
	}
	if perm == hierarchy.PermissionNone {
		// Revoked subtrees stay in the store for the permission UI but
		// never reach the index.
		return nil
	}

	parents := append([]string{internalID}, chain...)
	switch item.Kind {
	case hierarchy.KindFolder, hierarchy.KindChannel:
		return a.index.UpsertNode(ctx, index.NodeUpsert{
			InternalID: internalID,
			Parents:    parents,
			Title:      item.Title,
			Timestamp:  item.UpdatedAt,
		})
	default:
		return a.index.UpsertDocument(ctx, index.DocumentUpsert{
			InternalID: internalID,
			Parents:    parents,
			Title:      item.Title,
			SourceURL:  item.SourceURL,
			Timestamp:  item.UpdatedAt,
		})
	}
}

// =============================================================================
// GARBAGE COLLECTION ACTIVITY
// =============================================================================

// GarbageCollectNodes removes nodes that the given pass did not touch:
// content deleted upstream since the previous pass. Index deletions run
// first so a retry after partial failure still sees the stale rows.
func (a *Activities) GarbageCollectNodes(ctx context.Context, input GarbageCollectInput) (*GarbageCollectOutput, error) {
	logger := activity.GetLogger(ctx)

	nodes, err := a.store.ListNodes(ctx, input.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	var stale []string
	for _, n := range nodes {
		if n.LastSeenPassID != input.PassID {
			stale = append(stale, n.InternalID)
		}
	}
	if len(stale) == 0 {
		return &GarbageCollectOutput{}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gcDeleteConcurrency)
	for _, id := range stale {
		id := id
		g.Go(func() error {
			return a.index.DeleteNode(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("deleting stale nodes from index: %w", err)
	}

	deleted, err := a.store.DeleteNodesNotSeen(ctx, input.ConnectorID, input.PassID)
	if err != nil {
		return nil, fmt.Errorf("deleting stale nodes: %w", err)
	}
	logger.Info("Garbage collected vanished nodes", "connectorId", input.ConnectorID, "deleted", len(deleted))
	return &GarbageCollectOutput{Deleted: deleted}, nil
}

// =============================================================================
// PERMISSION ACTIVITIES
// =============================================================================

// CascadePermission applies a permission change to a container and its
// whole subtree, in the order that keeps children never broader than
// their parent if the write is interrupted.
func (a *Activities) CascadePermission(ctx context.Context, input CascadeInput) (*CascadeOutput, error) {
	logger := activity.GetLogger(ctx)

	nodes, err := a.store.ListNodes(ctx, input.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	descendants, depth := subtree(nodes, input.InternalID)

	var updates []hierarchy.PermissionUpdate
	if input.Permission == hierarchy.PermissionNone {
		updates = hierarchy.PlanRevoke(input.InternalID, descendants, depth)
	} else {
		updates = hierarchy.PlanAllow(input.InternalID, input.Permission, descendants, depth)
	}
	if err := a.store.ApplyPermissionUpdates(ctx, input.ConnectorID, updates); err != nil {
		return nil, fmt.Errorf("applying permission cascade: %w", err)
	}

	// Revoked nodes leave the index immediately; re-allowed nodes come
	// back on the next sync pass.
	if input.Permission == hierarchy.PermissionNone {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(gcDeleteConcurrency)
		for _, u := range updates {
			u := u
			g.Go(func() error {
				return a.index.DeleteNode(gctx, u.InternalID)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("removing revoked nodes from index: %w", err)
		}
	}

	logger.Info("Permission cascade applied",
		"connectorId", input.ConnectorID, "internalId", input.InternalID,
		"permission", input.Permission, "updated", len(updates))
	return &CascadeOutput{Updated: len(updates)}, nil
}

// ReconcilePermissions sweeps the whole hierarchy and revokes any node
// left broader than a revoked parent by an interrupted cascade.
func (a *Activities) ReconcilePermissions(ctx context.Context, input ReconcileInput) (*ReconcileOutput, error) {
	nodes, err := a.store.ListNodes(ctx, input.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	hnodes := make([]hierarchy.Node, 0, len(nodes))
	for _, n := range nodes {
		hnodes = append(hnodes, n.HierarchyNode())
	}
	updates := hierarchy.Reconcile(hnodes)
	if len(updates) == 0 {
		return &ReconcileOutput{}, nil
	}
	if err := a.store.ApplyPermissionUpdates(ctx, input.ConnectorID, updates); err != nil {
		return nil, fmt.Errorf("applying reconciliation updates: %w", err)
	}
	for _, u := range updates {
		if err := a.index.DeleteNode(ctx, u.InternalID); err != nil {
			return nil, fmt.Errorf("removing reconciled node %s from index: %w", u.InternalID, err)
		}
	}
	return &ReconcileOutput{Updated: len(updates)}, nil
}

// subtree collects the strict descendants of containerID along stored
// parent pointers, with each node's depth below the container.
func subtree(nodes []store.ContentNode, containerID string) ([]hierarchy.Node, map[string]int) {
	children := make(map[string][]store.ContentNode, len(nodes))
	for _, n := range nodes {
		children[n.ParentInternalID] = append(children[n.ParentInternalID], n)
	}

	var descendants []hierarchy.Node
	depth := map[string]int{containerID: 0}
	queue := []string{containerID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range children[id] {
			if _, seen := depth[child.InternalID]; seen {
				continue
			}
			depth[child.InternalID] = depth[id] + 1
			descendants = append(descendants, child.HierarchyNode())
			queue = append(queue, child.InternalID)
		}
	}
	return descendants, depth
}
