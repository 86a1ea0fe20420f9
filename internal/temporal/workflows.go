package temporal

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/spolu/ingestd/internal/hierarchy"
	"github.com/spolu/ingestd/internal/provider"
	"github.com/spolu/ingestd/internal/store"
)

const (
	// SignalResyncRequested asks a running incremental sync workflow for
	// one more pass. Signals received mid-pass coalesce into a single
	// follow-up pass.
	SignalResyncRequested = "resyncRequested"

	// QuerySyncProgress serves live pass progress to the UI.
	QuerySyncProgress = "sync.progress"

	// Incremental sync workflows continue-as-new after this many passes
	// to keep their history bounded.
	maxPassesPerExecution = 50

	defaultMaxConcurrentUnits = 5
)

// defaultActivityOptions covers the short bookkeeping activities.
var defaultActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 2 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    5,
	},
}

// listActivityOptions covers the provider unit listing, which can hit
// the same auth failures as page fetches but never heartbeats.
var listActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 5 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute,
		MaximumAttempts:    5,
		NonRetryableErrorTypes: []string{
			ErrTypeAuth,
			ErrTypePermanentItem,
		},
	},
}

// unitActivityOptions covers the long page-draining unit activity. The
// activity heartbeats per page and persists its cursor, so generous
// retries are cheap: every attempt resumes where the last one stopped.
// Auth and permanent failures are excluded from retry entirely.
var unitActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 30 * time.Minute,
	HeartbeatTimeout:    2 * time.Minute,
	WaitForCancellation: true,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    5 * time.Minute,
		MaximumAttempts:    20,
		NonRetryableErrorTypes: []string{
			ErrTypeAuth,
			ErrTypePermanentItem,
		},
	},
}

// ===== Full sync =====

// FullSyncWorkflow runs one complete sync pass: reset cursors, list
// units, drain every unit with bounded parallelism, garbage collect
// vanished nodes, then record the terminal status.
func FullSyncWorkflow(ctx workflow.Context, input SyncInput) (*SyncResult, error) {
	var progress SyncProgress
	if err := workflow.SetQueryHandler(ctx, QuerySyncProgress, func() (SyncProgress, error) {
		return progress, nil
	}); err != nil {
		return nil, err
	}
	return runSyncPass(ctx, input, true, &progress)
}

// unitOutcome travels over the in-memory collection channel between the
// per-unit goroutines and the collecting loop.
type unitOutcome struct {
	UnitID string
	Result SyncUnitResult
	Err    error
}

// runSyncPass is the pass body shared by the full and incremental sync
// workflows. fullResync controls whether cursors are reset first.
func runSyncPass(ctx workflow.Context, input SyncInput, fullResync bool, progress *SyncProgress) (*SyncResult, error) {
	logger := workflow.GetLogger(ctx)
	actCtx := workflow.WithActivityOptions(ctx, defaultActivityOptions)

	progress.Status = "starting"

	var started StartSyncPassOutput
	if err := workflow.ExecuteActivity(actCtx, "StartSyncPass", StartSyncPassInput{
		ConnectorID: input.ConnectorID,
		FullResync:  fullResync,
	}).Get(ctx, &started); err != nil {
		return nil, err
	}
	progress.PassID = started.PassID

	var units []provider.Unit
	if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, listActivityOptions),
		"ListSyncUnits", ListSyncUnitsInput{ConnectorID: input.ConnectorID}).Get(ctx, &units); err != nil {
		return failSyncPass(ctx, input.ConnectorID, started.PassID, progress, err)
	}

	progress.Status = "syncing"
	progress.UnitsTotal = len(units)

	maxConcurrent := input.MaxConcurrentUnits
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentUnits
	}

	// Units run through a token semaphore under a shared cancel scope.
	// A connector-level auth failure cancels units that have not yet
	// finished; each keeps its durable cursor.
	unitScope, cancelUnits := workflow.WithCancel(ctx)
	unitCtx := workflow.WithActivityOptions(unitScope, unitActivityOptions)
	sem := workflow.NewBufferedChannel(ctx, maxConcurrent)
	outcomes := workflow.NewChannel(ctx)
	for _, unit := range units {
		unit := unit
		workflow.Go(ctx, func(gctx workflow.Context) {
			sem.Send(gctx, nil)
			defer sem.Receive(gctx, nil)
			var res SyncUnitResult
			err := workflow.ExecuteActivity(unitCtx, "SyncUnit", SyncUnitInput{
				ConnectorID: input.ConnectorID,
				PassID:      started.PassID,
				Unit:        unit,
				PageSize:    input.PageSize,
			}).Get(gctx, &res)
			outcomes.Send(gctx, unitOutcome{UnitID: unit.ID, Result: res, Err: err})
		})
	}

	result := &SyncResult{PassID: started.PassID}
	var authErr error
	cancelled := false
	for i := 0; i < len(units); i++ {
		var out unitOutcome
		outcomes.Receive(ctx, &out)
		switch {
		case out.Err != nil && failureType(out.Err) == ErrTypeAuth:
			// One expired credential breaks every unit of the
			// connector. Abort the pass instead of burning through the
			// remaining units.
			if authErr == nil {
				authErr = out.Err
				cancelUnits()
			}
		case out.Err != nil && temporal.IsCanceledError(out.Err):
			cancelled = true
		case out.Err != nil:
			logger.Warn("Sync unit failed, other units continue",
				"unitId", out.UnitID, "errorType", failureType(out.Err), "error", out.Err)
			result.UnitsFailed = append(result.UnitsFailed, out.UnitID)
		case out.Result.Cancelled:
			cancelled = true
		default:
			result.TotalCount += out.Result.ItemsProcessed
			result.ItemsSkipped += out.Result.ItemsSkipped
			result.UnitsSynced++
		}
		progress.UnitsDone = i + 1
		progress.TotalCount = result.TotalCount
	}
	cancelUnits()

	switch {
	case authErr != nil:
		result.Status = store.SyncStatusNeedsReauth
		progress.Status = string(store.SyncStatusNeedsReauth)
		if err := workflow.ExecuteActivity(actCtx, "MarkSyncFailed", MarkSyncFailedInput{
			ConnectorID: input.ConnectorID,
			Status:      store.SyncStatusNeedsReauth,
			Error:       authErr.Error(),
		}).Get(ctx, nil); err != nil {
			return nil, err
		}
		return result, nil

	case ctx.Err() != nil || cancelled:
		// Cursors stay where they are; the next pass resumes.
		progress.Status = "cancelled"
		return nil, temporal.NewCanceledError("sync pass cancelled")

	case len(result.UnitsFailed) > 0:
		result.Status = store.SyncStatusFailed
		progress.Status = string(store.SyncStatusFailed)
		if err := workflow.ExecuteActivity(actCtx, "MarkSyncFailed", MarkSyncFailedInput{
			ConnectorID: input.ConnectorID,
			Status:      store.SyncStatusFailed,
			Error:       fmt.Sprintf("units failed: %s", strings.Join(result.UnitsFailed, ", ")),
		}).Get(ctx, nil); err != nil {
			return nil, err
		}
		return result, nil

	default:
		// Only a successful full pass garbage collects. A failed unit
		// legitimately leaves its nodes untouched, and an incremental
		// pass skips exhausted units entirely, so either would reap
		// content that still exists upstream.
		if fullResync {
			var gc GarbageCollectOutput
			if err := workflow.ExecuteActivity(actCtx, "GarbageCollectNodes", GarbageCollectInput{
				ConnectorID: input.ConnectorID,
				PassID:      started.PassID,
			}).Get(ctx, &gc); err != nil {
				return failSyncPass(ctx, input.ConnectorID, started.PassID, progress, err)
			}
			result.DeletedNodes = len(gc.Deleted)
		}

		if err := workflow.ExecuteActivity(actCtx, "MarkSyncSucceeded", MarkSyncSucceededInput{
			ConnectorID: input.ConnectorID,
		}).Get(ctx, nil); err != nil {
			return nil, err
		}
		result.Status = store.SyncStatusSucceeded
		progress.Status = string(store.SyncStatusSucceeded)
		return result, nil
	}
}

// failSyncPass records a pass-level failure and surfaces the original
// error. Auth failures park the connector in needs_reauth.
func failSyncPass(ctx workflow.Context, connectorID, passID string, progress *SyncProgress, cause error) (*SyncResult, error) {
	status := store.SyncStatusFailed
	if failureType(cause) == ErrTypeAuth {
		status = store.SyncStatusNeedsReauth
	}
	progress.Status = string(status)
	actCtx := workflow.WithActivityOptions(ctx, defaultActivityOptions)
	if err := workflow.ExecuteActivity(actCtx, "MarkSyncFailed", MarkSyncFailedInput{
		ConnectorID: connectorID,
		Status:      status,
		Error:       cause.Error(),
	}).Get(ctx, nil); err != nil {
		return nil, err
	}
	if status == store.SyncStatusNeedsReauth {
		return &SyncResult{PassID: passID, Status: status}, nil
	}
	return nil, cause
}

// ===== Incremental sync =====

// resyncDebounce groups a burst of resync requests into one pass.
const resyncDebounce = time.Second

// IncrementalSyncWorkflow runs an initial pass, then waits for resync
// signals. Any number of signals arriving while a pass is in flight or
// during the debounce window collapse into exactly one follow-up pass.
// The execution continues-as-new after a bounded number of passes.
func IncrementalSyncWorkflow(ctx workflow.Context, input SyncInput) error {
	logger := workflow.GetLogger(ctx)

	var progress SyncProgress
	if err := workflow.SetQueryHandler(ctx, QuerySyncProgress, func() (SyncProgress, error) {
		return progress, nil
	}); err != nil {
		return err
	}

	// All resync signals collapse into this single flag; consuming a
	// request means clearing it, never counting.
	resyncRequested := false
	resyncCh := workflow.GetSignalChannel(ctx, SignalResyncRequested)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			resyncCh.Receive(gctx, nil)
			resyncRequested = true
		}
	})

	for passes := 0; ; {
		resyncRequested = false
		if _, err := runSyncPass(ctx, input, false, &progress); err != nil {
			if temporal.IsCanceledError(err) || ctx.Err() != nil {
				return err
			}
			// A failed pass is recorded on the connector; the workflow
			// stays alive to serve the next resync request.
			logger.Error("Sync pass failed", "connectorId", input.ConnectorID, "error", err)
		}
		passes++
		if passes >= maxPassesPerExecution {
			return workflow.NewContinueAsNewError(ctx, IncrementalSyncWorkflow, input)
		}

		// A request that arrived mid-pass triggers one more pass.
		if resyncRequested {
			continue
		}

		progress.Status = "idle"
		if err := workflow.Await(ctx, func() bool { return resyncRequested }); err != nil {
			return temporal.NewCanceledError("incremental sync cancelled")
		}
		if err := workflow.Sleep(ctx, resyncDebounce); err != nil {
			return temporal.NewCanceledError("incremental sync cancelled")
		}
	}
}

// ===== Crawl =====

// crawlActivityOptions mirrors the unit options with a longer deadline:
// a crawl drains an entire site in one unit.
var crawlActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 4 * time.Hour,
	HeartbeatTimeout:    2 * time.Minute,
	WaitForCancellation: true,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    5 * time.Minute,
		MaximumAttempts:    20,
		NonRetryableErrorTypes: []string{
			ErrTypeAuth,
			ErrTypePermanentItem,
		},
	},
}

// CrawlWorkflow syncs a single seed unit, typically a webcrawler site.
// Cancellation stops the crawl between pages and leaves the cursor in
// place so the next crawl resumes instead of starting over.
func CrawlWorkflow(ctx workflow.Context, input CrawlInput) (*CrawlResult, error) {
	logger := workflow.GetLogger(ctx)
	actCtx := workflow.WithActivityOptions(ctx, defaultActivityOptions)

	var started StartSyncPassOutput
	if err := workflow.ExecuteActivity(actCtx, "StartSyncPass", StartSyncPassInput{
		ConnectorID: input.ConnectorID,
	}).Get(ctx, &started); err != nil {
		return nil, err
	}

	unit := provider.Unit{ID: input.SeedID, Title: input.SeedName, Kind: hierarchy.KindFolder}
	if unit.Title == "" {
		unit.Title = input.SeedID
	}

	var res SyncUnitResult
	err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, crawlActivityOptions),
		"SyncUnit", SyncUnitInput{
			ConnectorID:      input.ConnectorID,
			PassID:           started.PassID,
			Unit:             unit,
			PageSize:         input.PageSize,
			RestartExhausted: true,
		}).Get(ctx, &res)

	result := &CrawlResult{
		PassID:         started.PassID,
		ItemsProcessed: res.ItemsProcessed,
		ItemsSkipped:   res.ItemsSkipped,
		LastCursor:     res.LastCursor,
	}

	if err != nil && !temporal.IsCanceledError(err) {
		if _, ferr := failSyncPass(ctx, input.ConnectorID, started.PassID, &SyncProgress{}, err); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}
	if res.Cancelled || temporal.IsCanceledError(err) || ctx.Err() != nil {
		// No result payload survives a cancelled workflow; the stored
		// seed cursor is the resume source for the next crawl.
		logger.Info("Crawl cancelled, cursor kept for resume",
			"connectorId", input.ConnectorID, "cursor", res.LastCursor)
		return nil, temporal.NewCanceledError("crawl cancelled")
	}

	if err := workflow.ExecuteActivity(actCtx, "MarkSyncSucceeded", MarkSyncSucceededInput{
		ConnectorID: input.ConnectorID,
	}).Get(ctx, nil); err != nil {
		return nil, err
	}
	return result, nil
}

// ===== Permissions =====

// SetPermissionWorkflow cascades one permission change and then runs a
// reconciliation sweep to repair any earlier interrupted cascade.
func SetPermissionWorkflow(ctx workflow.Context, input CascadeInput) (*CascadeOutput, error) {
	actCtx := workflow.WithActivityOptions(ctx, defaultActivityOptions)

	var out CascadeOutput
	if err := workflow.ExecuteActivity(actCtx, "CascadePermission", input).Get(ctx, &out); err != nil {
		return nil, err
	}
	var rec ReconcileOutput
	if err := workflow.ExecuteActivity(actCtx, "ReconcilePermissions", ReconcileInput{
		ConnectorID: input.ConnectorID,
	}).Get(ctx, &rec); err != nil {
		return nil, err
	}
	out.Reconciled = rec.Updated
	return &out, nil
}
