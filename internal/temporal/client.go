package temporal

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/spolu/ingestd/internal/config"
	"github.com/spolu/ingestd/internal/hierarchy"
	"github.com/spolu/ingestd/internal/provider"
)

// Client wraps the Temporal client with the workflow-id conventions and
// start semantics used by the control plane.
type Client struct {
	temporal           client.Client
	taskQueue          string
	maxConcurrentUnits int
	pageSize           int
}

// NewClient dials the Temporal frontend configured in cfg.
func NewClient(cfg *config.Config) (*Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing temporal: %w", err)
	}
	return &Client{
		temporal:           c,
		taskQueue:          cfg.TemporalTaskQueue,
		maxConcurrentUnits: cfg.MaxConcurrentUnits,
		pageSize:           cfg.PageSize,
	}, nil
}

func (c *Client) syncInput(kind provider.Kind, connectorID string) SyncInput {
	return SyncInput{
		ConnectorID:        connectorID,
		Provider:           kind,
		MaxConcurrentUnits: c.maxConcurrentUnits,
		PageSize:           c.pageSize,
	}
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.temporal.Close()
}

// WorkflowID builds the deterministic workflow id for a connector. One
// id per (provider, mode, connector) means at most one live execution
// per sync mode.
func WorkflowID(kind provider.Kind, fullSync bool, connectorID string) string {
	mode := "sync"
	if fullSync {
		mode = "fullsync"
	}
	return fmt.Sprintf("%s-%s-%s", kind, mode, connectorID)
}

// StartFullSync launches a full sync pass, terminating any stale
// execution still holding the workflow id. A missing execution is not
// an error.
func (c *Client) StartFullSync(ctx context.Context, kind provider.Kind, connectorID string) (client.WorkflowRun, error) {
	workflowID := WorkflowID(kind, true, connectorID)

	err := c.temporal.TerminateWorkflow(ctx, workflowID, "", "superseded by new full sync")
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("terminating stale execution %s: %w", workflowID, err)
	}

	run, err := c.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: c.taskQueue,
	}, FullSyncWorkflow, c.syncInput(kind, connectorID))
	if err != nil {
		return nil, fmt.Errorf("starting full sync %s: %w", workflowID, err)
	}
	return run, nil
}

// EnsureIncrementalSync starts the long-running incremental sync
// workflow for a connector if it is not already running, and requests
// one pass either way. Signal-with-start makes the two cases one call.
func (c *Client) EnsureIncrementalSync(ctx context.Context, kind provider.Kind, connectorID string) (client.WorkflowRun, error) {
	workflowID := WorkflowID(kind, false, connectorID)
	run, err := c.temporal.SignalWithStartWorkflow(ctx, workflowID, SignalResyncRequested, nil,
		client.StartWorkflowOptions{
			ID:        workflowID,
			TaskQueue: c.taskQueue,
		}, IncrementalSyncWorkflow, c.syncInput(kind, connectorID))
	if err != nil {
		return nil, fmt.Errorf("starting incremental sync %s: %w", workflowID, err)
	}
	return run, nil
}

// StartCrawl launches a crawl of one seed, superseding a stale run the
// same way full sync does.
func (c *Client) StartCrawl(ctx context.Context, kind provider.Kind, connectorID, seedID string) (client.WorkflowRun, error) {
	workflowID := WorkflowID(kind, true, connectorID)

	err := c.temporal.TerminateWorkflow(ctx, workflowID, "", "superseded by new crawl")
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("terminating stale execution %s: %w", workflowID, err)
	}

	run, err := c.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: c.taskQueue,
	}, CrawlWorkflow, CrawlInput{ConnectorID: connectorID, Provider: kind, SeedID: seedID, PageSize: c.pageSize})
	if err != nil {
		return nil, fmt.Errorf("starting crawl %s: %w", workflowID, err)
	}
	return run, nil
}

// RequestResync signals the incremental sync workflow to run another
// pass. Fire and forget: concurrent requests coalesce workflow-side.
func (c *Client) RequestResync(ctx context.Context, kind provider.Kind, connectorID string) error {
	workflowID := WorkflowID(kind, false, connectorID)
	if err := c.temporal.SignalWorkflow(ctx, workflowID, "", SignalResyncRequested, nil); err != nil {
		return fmt.Errorf("signaling %s: %w", workflowID, err)
	}
	return nil
}

// CancelSync requests cooperative cancellation of a connector's sync
// workflows. In-flight unit activities stop at the next page boundary
// with their cursors intact.
func (c *Client) CancelSync(ctx context.Context, kind provider.Kind, connectorID string) error {
	var errs []error
	for _, fullSync := range []bool{true, false} {
		workflowID := WorkflowID(kind, fullSync, connectorID)
		if err := c.temporal.CancelWorkflow(ctx, workflowID, ""); err != nil && !isNotFound(err) {
			errs = append(errs, fmt.Errorf("cancelling %s: %w", workflowID, err))
		}
	}
	return errors.Join(errs...)
}

// SetPermission runs the permission cascade workflow and waits for it.
func (c *Client) SetPermission(ctx context.Context, connectorID, internalID string, perm hierarchy.Permission) (*CascadeOutput, error) {
	run, err := c.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("set-permission-%s-%s", connectorID, internalID),
		TaskQueue: c.taskQueue,
	}, SetPermissionWorkflow, CascadeInput{
		ConnectorID: connectorID,
		InternalID:  internalID,
		Permission:  perm,
	})
	if err != nil {
		return nil, fmt.Errorf("starting permission cascade: %w", err)
	}
	var out CascadeOutput
	if err := run.Get(ctx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryProgress fetches the live progress of a sync workflow.
func (c *Client) QueryProgress(ctx context.Context, kind provider.Kind, fullSync bool, connectorID string) (*SyncProgress, error) {
	val, err := c.temporal.QueryWorkflow(ctx, WorkflowID(kind, fullSync, connectorID), "", QuerySyncProgress)
	if err != nil {
		return nil, fmt.Errorf("querying progress: %w", err)
	}
	var progress SyncProgress
	if err := val.Get(&progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

func isNotFound(err error) bool {
	var notFound *serviceerror.NotFound
	return errors.As(err, &notFound)
}
