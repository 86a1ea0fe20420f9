package temporal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/spolu/ingestd/internal/hierarchy"
	"github.com/spolu/ingestd/internal/index"
	"github.com/spolu/ingestd/internal/provider"
	"github.com/spolu/ingestd/internal/store"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeAdapter implements provider.Adapter against canned pages keyed by
// unit id and cursor. A unit listed in blocking holds its fetch until
// the activity context is cancelled, for cancellation tests.
type fakeAdapter struct {
	kind     provider.Kind
	units    []provider.Unit
	pages    map[string]map[string]provider.Page
	unitErrs map[string]error
	listErr  error
	blocking map[string]provider.Page // "unitID|cursor"
}

func (f *fakeAdapter) Kind() provider.Kind { return f.kind }

func (f *fakeAdapter) ListUnits(ctx context.Context, ref provider.ConnectionRef) ([]provider.Unit, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.units, nil
}

func (f *fakeAdapter) FetchPage(ctx context.Context, ref provider.ConnectionRef, unitID, cursor string, limit int) (*provider.Page, error) {
	if err := f.unitErrs[unitID]; err != nil {
		return nil, err
	}
	if page, ok := f.blocking[unitID+"|"+cursor]; ok {
		<-ctx.Done()
		p := page
		return &p, nil
	}
	if page, ok := f.pages[unitID][cursor]; ok {
		p := page
		return &p, nil
	}
	return &provider.Page{}, nil
}

func (f *fakeAdapter) GetAccessToken(ctx context.Context, ref provider.ConnectionRef) (string, error) {
	return "test-token", nil
}

// countingStore counts sync pass starts on top of the real store, to
// observe how many passes a workflow ran.
type countingStore struct {
	store.Store
	mu         sync.Mutex
	syncStarts int
}

func (c *countingStore) MarkSyncStarted(ctx context.Context, connectorID string) error {
	c.mu.Lock()
	c.syncStarts++
	c.mu.Unlock()
	return c.Store.MarkSyncStarted(ctx, connectorID)
}

func (c *countingStore) SyncStarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncStarts
}

type syncFixture struct {
	store *countingStore
	index *index.MemoryIndex
	acts  *Activities
}

func newSyncFixture(t *testing.T, adapter *fakeAdapter) *syncFixture {
	t.Helper()
	st := &countingStore{Store: store.NewMemoryStore()}
	idx := index.NewMemoryIndex()
	registry := provider.NewRegistry()
	registry.Register(adapter)

	require.NoError(t, st.CreateConnector(context.Background(), &store.ConnectorInstance{
		ID:       "c1",
		Provider: adapter.kind,
		Status:   store.ConnectorStatusRunning,
	}))
	acts := NewActivities(st, idx, registry, 100)
	// Tight heartbeats so cancellation reaches blocked fetches quickly.
	acts.heartbeatInterval = 10 * time.Millisecond
	return &syncFixture{store: st, index: idx, acts: acts}
}

func item(nativeID, title string) provider.Item {
	return provider.Item{
		NativeID:  nativeID,
		Kind:      hierarchy.KindFile,
		Title:     title,
		UpdatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// FULL SYNC
// =============================================================================

func TestFullSyncWorkflow(t *testing.T) {
	adapter := &fakeAdapter{
		kind: provider.KindConfluence,
		units: []provider.Unit{
			{ID: "space1", Title: "Space One", Kind: hierarchy.KindFolder},
			{ID: "space2", Title: "Space Two", Kind: hierarchy.KindFolder},
		},
		pages: map[string]map[string]provider.Page{
			"space1": {
				"":   {Items: []provider.Item{item("d1", "Doc 1"), item("d2", "Doc 2")}, NextCursor: "p2"},
				"p2": {Items: []provider.Item{item("d3", "Doc 3")}},
			},
			"space2": {
				"": {},
			},
		},
	}
	f := newSyncFixture(t, adapter)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(FullSyncWorkflow)
	env.RegisterActivity(f.acts)

	env.ExecuteWorkflow(FullSyncWorkflow, SyncInput{ConnectorID: "c1", Provider: provider.KindConfluence})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SyncResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, store.SyncStatusSucceeded, result.Status)
	require.Equal(t, int64(3), result.TotalCount)
	require.Equal(t, 2, result.UnitsSynced)
	require.Empty(t, result.UnitsFailed)

	ctx := context.Background()
	conn, err := f.store.GetConnector(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, store.SyncStatusSucceeded, conn.SyncStatus)

	for _, unitID := range []string{"space1", "space2"} {
		state, err := f.store.GetCursor(ctx, "c1", unitID)
		require.NoError(t, err)
		require.True(t, state.CursorExhausted(), "unit %s should be exhausted", unitID)
	}

	// Three documents plus two space containers reached the index.
	docID := hierarchy.InternalID("c1", hierarchy.KindFile, "d3")
	doc, ok := f.index.Document(docID)
	require.True(t, ok)
	require.Equal(t, "Doc 3", doc.Title)
	spaceID := hierarchy.InternalID("c1", hierarchy.KindFolder, "space1")
	require.Equal(t, []string{docID, spaceID, hierarchy.RootID("c1")}, doc.Parents)
}

func TestFullSyncWorkflowIdempotentRerun(t *testing.T) {
	adapter := &fakeAdapter{
		kind:  provider.KindConfluence,
		units: []provider.Unit{{ID: "space1", Title: "Space One", Kind: hierarchy.KindFolder}},
		pages: map[string]map[string]provider.Page{
			"space1": {"": {Items: []provider.Item{item("d1", "Doc 1")}}},
		},
	}
	f := newSyncFixture(t, adapter)

	var ts testsuite.WorkflowTestSuite
	for i := 0; i < 2; i++ {
		env := ts.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(FullSyncWorkflow)
		env.RegisterActivity(f.acts)
		env.ExecuteWorkflow(FullSyncWorkflow, SyncInput{ConnectorID: "c1", Provider: provider.KindConfluence})
		require.NoError(t, env.GetWorkflowError())
	}

	nodes, err := f.store.ListNodes(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, nodes, 2) // container + one document, no duplicates
}

func TestFullSyncWorkflowAuthFailureAbortsPass(t *testing.T) {
	adapter := &fakeAdapter{
		kind: provider.KindConfluence,
		units: []provider.Unit{
			{ID: "good", Title: "Good", Kind: hierarchy.KindFolder},
			{ID: "bad", Title: "Bad", Kind: hierarchy.KindFolder},
		},
		pages: map[string]map[string]provider.Page{
			"good": {"": {Items: []provider.Item{item("d1", "Doc 1")}}},
		},
		unitErrs: map[string]error{
			"bad": &provider.StatusError{Provider: provider.KindConfluence, StatusCode: 401, Message: "token expired"},
		},
	}
	f := newSyncFixture(t, adapter)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(FullSyncWorkflow)
	env.RegisterActivity(f.acts)

	env.ExecuteWorkflow(FullSyncWorkflow, SyncInput{ConnectorID: "c1", Provider: provider.KindConfluence})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SyncResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, store.SyncStatusNeedsReauth, result.Status)

	ctx := context.Background()
	conn, err := f.store.GetConnector(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, store.SyncStatusNeedsReauth, conn.SyncStatus)
	require.Equal(t, store.ConnectorStatusPaused, conn.Status)

	// The failed unit never advanced its cursor; the next pass starts
	// it from the beginning.
	state, err := f.store.GetCursor(ctx, "c1", "bad")
	require.NoError(t, err)
	require.Nil(t, state.Cursor)
}

func TestFullSyncWorkflowUnitFailureIsolated(t *testing.T) {
	adapter := &fakeAdapter{
		kind: provider.KindConfluence,
		units: []provider.Unit{
			{ID: "good", Title: "Good", Kind: hierarchy.KindFolder},
			{ID: "gone", Title: "Gone", Kind: hierarchy.KindFolder},
		},
		pages: map[string]map[string]provider.Page{
			"good": {"": {Items: []provider.Item{item("d1", "Doc 1")}}},
		},
		unitErrs: map[string]error{
			"gone": &provider.StatusError{Provider: provider.KindConfluence, StatusCode: 404, Message: "space deleted"},
		},
	}
	f := newSyncFixture(t, adapter)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(FullSyncWorkflow)
	env.RegisterActivity(f.acts)

	env.ExecuteWorkflow(FullSyncWorkflow, SyncInput{ConnectorID: "c1", Provider: provider.KindConfluence})

	require.NoError(t, env.GetWorkflowError())

	// A vanished unit is skipped, not failed: the pass still succeeds
	// and the good unit's items all land.
	var result SyncResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, store.SyncStatusSucceeded, result.Status)
	require.Equal(t, int64(1), result.TotalCount)
	require.Empty(t, result.UnitsFailed)
}

// =============================================================================
// INCREMENTAL SYNC
// =============================================================================

func TestIncrementalSyncCoalescesSignals(t *testing.T) {
	adapter := &fakeAdapter{
		kind:  provider.KindNotion,
		units: []provider.Unit{{ID: "db1", Title: "Database", Kind: hierarchy.KindDatabase}},
		pages: map[string]map[string]provider.Page{
			"db1": {"": {Items: []provider.Item{item("r1", "Row 1")}}},
		},
	}
	f := newSyncFixture(t, adapter)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(IncrementalSyncWorkflow)
	env.RegisterActivity(f.acts)

	// Three back-to-back resync requests while the workflow idles must
	// collapse into exactly one additional pass.
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalResyncRequested, nil)
		env.SignalWorkflow(SignalResyncRequested, nil)
		env.SignalWorkflow(SignalResyncRequested, nil)
	}, time.Minute)
	env.RegisterDelayedCallback(func() {
		env.CancelWorkflow()
	}, 10*time.Minute)

	env.ExecuteWorkflow(IncrementalSyncWorkflow, SyncInput{ConnectorID: "c1", Provider: provider.KindNotion})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.True(t, sdktemporal.IsCanceledError(err))

	require.Equal(t, 2, f.store.SyncStarts(), "initial pass plus one coalesced pass")
}

func TestIncrementalSyncResyncKeepsContent(t *testing.T) {
	adapter := &fakeAdapter{
		kind:  provider.KindNotion,
		units: []provider.Unit{{ID: "db1", Title: "Database", Kind: hierarchy.KindDatabase}},
		pages: map[string]map[string]provider.Page{
			"db1": {"": {Items: []provider.Item{item("r1", "Row 1")}}},
		},
	}
	f := newSyncFixture(t, adapter)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(IncrementalSyncWorkflow)
	env.RegisterActivity(f.acts)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalResyncRequested, nil)
	}, time.Minute)
	env.RegisterDelayedCallback(func() {
		env.CancelWorkflow()
	}, 10*time.Minute)

	env.ExecuteWorkflow(IncrementalSyncWorkflow, SyncInput{ConnectorID: "c1", Provider: provider.KindNotion})
	require.True(t, env.IsWorkflowCompleted())

	// The resync pass skips the exhausted unit; nothing it synced may
	// be reaped as vanished.
	require.Equal(t, 2, f.store.SyncStarts())
	nodes, err := f.store.ListNodes(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	_, ok := f.index.Document(hierarchy.InternalID("c1", hierarchy.KindFile, "r1"))
	require.True(t, ok, "document synced by the first pass must survive a resync pass")

	conn, err := f.store.GetConnector(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, store.SyncStatusSucceeded, conn.SyncStatus)
}

func TestIncrementalSyncKeepsCursorsBetweenPasses(t *testing.T) {
	adapter := &fakeAdapter{
		kind:  provider.KindNotion,
		units: []provider.Unit{{ID: "db1", Title: "Database", Kind: hierarchy.KindDatabase}},
		pages: map[string]map[string]provider.Page{
			"db1": {"": {Items: []provider.Item{item("r1", "Row 1")}, NextCursor: "delta-7"}},
		},
	}
	f := newSyncFixture(t, adapter)

	// Incremental passes must not reset cursors: a stored delta cursor
	// survives into the pass and the fetch starts from it.
	delta := "delta-7"
	require.NoError(t, f.store.SetCursor(context.Background(), "c1", "db1", &delta, 5))

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(IncrementalSyncWorkflow)
	env.RegisterActivity(f.acts)
	env.RegisterDelayedCallback(func() {
		env.CancelWorkflow()
	}, time.Minute)

	env.ExecuteWorkflow(IncrementalSyncWorkflow, SyncInput{ConnectorID: "c1", Provider: provider.KindNotion})

	state, err := f.store.GetCursor(context.Background(), "c1", "db1")
	require.NoError(t, err)
	// The canned pages have no entry for "delta-7", so the fetch
	// returned an exhausted page; starting from "" would have looped
	// back through the delta cursor instead.
	require.True(t, state.CursorExhausted())
	require.Equal(t, int64(5), state.ItemsSynced)
}

// =============================================================================
// CRAWL
// =============================================================================

func TestCrawlWorkflowCancelKeepsCursor(t *testing.T) {
	adapter := &fakeAdapter{
		kind: provider.KindWebcrawler,
		pages: map[string]map[string]provider.Page{
			"https://docs.example.com": {
				"": {Items: []provider.Item{item("page-1", "Page 1")}, NextCursor: "p2"},
			},
		},
		blocking: map[string]provider.Page{
			"https://docs.example.com|p2": {Items: []provider.Item{item("page-2", "Page 2")}, NextCursor: "p3"},
		},
	}
	f := newSyncFixture(t, adapter)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	// While an activity is running, delayed callbacks fire on the wall
	// clock, so the environment timeout must outlast the cancel delay.
	env.SetTestTimeout(2 * time.Minute)
	env.RegisterWorkflow(CrawlWorkflow)
	env.RegisterActivity(f.acts)
	env.RegisterDelayedCallback(func() {
		env.CancelWorkflow()
	}, time.Minute)

	env.ExecuteWorkflow(CrawlWorkflow, CrawlInput{
		ConnectorID: "c1",
		Provider:    provider.KindWebcrawler,
		SeedID:      "https://docs.example.com",
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.True(t, sdktemporal.IsCanceledError(err))

	// The test environment resolves the activity future as soon as the
	// workflow cancels, without honoring WaitForCancellation, so give
	// the real activity goroutine time to persist the final cursor.
	time.Sleep(500 * time.Millisecond)

	// The crawl stopped at a page boundary with its cursor persisted,
	// so the next crawl resumes at p3 instead of refetching the site.
	ctx := context.Background()
	state, err := f.store.GetCursor(ctx, "c1", "https://docs.example.com")
	require.NoError(t, err)
	require.NotNil(t, state.Cursor)
	require.Equal(t, "p3", *state.Cursor)
	require.False(t, state.CursorExhausted())

	// Pages fetched before the cancel are already indexed.
	_, ok := f.index.Document(hierarchy.InternalID("c1", hierarchy.KindFile, "page-1"))
	require.True(t, ok)
}

func TestCrawlWorkflowCompletes(t *testing.T) {
	adapter := &fakeAdapter{
		kind: provider.KindWebcrawler,
		pages: map[string]map[string]provider.Page{
			"https://docs.example.com": {
				"":   {Items: []provider.Item{item("page-1", "Page 1")}, NextCursor: "p2"},
				"p2": {Items: []provider.Item{item("page-2", "Page 2")}},
			},
		},
	}
	f := newSyncFixture(t, adapter)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(CrawlWorkflow)
	env.RegisterActivity(f.acts)

	env.ExecuteWorkflow(CrawlWorkflow, CrawlInput{
		ConnectorID: "c1",
		Provider:    provider.KindWebcrawler,
		SeedID:      "https://docs.example.com",
	})

	require.NoError(t, env.GetWorkflowError())
	var result CrawlResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, int64(2), result.ItemsProcessed)

	conn, err := f.store.GetConnector(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, store.SyncStatusSucceeded, conn.SyncStatus)
}

func TestCrawlWorkflowRefreshesFinishedSite(t *testing.T) {
	adapter := &fakeAdapter{
		kind: provider.KindWebcrawler,
		pages: map[string]map[string]provider.Page{
			"https://docs.example.com": {
				"": {Items: []provider.Item{item("page-1", "Page 1")}},
			},
		},
	}
	f := newSyncFixture(t, adapter)

	// The second crawl of an already-exhausted seed must start over,
	// not no-op: that is how a finished site gets refreshed.
	var ts testsuite.WorkflowTestSuite
	for i := 0; i < 2; i++ {
		env := ts.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(CrawlWorkflow)
		env.RegisterActivity(f.acts)
		env.ExecuteWorkflow(CrawlWorkflow, CrawlInput{
			ConnectorID: "c1",
			Provider:    provider.KindWebcrawler,
			SeedID:      "https://docs.example.com",
		})
		require.NoError(t, env.GetWorkflowError())

		var result CrawlResult
		require.NoError(t, env.GetWorkflowResult(&result))
		require.Equal(t, int64(1), result.ItemsProcessed, "crawl %d", i+1)
	}
}

// =============================================================================
// PERMISSIONS
// =============================================================================

func TestSetPermissionWorkflowRevokesSubtree(t *testing.T) {
	adapter := &fakeAdapter{kind: provider.KindGoogleDrive}
	f := newSyncFixture(t, adapter)

	ctx := context.Background()
	folderID := hierarchy.InternalID("c1", hierarchy.KindFolder, "f1")
	childID := hierarchy.InternalID("c1", hierarchy.KindFile, "doc1")
	require.NoError(t, f.store.UpsertNode(ctx, &store.ContentNode{
		ConnectorID: "c1", InternalID: folderID,
		ParentInternalID: hierarchy.RootID("c1"),
		Kind:             hierarchy.KindFolder, Permission: hierarchy.PermissionRead, Title: "Folder",
	}))
	require.NoError(t, f.store.UpsertNode(ctx, &store.ContentNode{
		ConnectorID: "c1", InternalID: childID,
		ParentInternalID: folderID,
		Kind:             hierarchy.KindFile, Permission: hierarchy.PermissionRead, Title: "Doc",
	}))

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(SetPermissionWorkflow)
	env.RegisterActivity(f.acts)

	env.ExecuteWorkflow(SetPermissionWorkflow, CascadeInput{
		ConnectorID: "c1",
		InternalID:  folderID,
		Permission:  hierarchy.PermissionNone,
	})

	require.NoError(t, env.GetWorkflowError())
	var out CascadeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, 2, out.Updated)
	require.Equal(t, 0, out.Reconciled)

	for _, id := range []string{folderID, childID} {
		node, err := f.store.GetNode(ctx, "c1", id)
		require.NoError(t, err)
		require.Equal(t, hierarchy.PermissionNone, node.Permission)
	}
}
