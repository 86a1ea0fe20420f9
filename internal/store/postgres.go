package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/spolu/ingestd/internal/hierarchy"
)

// PostgresStore implements Store backed by Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to Postgres and runs pending migrations.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := MigrateUp(db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB reuses an existing *sql.DB.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if err := MigrateUp(db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// =============================================================================
// CONNECTORS
// =============================================================================

func (s *PostgresStore) CreateConnector(ctx context.Context, c *ConnectorInstance) error {
	connection, err := json.Marshal(c.Connection)
	if err != nil {
		return fmt.Errorf("failed to encode connection ref: %w", err)
	}
	status := c.Status
	if status == "" {
		status = ConnectorStatusRunning
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connectors (id, provider, connection, status, sync_status)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.Provider, connection, status, c.SyncStatus)
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConnector(ctx context.Context, connectorID string) (*ConnectorInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, connection, status, sync_status, last_sync_start,
		       last_sync_finish, last_error, created_at, updated_at
		FROM connectors
		WHERE id = $1
	`, connectorID)

	var c ConnectorInstance
	var connection []byte
	var syncStatus, lastError sql.NullString
	var lastStart, lastFinish sql.NullTime
	err := row.Scan(&c.ID, &c.Provider, &connection, &c.Status, &syncStatus,
		&lastStart, &lastFinish, &lastError, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connector: %w", err)
	}
	if len(connection) > 0 {
		_ = json.Unmarshal(connection, &c.Connection)
	}
	c.SyncStatus = SyncStatus(syncStatus.String)
	c.LastError = lastError.String
	if lastStart.Valid {
		t := lastStart.Time
		c.LastSyncStart = &t
	}
	if lastFinish.Valid {
		t := lastFinish.Time
		c.LastSyncFinish = &t
	}
	return &c, nil
}

func (s *PostgresStore) UpdateConnectorStatus(ctx context.Context, connectorID string, status ConnectorStatus) error {
	return s.execOne(ctx, `
		UPDATE connectors SET status = $2, updated_at = NOW() WHERE id = $1
	`, connectorID, status)
}

func (s *PostgresStore) MarkSyncStarted(ctx context.Context, connectorID string) error {
	return s.execOne(ctx, `
		UPDATE connectors
		SET sync_status = $2, last_sync_start = NOW(), last_error = '', updated_at = NOW()
		WHERE id = $1
	`, connectorID, SyncStatusRunning)
}

func (s *PostgresStore) MarkSyncSucceeded(ctx context.Context, connectorID string) error {
	return s.execOne(ctx, `
		UPDATE connectors
		SET sync_status = $2, last_sync_finish = NOW(), updated_at = NOW()
		WHERE id = $1
	`, connectorID, SyncStatusSucceeded)
}

func (s *PostgresStore) MarkSyncFailed(ctx context.Context, connectorID string, syncStatus SyncStatus, lastError string) error {
	status := ConnectorStatusError
	if syncStatus == SyncStatusNeedsReauth {
		status = ConnectorStatusPaused
	}
	if len(lastError) > 500 {
		lastError = lastError[:500]
	}
	return s.execOne(ctx, `
		UPDATE connectors
		SET sync_status = $2, status = $3, last_sync_finish = NOW(), last_error = $4, updated_at = NOW()
		WHERE id = $1
	`, connectorID, syncStatus, status, lastError)
}

func (s *PostgresStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update connector: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// UNIT CURSORS
// =============================================================================

func (s *PostgresStore) GetCursor(ctx context.Context, connectorID, unitID string) (*SyncUnitState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cursor, items_synced, updated_at
		FROM sync_units
		WHERE connector_id = $1 AND unit_id = $2
	`, connectorID, unitID)

	state := SyncUnitState{ConnectorID: connectorID, UnitID: unitID}
	var cursor sql.NullString
	err := row.Scan(&cursor, &state.ItemsSynced, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return &state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if cursor.Valid {
		v := cursor.String
		state.Cursor = &v
	}
	return &state, nil
}

func (s *PostgresStore) SetCursor(ctx context.Context, connectorID, unitID string, cursor *string, itemsDelta int64) error {
	var value sql.NullString
	if cursor != nil {
		value = sql.NullString{String: *cursor, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_units (connector_id, unit_id, cursor, items_synced, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (connector_id, unit_id) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			items_synced = sync_units.items_synced + EXCLUDED.items_synced,
			updated_at = NOW()
	`, connectorID, unitID, value, itemsDelta)
	if err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetCursors(ctx context.Context, connectorID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_units
		SET cursor = NULL, items_synced = 0, updated_at = NOW()
		WHERE connector_id = $1
	`, connectorID)
	if err != nil {
		return fmt.Errorf("failed to reset cursors: %w", err)
	}
	return nil
}

// =============================================================================
// CONTENT NODES
// =============================================================================

func (s *PostgresStore) UpsertNode(ctx context.Context, node *ContentNode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_nodes (
			connector_id, internal_id, parent_internal_id, kind, permission,
			title, source_url, last_updated_at, last_seen_pass_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (connector_id, internal_id) DO UPDATE SET
			parent_internal_id = EXCLUDED.parent_internal_id,
			kind = EXCLUDED.kind,
			permission = EXCLUDED.permission,
			title = EXCLUDED.title,
			source_url = EXCLUDED.source_url,
			last_updated_at = EXCLUDED.last_updated_at,
			last_seen_pass_id = EXCLUDED.last_seen_pass_id
	`, node.ConnectorID, node.InternalID, node.ParentInternalID, node.Kind,
		node.Permission, node.Title, node.SourceURL, node.LastUpdatedAt, node.LastSeenPassID)
	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNode(ctx context.Context, connectorID, internalID string) (*ContentNode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT connector_id, internal_id, parent_internal_id, kind, permission,
		       title, source_url, last_updated_at, last_seen_pass_id
		FROM content_nodes
		WHERE connector_id = $1 AND internal_id = $2
	`, connectorID, internalID)
	return scanNode(row)
}

func (s *PostgresStore) GetParent(ctx context.Context, connectorID, internalID string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT parent_internal_id FROM content_nodes
		WHERE connector_id = $1 AND internal_id = $2
	`, connectorID, internalID)

	var parent string
	err := row.Scan(&parent)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get parent: %w", err)
	}
	return parent, true, nil
}

func (s *PostgresStore) ListNodes(ctx context.Context, connectorID string) ([]ContentNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT connector_id, internal_id, parent_internal_id, kind, permission,
		       title, source_url, last_updated_at, last_seen_pass_id
		FROM content_nodes
		WHERE connector_id = $1
	`, connectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []ContentNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

// ApplyPermissionUpdates runs the whole cascade in one transaction so a
// partial failure leaves no visible intermediate state.
func (s *PostgresStore) ApplyPermissionUpdates(ctx context.Context, connectorID string, updates []hierarchy.PermissionUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cascade: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		res, err := tx.ExecContext(ctx, `
			UPDATE content_nodes SET permission = $3
			WHERE connector_id = $1 AND internal_id = $2
		`, connectorID, u.InternalID, u.Permission)
		if err != nil {
			return fmt.Errorf("failed to update permission for %s: %w", u.InternalID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("node %s: %w", u.InternalID, ErrNotFound)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) DeleteNodesNotSeen(ctx context.Context, connectorID, passID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM content_nodes
		WHERE connector_id = $1 AND last_seen_pass_id <> $2
		RETURNING internal_id
	`, connectorID, passID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete vanished nodes: %w", err)
	}
	defer rows.Close()

	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		deleted = append(deleted, id)
	}
	return deleted, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanNode(row scannable) (*ContentNode, error) {
	var n ContentNode
	var parent, sourceURL, passID sql.NullString
	err := row.Scan(&n.ConnectorID, &n.InternalID, &parent, &n.Kind, &n.Permission,
		&n.Title, &sourceURL, &n.LastUpdatedAt, &passID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}
	n.ParentInternalID = parent.String
	n.SourceURL = sourceURL.String
	n.LastSeenPassID = passID.String
	return &n, nil
}

// compile-time interface checks
var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
