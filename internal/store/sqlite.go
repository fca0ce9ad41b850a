package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/redmine-bridge/internal/model"
)

const defaultIssueLimit = 20

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: pragmas are per connection and ":memory:" databases
	// are not shared between connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const connectionColumns = `id, name, base_url,
	default_project_id, default_tracker_id, default_priority_id,
	credential_key, created_at, updated_at`

// UpsertConnection inserts or updates a connection in one transaction.
// A connection without an ID takes over the row already registered for
// its base URL, if any; otherwise a new UUID is generated.
func (s *SQLiteStore) UpsertConnection(
	ctx context.Context,
	cfg model.ConnectionConfig,
) (model.ConnectionConfig, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.ConnectionConfig{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existing model.ConnectionConfig
	err = tx.GetContext(ctx, &existing,
		"SELECT "+connectionColumns+" FROM connections WHERE base_url = ?", cfg.BaseURL)
	switch {
	case err == nil:
		if cfg.ID == "" {
			cfg.ID = existing.ID
		}
		if cfg.ID != existing.ID {
			// Another connection already owns this URL; the newer one replaces it.
			if _, err := tx.ExecContext(ctx, "DELETE FROM connections WHERE id = ?", existing.ID); err != nil {
				return model.ConnectionConfig{}, fmt.Errorf("replacing connection %s: %w", existing.ID, err)
			}
		}
		if cfg.CreatedAt.IsZero() {
			cfg.CreatedAt = existing.CreatedAt
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return model.ConnectionConfig{}, fmt.Errorf("looking up connection for %s: %w", cfg.BaseURL, err)
	}

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO connections (
			id, name, base_url,
			default_project_id, default_tracker_id, default_priority_id,
			credential_key, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			base_url = excluded.base_url,
			default_project_id = excluded.default_project_id,
			default_tracker_id = excluded.default_tracker_id,
			default_priority_id = excluded.default_priority_id,
			credential_key = excluded.credential_key,
			updated_at = excluded.updated_at`,
		cfg.ID, cfg.Name, cfg.BaseURL,
		cfg.DefaultProjectID, cfg.DefaultTrackerID, cfg.DefaultPriorityID,
		cfg.CredentialKey, cfg.CreatedAt.UTC(), cfg.UpdatedAt,
	)
	if err != nil {
		return model.ConnectionConfig{}, fmt.Errorf("upserting connection %s: %w", cfg.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.ConnectionConfig{}, fmt.Errorf("committing connection %s: %w", cfg.ID, err)
	}

	return cfg, nil
}

// GetConnections retrieves all connections ordered by name.
func (s *SQLiteStore) GetConnections(ctx context.Context) ([]model.ConnectionConfig, error) {
	var conns []model.ConnectionConfig
	err := s.db.SelectContext(ctx, &conns,
		"SELECT "+connectionColumns+" FROM connections ORDER BY name, created_at")
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	return conns, nil
}

// GetConnection retrieves a single connection by ID.
func (s *SQLiteStore) GetConnection(ctx context.Context, id string) (*model.ConnectionConfig, error) {
	return s.getConnection(ctx, "id", id)
}

// GetConnectionByURL retrieves the connection registered for baseURL.
func (s *SQLiteStore) GetConnectionByURL(ctx context.Context, baseURL string) (*model.ConnectionConfig, error) {
	return s.getConnection(ctx, "base_url", baseURL)
}

// GetConnectionByName retrieves the oldest connection with the given name.
func (s *SQLiteStore) GetConnectionByName(ctx context.Context, name string) (*model.ConnectionConfig, error) {
	return s.getConnection(ctx, "name", name)
}

func (s *SQLiteStore) getConnection(ctx context.Context, column, value string) (*model.ConnectionConfig, error) {
	var cfg model.ConnectionConfig
	err := s.db.GetContext(ctx, &cfg,
		"SELECT "+connectionColumns+" FROM connections WHERE "+column+" = ? ORDER BY created_at LIMIT 1",
		value,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection %s=%q: %w", column, value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting connection %s=%q: %w", column, value, err)
	}
	return &cfg, nil
}

// DeleteConnection removes a connection and its issue log.
func (s *SQLiteStore) DeleteConnection(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM connections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting connection %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordIssue appends an entry to the issue log.
func (s *SQLiteStore) RecordIssue(ctx context.Context, entry model.IssueLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Origin == "" {
		entry.Origin = model.OriginCLI
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issue_log (id, connection_id, issue_id, project_id, subject, url, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ConnectionID, entry.IssueID, entry.ProjectID,
		entry.Subject, entry.URL, entry.Origin, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording issue %d: %w", entry.IssueID, err)
	}
	return nil
}

// GetRecentIssues returns issue log entries, newest first.
func (s *SQLiteStore) GetRecentIssues(
	ctx context.Context,
	filter IssueFilter,
) ([]model.IssueLogEntry, error) {
	var conditions []string
	var args []interface{}

	if filter.ConnectionID != nil {
		conditions = append(conditions, "connection_id = ?")
		args = append(args, *filter.ConnectionID)
	}
	if filter.Origin != nil {
		conditions = append(conditions, "origin = ?")
		args = append(args, *filter.Origin)
	}

	query := `SELECT id, connection_id, issue_id, project_id, subject, url, origin, created_at
		FROM issue_log`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultIssueLimit
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, rowid DESC LIMIT %d", limit)

	var entries []model.IssueLogEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("querying issue log: %w", err)
	}
	return entries, nil
}
