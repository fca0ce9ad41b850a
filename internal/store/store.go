package store

import (
	"context"
	"errors"

	"github.com/nhle/redmine-bridge/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// IssueFilter controls which issue log entries are returned.
type IssueFilter struct {
	ConnectionID *string // restrict to one connection, or nil (all)
	Origin       *string // "cli", "http", "mail", or nil (all)
	Limit        int     // 0 means the default of 20
}

// Store defines the persistence interface for tracker connections and the
// log of issues created through them. API keys are never stored here.
type Store interface {
	// === Connections ===

	UpsertConnection(ctx context.Context, cfg model.ConnectionConfig) (model.ConnectionConfig, error)
	GetConnections(ctx context.Context) ([]model.ConnectionConfig, error)
	GetConnection(ctx context.Context, id string) (*model.ConnectionConfig, error)
	GetConnectionByURL(ctx context.Context, baseURL string) (*model.ConnectionConfig, error)
	GetConnectionByName(ctx context.Context, name string) (*model.ConnectionConfig, error)
	DeleteConnection(ctx context.Context, id string) error

	// === Issue log ===

	RecordIssue(ctx context.Context, entry model.IssueLogEntry) error
	GetRecentIssues(ctx context.Context, filter IssueFilter) ([]model.IssueLogEntry, error)

	Close() error
}
