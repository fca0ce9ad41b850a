package model

import (
	"net/url"
	"time"
)

// ConnectionConfig is the persisted outcome of a setup session: where the
// tracker lives, how to authenticate, and which metadata to use when an
// action does not name its own.
type ConnectionConfig struct {
	// ID is the unique identifier for this connection.
	ID string `json:"id" db:"id"`

	// Name is the operator-facing label.
	Name string `json:"name" db:"name"`

	// BaseURL is the normalized root URL of the tracker (no trailing slash).
	BaseURL string `json:"base_url" db:"base_url"`

	// APIKey authenticates every request. It lives in the keyring and is
	// never serialized alongside the rest of the connection.
	APIKey string `json:"-" db:"-"`

	// CredentialKey names the keyring entry holding APIKey. Each save
	// writes a fresh entry, so the row decides which key is current.
	CredentialKey string `json:"-" db:"credential_key"`

	DefaultProjectID  string `json:"default_project_id,omitempty" db:"default_project_id"`
	DefaultTrackerID  string `json:"default_tracker_id,omitempty" db:"default_tracker_id"`
	DefaultPriorityID string `json:"default_priority_id,omitempty" db:"default_priority_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultName returns the label used when the operator does not pick one,
// e.g. "Redmine (redmine.example.com)".
func DefaultName(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "Redmine"
	}
	return "Redmine (" + u.Host + ")"
}

// Option is one selectable piece of tracker metadata.
type Option struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`

	// IsDefault marks the entry the tracker itself treats as the default
	// (only reported for priorities).
	IsDefault bool `json:"is_default,omitempty"`
}

// DiscoveryResult holds the metadata fetched during a single setup session.
// It is never persisted.
type DiscoveryResult struct {
	Projects   []Option `json:"projects"`
	Trackers   []Option `json:"trackers"`
	Priorities []Option `json:"priorities"`
}

// Contains reports whether id appears in opts.
func Contains(opts []Option, id string) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}

// Dedupe drops options whose id was already seen, keeping the first
// occurrence and the original order.
func Dedupe(opts []Option) []Option {
	seen := make(map[string]struct{}, len(opts))
	out := make([]Option, 0, len(opts))
	for _, o := range opts {
		if _, ok := seen[o.ID]; ok {
			continue
		}
		seen[o.ID] = struct{}{}
		out = append(out, o)
	}
	return out
}
