package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ID is a tracker identifier that accepts either a JSON string or a JSON
// number, since automation payloads use both for numeric ids.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// IssueRequest is a single invocation of the create-issue action. Empty
// optional fields fall back to the connection defaults.
type IssueRequest struct {
	Subject     string `json:"subject"`
	ProjectID   ID     `json:"project_id,omitempty"`
	TrackerID   ID     `json:"tracker_id,omitempty"`
	PriorityID  ID     `json:"priority_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// ResolvedIssue carries the effective fields sent to the tracker after
// defaults have been merged in. Zero tracker/priority ids mean "unset".
type ResolvedIssue struct {
	ProjectID   string
	Subject     string
	TrackerID   int
	PriorityID  int
	Description string
}

// CreatedIssue is the result of a successful action.
type CreatedIssue struct {
	ID  int    `json:"id"`
	URL string `json:"url,omitempty"`
}

// IssueLogEntry records an issue created through this bridge.
type IssueLogEntry struct {
	ID           string    `json:"id" db:"id"`
	ConnectionID string    `json:"connection_id" db:"connection_id"`
	IssueID      int       `json:"issue_id" db:"issue_id"`
	ProjectID    string    `json:"project_id" db:"project_id"`
	Subject      string    `json:"subject" db:"subject"`
	URL          string    `json:"url" db:"url"`
	Origin       string    `json:"origin" db:"origin"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Origins of an action invocation, recorded in the issue log.
const (
	OriginCLI  = "cli"
	OriginHTTP = "http"
	OriginMail = "mail"
)
