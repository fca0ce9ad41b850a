package redmine

// User is the authenticated account returned by /users/current.json.
type User struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

// CurrentUserResponse is the response from GET /users/current.json.
type CurrentUserResponse struct {
	User *User `json:"user"`
}

// Reference is a nested {id, name} pair.
type Reference struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Project status values reported by Redmine.
const (
	ProjectStatusActive   = 1
	ProjectStatusClosed   = 5
	ProjectStatusArchived = 9
)

// Project represents a Redmine project.
type Project struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	Identifier string     `json:"identifier"`
	Status     int        `json:"status"`
	Parent     *Reference `json:"parent,omitempty"`
}

// ProjectsResponse is one page of GET /projects.json. Projects is a
// pointer so a missing key can be told apart from an empty list.
type ProjectsResponse struct {
	Projects   *[]Project `json:"projects"`
	TotalCount int        `json:"total_count"`
	Offset     int        `json:"offset"`
	Limit      int        `json:"limit"`
}

// Tracker represents a Redmine tracker (issue type).
type Tracker struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TrackersResponse is the response from GET /trackers.json.
type TrackersResponse struct {
	Trackers *[]Tracker `json:"trackers"`
}

// Priority represents an issue priority enumeration value.
type Priority struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	// Active is only reported by newer Redmine versions.
	Active *bool `json:"active,omitempty"`
}

// PrioritiesResponse is the response from GET /enumerations/issue_priorities.json.
type PrioritiesResponse struct {
	IssuePriorities *[]Priority `json:"issue_priorities"`
}

// NewIssue is the body of POST /issues.json.
type NewIssue struct {
	ProjectID   string `json:"project_id"`
	Subject     string `json:"subject"`
	TrackerID   int    `json:"tracker_id,omitempty"`
	PriorityID  int    `json:"priority_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// CreateIssueRequest wraps NewIssue the way the API expects.
type CreateIssueRequest struct {
	Issue NewIssue `json:"issue"`
}

// Issue is the subset of an issue returned after creation.
type Issue struct {
	ID      int        `json:"id"`
	Subject string     `json:"subject"`
	Project *Reference `json:"project,omitempty"`
}

// CreateIssueResponse is the response from POST /issues.json.
type CreateIssueResponse struct {
	Issue *Issue `json:"issue"`
}

// ErrorResponse is the standard Redmine 422 body.
type ErrorResponse struct {
	Errors []string `json:"errors"`
}
