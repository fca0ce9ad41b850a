package redmine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/source"
)

const (
	// pageSize is the largest page Redmine serves.
	pageSize = 100

	// maxPages bounds project paging so a misbehaving server cannot keep
	// the caller looping.
	maxPages = 50
)

// Adapter implements source.Tracker for Redmine.
type Adapter struct {
	client *Client
}

var _ source.Tracker = (*Adapter)(nil)

// NewAdapter creates a new Redmine tracker adapter.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// IssueURL returns the browser link for an issue.
func IssueURL(baseURL string, id int) string {
	return strings.TrimRight(baseURL, "/") + "/issues/" + strconv.Itoa(id)
}

// TestConnection verifies credentials by calling GET /users/current.json.
// Returns the user's login on success.
func (a *Adapter) TestConnection(
	ctx context.Context,
	conn source.Conn,
) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, conn.EffectiveTimeout())
	defer cancel()

	const op = "test connection"

	var resp CurrentUserResponse
	if err := a.client.Get(ctx, conn, op, "/users/current.json", nil, &resp); err != nil {
		return "", err
	}
	if resp.User == nil {
		return "", contractError(op, "missing user object")
	}
	return resp.User.Login, nil
}

// ListProjects pages through GET /projects.json. All pages share a
// single deadline. Closed projects are skipped because they reject new
// issues.
func (a *Adapter) ListProjects(
	ctx context.Context,
	conn source.Conn,
) ([]model.Option, error) {
	ctx, cancel := context.WithTimeout(ctx, conn.EffectiveTimeout())
	defer cancel()

	const op = "list projects"

	var projects []Project
	offset := 0
	for page := 0; page < maxPages; page++ {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(pageSize))
		query.Set("offset", strconv.Itoa(offset))

		var resp ProjectsResponse
		if err := a.client.Get(ctx, conn, op, "/projects.json", query, &resp); err != nil {
			return nil, err
		}
		if resp.Projects == nil {
			return nil, contractError(op, "missing projects array")
		}

		batch := *resp.Projects
		projects = append(projects, batch...)
		offset += len(batch)

		if len(batch) == 0 || resp.TotalCount == 0 || offset >= resp.TotalCount {
			break
		}
	}

	opts := make([]model.Option, 0, len(projects))
	for _, p := range projects {
		if p.ID <= 0 {
			return nil, contractError(op, "project without id")
		}
		if p.Status == ProjectStatusClosed || p.Status == ProjectStatusArchived {
			continue
		}
		opts = append(opts, projectOption(p))
	}

	return model.Dedupe(opts), nil
}

// ListTrackers returns the trackers from GET /trackers.json.
func (a *Adapter) ListTrackers(
	ctx context.Context,
	conn source.Conn,
) ([]model.Option, error) {
	ctx, cancel := context.WithTimeout(ctx, conn.EffectiveTimeout())
	defer cancel()

	const op = "list trackers"

	var resp TrackersResponse
	if err := a.client.Get(ctx, conn, op, "/trackers.json", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Trackers == nil {
		return nil, contractError(op, "missing trackers array")
	}

	opts := make([]model.Option, 0, len(*resp.Trackers))
	for _, t := range *resp.Trackers {
		if t.ID <= 0 {
			return nil, contractError(op, "tracker without id")
		}
		opts = append(opts, model.Option{
			ID:          strconv.Itoa(t.ID),
			DisplayName: t.Name,
		})
	}

	return model.Dedupe(opts), nil
}

// ListPriorities returns the active priorities from
// GET /enumerations/issue_priorities.json.
func (a *Adapter) ListPriorities(
	ctx context.Context,
	conn source.Conn,
) ([]model.Option, error) {
	ctx, cancel := context.WithTimeout(ctx, conn.EffectiveTimeout())
	defer cancel()

	const op = "list priorities"

	var resp PrioritiesResponse
	err := a.client.Get(ctx, conn, op, "/enumerations/issue_priorities.json", nil, &resp)
	if err != nil {
		return nil, err
	}
	if resp.IssuePriorities == nil {
		return nil, contractError(op, "missing issue_priorities array")
	}

	opts := make([]model.Option, 0, len(*resp.IssuePriorities))
	for _, p := range *resp.IssuePriorities {
		if p.ID <= 0 {
			return nil, contractError(op, "priority without id")
		}
		if p.Active != nil && !*p.Active {
			continue
		}
		opts = append(opts, model.Option{
			ID:          strconv.Itoa(p.ID),
			DisplayName: p.Name,
			IsDefault:   p.IsDefault,
		})
	}

	return model.Dedupe(opts), nil
}

// CreateIssue posts a new issue and returns its id.
func (a *Adapter) CreateIssue(
	ctx context.Context,
	conn source.Conn,
	issue model.ResolvedIssue,
) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, conn.EffectiveTimeout())
	defer cancel()

	const op = "create issue"

	payload := CreateIssueRequest{
		Issue: NewIssue{
			ProjectID:   issue.ProjectID,
			Subject:     issue.Subject,
			TrackerID:   issue.TrackerID,
			PriorityID:  issue.PriorityID,
			Description: issue.Description,
		},
	}

	var resp CreateIssueResponse
	if err := a.client.Post(ctx, conn, op, "/issues.json", payload, &resp); err != nil {
		var nf *source.NotFoundError
		if errors.As(err, &nf) {
			// Redmine answers 404 when project_id names no visible project.
			return 0, &source.NotFoundError{
				Field:   "project_id",
				Message: fmt.Sprintf("project %q not found", issue.ProjectID),
			}
		}
		return 0, err
	}
	if resp.Issue == nil || resp.Issue.ID <= 0 {
		return 0, contractError(op, "missing issue id")
	}

	return resp.Issue.ID, nil
}

// projectOption maps a project onto a selectable option. The identifier
// is preferred because it survives database migrations and reads well in
// automation payloads.
func projectOption(p Project) model.Option {
	id := p.Identifier
	if id == "" {
		id = strconv.Itoa(p.ID)
	}
	name := p.Name
	if name == "" {
		name = id
	}
	if p.Parent != nil && p.Parent.Name != "" {
		name = p.Parent.Name + " » " + name
	}
	return model.Option{ID: id, DisplayName: name}
}

func contractError(op, msg string) error {
	return &source.ConnectionError{
		Op:  op,
		Err: fmt.Errorf("unexpected response shape: %s", msg),
	}
}
