// Package action runs the create-issue action: it merges a request with
// the stored connection defaults, validates it locally, and makes exactly
// one remote call.
package action

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/redmine-bridge/internal/logging"
	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/source"
	"github.com/nhle/redmine-bridge/internal/source/redmine"
)

// Validation reasons reported before any network call.
const (
	ReasonSubjectRequired = "subject required"
	ReasonNoProject       = "no project specified and no default configured"
	ReasonPositiveInt     = "must be a positive integer"
)

// Resolve merges req with the defaults in cfg and validates the result.
// Request fields win; empty request fields fall back to cfg. Neither
// argument is modified.
func Resolve(req model.IssueRequest, cfg model.ConnectionConfig) (model.ResolvedIssue, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return model.ResolvedIssue{}, source.Validation("subject", ReasonSubjectRequired)
	}

	projectID := firstNonEmpty(string(req.ProjectID), cfg.DefaultProjectID)
	if projectID == "" {
		return model.ResolvedIssue{}, source.Validation("project_id", ReasonNoProject)
	}

	trackerID, err := optionalID("tracker_id", firstNonEmpty(string(req.TrackerID), cfg.DefaultTrackerID))
	if err != nil {
		return model.ResolvedIssue{}, err
	}

	priorityID, err := optionalID("priority_id", firstNonEmpty(string(req.PriorityID), cfg.DefaultPriorityID))
	if err != nil {
		return model.ResolvedIssue{}, err
	}

	return model.ResolvedIssue{
		ProjectID:   projectID,
		Subject:     subject,
		TrackerID:   trackerID,
		PriorityID:  priorityID,
		Description: req.Description,
	}, nil
}

// Executor creates issues through a source.Tracker.
type Executor struct {
	tracker source.Tracker
	timeout time.Duration
	logger  *logging.Logger
}

// NewExecutor creates an executor. timeout bounds the single remote call.
func NewExecutor(tracker source.Tracker, timeout time.Duration, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{tracker: tracker, timeout: timeout, logger: logger}
}

// Execute resolves req against cfg and creates the issue. Local
// validation failures return before any network call; remote failures
// are returned unchanged. cfg is never modified.
func (e *Executor) Execute(
	ctx context.Context,
	req model.IssueRequest,
	cfg model.ConnectionConfig,
) (model.CreatedIssue, error) {
	resolved, err := Resolve(req, cfg)
	if err != nil {
		return model.CreatedIssue{}, err
	}

	id, err := e.tracker.CreateIssue(ctx, source.ConnFor(cfg, e.timeout), resolved)
	if err != nil {
		e.logger.Warn("issue creation failed",
			"connection_id", cfg.ID,
			"project_id", resolved.ProjectID,
			"kind", source.Kind(err),
			"error", err,
		)
		return model.CreatedIssue{}, err
	}

	created := model.CreatedIssue{ID: id, URL: redmine.IssueURL(cfg.BaseURL, id)}
	e.logger.Info("created issue",
		"connection_id", cfg.ID,
		"issue_id", id,
		"project_id", resolved.ProjectID,
	)

	return created, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// optionalID parses a tracker or priority id; "" means unset.
func optionalID(field, raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, source.Validation(field, ReasonPositiveInt)
	}
	return n, nil
}
