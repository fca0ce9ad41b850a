// Package app wires persistence, credentials and the Redmine client into
// the operations exposed by the CLI, the HTTP server and the mail intake.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/nhle/redmine-bridge/internal/action"
	"github.com/nhle/redmine-bridge/internal/credential"
	"github.com/nhle/redmine-bridge/internal/logging"
	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/setup"
	"github.com/nhle/redmine-bridge/internal/source"
	"github.com/nhle/redmine-bridge/internal/source/redmine"
	"github.com/nhle/redmine-bridge/internal/store"
)

// App is the host-side facade shared by every surface.
type App struct {
	Connections *Connections

	store    store.Store
	tracker  source.Tracker
	executor *action.Executor
	timeout  time.Duration
	logger   *logging.Logger
}

// Options configures New. Tracker defaults to the Redmine adapter over
// HTTPClient (or a plain http.Client).
type Options struct {
	Store      store.Store
	Creds      *credential.Store
	Tracker    source.Tracker
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *logging.Logger
}

// New creates an App from opts.
func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = redmine.NewAdapter(redmine.NewClient(opts.HTTPClient, logger.WithComponent("redmine")))
	}

	return &App{
		Connections: NewConnections(opts.Store, opts.Creds, logger),
		store:       opts.Store,
		tracker:     tracker,
		executor:    action.NewExecutor(tracker, opts.Timeout, logger.WithComponent("action")),
		timeout:     opts.Timeout,
		logger:      logger,
	}
}

// NewSetup starts a setup session for a new connection.
func (a *App) NewSetup() *setup.Negotiator {
	return setup.New(a.tracker, a.Connections, a.timeout, a.logger)
}

// ReconfigureSetup starts a setup session that overwrites the connection
// named by ref.
func (a *App) ReconfigureSetup(ctx context.Context, ref string) (*setup.Negotiator, error) {
	existing, err := a.Connections.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return setup.Reconfigure(a.tracker, a.Connections, a.timeout, a.logger, existing), nil
}

// CreateIssue runs the create-issue action against the connection named
// by ref and records the result in the issue log.
func (a *App) CreateIssue(
	ctx context.Context,
	ref string,
	req model.IssueRequest,
	origin string,
) (model.CreatedIssue, error) {
	cfg, err := a.Connections.Load(ctx, ref)
	if err != nil {
		return model.CreatedIssue{}, err
	}

	if origin == model.OriginMail {
		req, err = a.resolveNames(ctx, cfg, req)
		if err != nil {
			return model.CreatedIssue{}, err
		}
	}

	created, err := a.executor.Execute(ctx, req, cfg)
	if err != nil {
		return model.CreatedIssue{}, err
	}

	// Execute already validated the request, so Resolve cannot fail here.
	resolved, _ := action.Resolve(req, cfg)
	entry := model.IssueLogEntry{
		ConnectionID: cfg.ID,
		IssueID:      created.ID,
		ProjectID:    resolved.ProjectID,
		Subject:      resolved.Subject,
		URL:          created.URL,
		Origin:       origin,
	}
	if err := a.store.RecordIssue(ctx, entry); err != nil {
		// The issue exists remotely; report success regardless.
		a.logger.Warn("failed to record issue", "issue_id", created.ID, "error", err)
	}

	return created, nil
}

// History returns recently created issues, optionally for one connection.
func (a *App) History(ctx context.Context, ref string, limit int) ([]model.IssueLogEntry, error) {
	filter := store.IssueFilter{Limit: limit}
	if ref != "" {
		cfg, err := a.Connections.find(ctx, ref)
		if err != nil {
			return nil, err
		}
		filter.ConnectionID = &cfg.ID
	}
	return a.store.GetRecentIssues(ctx, filter)
}
