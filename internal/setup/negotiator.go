// Package setup implements the two-step connection setup: validate the
// credentials, then pick defaults from metadata discovered on the tracker.
package setup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/redmine-bridge/internal/logging"
	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/source"
)

// State is the position of a setup session.
type State int

const (
	AwaitingConnection State = iota
	AwaitingDefaults
	Complete
)

func (s State) String() string {
	switch s {
	case AwaitingConnection:
		return "awaiting_connection"
	case AwaitingDefaults:
		return "awaiting_defaults"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrWrongState is returned when a step is submitted out of order.
var ErrWrongState = errors.New("setup step not valid in the current state")

// Connection is a base URL and API key that the tracker accepted.
type Connection struct {
	BaseURL string
	APIKey  string
	Login   string
}

// Defaults is the operator's selection in the second step. Empty ids
// leave the corresponding default unset.
type Defaults struct {
	Name       string
	ProjectID  string
	TrackerID  string
	PriorityID string
}

// Persister stores the final connection. Implementations must replace any
// previous version of the connection in one step.
type Persister interface {
	SaveConnection(ctx context.Context, cfg model.ConnectionConfig) (model.ConnectionConfig, error)
}

// defaultsStep is the payload carried into AwaitingDefaults. It is built
// once on a successful transition and never modified afterwards.
type defaultsStep struct {
	conn      Connection
	discovery model.DiscoveryResult
}

// Negotiator drives one setup session. Submissions are serialized; a
// cancelled submission leaves the session where it was.
type Negotiator struct {
	tracker  source.Tracker
	persist  Persister
	timeout  time.Duration
	logger   *logging.Logger
	existing *model.ConnectionConfig

	mu     sync.Mutex
	state  State
	step   *defaultsStep
	result *model.ConnectionConfig
}

// New starts a setup session for a new connection.
func New(tracker source.Tracker, persist Persister, timeout time.Duration, logger *logging.Logger) *Negotiator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Negotiator{
		tracker: tracker,
		persist: persist,
		timeout: timeout,
		logger:  logger.WithComponent("setup"),
		state:   AwaitingConnection,
	}
}

// Reconfigure starts a setup session that overwrites existing when it
// completes. Its current defaults are preferred as suggestions.
func Reconfigure(
	tracker source.Tracker,
	persist Persister,
	timeout time.Duration,
	logger *logging.Logger,
	existing model.ConnectionConfig,
) *Negotiator {
	n := New(tracker, persist, timeout, logger)
	n.existing = &existing
	return n
}

// State returns the current state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Existing returns the connection being reconfigured, if any.
func (n *Negotiator) Existing() (model.ConnectionConfig, bool) {
	if n.existing == nil {
		return model.ConnectionConfig{}, false
	}
	return *n.existing, true
}

// SubmitConnection validates baseURL and apiKey against the tracker and,
// on success, discovers projects, trackers and priorities. Any failure
// leaves the session in AwaitingConnection with nothing retained.
func (n *Negotiator) SubmitConnection(
	ctx context.Context,
	baseURL string,
	apiKey string,
) (model.DiscoveryResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != AwaitingConnection {
		return model.DiscoveryResult{}, ErrWrongState
	}

	normalized, err := NormalizeURL(baseURL)
	if err != nil {
		return model.DiscoveryResult{}, err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return model.DiscoveryResult{}, source.Validation("api_key", "api key required")
	}
	n.logger.Redact(apiKey)

	conn := source.Conn{BaseURL: normalized, APIKey: apiKey, Timeout: n.timeout}

	login, err := n.tracker.TestConnection(ctx, conn)
	if err != nil {
		n.logger.Warn("connection test failed", "base_url", normalized, "kind", source.Kind(err), "error", err)
		return model.DiscoveryResult{}, fmt.Errorf("testing connection to %s: %w", normalized, err)
	}

	discovery, err := discover(ctx, n.tracker, conn)
	if err != nil {
		n.logger.Warn("discovery failed", "base_url", normalized, "kind", source.Kind(err), "error", err)
		return model.DiscoveryResult{}, fmt.Errorf("discovering metadata on %s: %w", normalized, err)
	}
	if err := ctx.Err(); err != nil {
		return model.DiscoveryResult{}, &source.ConnectionError{Op: "discover", Err: err}
	}

	n.step = &defaultsStep{
		conn:      Connection{BaseURL: normalized, APIKey: apiKey, Login: login},
		discovery: discovery,
	}
	n.state = AwaitingDefaults

	n.logger.Info("connection validated",
		"base_url", normalized,
		"login", login,
		"projects", len(discovery.Projects),
		"trackers", len(discovery.Trackers),
		"priorities", len(discovery.Priorities),
	)

	return copyDiscovery(discovery), nil
}

// Reset returns a session in AwaitingDefaults to AwaitingConnection,
// dropping the validated connection and its discovery. It is a no-op in
// AwaitingConnection and fails once the session is Complete.
func (n *Negotiator) Reset() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == Complete {
		return ErrWrongState
	}
	n.step = nil
	n.state = AwaitingConnection
	return nil
}

// discover fetches the three metadata lists concurrently. The first
// failure cancels the others and nothing partial is returned.
func discover(ctx context.Context, tracker source.Tracker, conn source.Conn) (model.DiscoveryResult, error) {
	var result model.DiscoveryResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		projects, err := tracker.ListProjects(gctx, conn)
		result.Projects = projects
		return err
	})
	g.Go(func() error {
		trackers, err := tracker.ListTrackers(gctx, conn)
		result.Trackers = trackers
		return err
	})
	g.Go(func() error {
		priorities, err := tracker.ListPriorities(gctx, conn)
		result.Priorities = priorities
		return err
	})

	if err := g.Wait(); err != nil {
		return model.DiscoveryResult{}, err
	}

	result.Projects = model.Dedupe(result.Projects)
	result.Trackers = model.Dedupe(result.Trackers)
	result.Priorities = model.Dedupe(result.Priorities)

	return result, nil
}

// Connection returns the validated connection once AwaitingDefaults is reached.
func (n *Negotiator) Connection() (Connection, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.step == nil {
		return Connection{}, false
	}
	return n.step.conn, true
}

// Discovery returns a copy of the discovered metadata.
func (n *Negotiator) Discovery() (model.DiscoveryResult, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.step == nil {
		return model.DiscoveryResult{}, false
	}
	return copyDiscovery(n.step.discovery), true
}

// Suggested returns the selection to pre-fill in the defaults step: the
// existing defaults when reconfiguring and still offered, otherwise the
// first project, the first tracker and the tracker's default priority.
func (n *Negotiator) Suggested() Defaults {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.step == nil {
		return Defaults{}
	}
	d := n.step.discovery

	var s Defaults
	if len(d.Projects) > 0 {
		s.ProjectID = d.Projects[0].ID
	}
	if len(d.Trackers) > 0 {
		s.TrackerID = d.Trackers[0].ID
	}
	for _, p := range d.Priorities {
		if p.IsDefault {
			s.PriorityID = p.ID
			break
		}
	}

	if n.existing != nil {
		s.Name = n.existing.Name
		if model.Contains(d.Projects, n.existing.DefaultProjectID) {
			s.ProjectID = n.existing.DefaultProjectID
		}
		if model.Contains(d.Trackers, n.existing.DefaultTrackerID) {
			s.TrackerID = n.existing.DefaultTrackerID
		}
		if model.Contains(d.Priorities, n.existing.DefaultPriorityID) {
			s.PriorityID = n.existing.DefaultPriorityID
		}
	}
	if s.Name == "" {
		s.Name = model.DefaultName(n.step.conn.BaseURL)
	}

	return s
}

// SubmitDefaults checks the selection against the discovered metadata and
// persists the connection. On success the session is Complete.
func (n *Negotiator) SubmitDefaults(ctx context.Context, d Defaults) (model.ConnectionConfig, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != AwaitingDefaults || n.step == nil {
		return model.ConnectionConfig{}, ErrWrongState
	}
	disc := n.step.discovery

	checks := []struct {
		field string
		id    string
		opts  []model.Option
	}{
		{"default_project_id", d.ProjectID, disc.Projects},
		{"default_tracker_id", d.TrackerID, disc.Trackers},
		{"default_priority_id", d.PriorityID, disc.Priorities},
	}
	for _, c := range checks {
		if c.id != "" && !model.Contains(c.opts, c.id) {
			return model.ConnectionConfig{}, source.Validation(c.field, fmt.Sprintf("%q was not offered by the tracker", c.id))
		}
	}

	cfg := model.ConnectionConfig{
		Name:              strings.TrimSpace(d.Name),
		BaseURL:           n.step.conn.BaseURL,
		APIKey:            n.step.conn.APIKey,
		DefaultProjectID:  d.ProjectID,
		DefaultTrackerID:  d.TrackerID,
		DefaultPriorityID: d.PriorityID,
	}
	if n.existing != nil {
		cfg.ID = n.existing.ID
		cfg.CreatedAt = n.existing.CreatedAt
		if cfg.Name == "" {
			cfg.Name = n.existing.Name
		}
	}
	if cfg.Name == "" {
		cfg.Name = model.DefaultName(cfg.BaseURL)
	}

	saved, err := n.persist.SaveConnection(ctx, cfg)
	if err != nil {
		return model.ConnectionConfig{}, fmt.Errorf("saving connection: %w", err)
	}

	n.result = &saved
	n.state = Complete
	n.logger.Info("setup complete", "connection_id", saved.ID, "name", saved.Name)

	return saved, nil
}

// Result returns the persisted connection once the session is Complete.
func (n *Negotiator) Result() (model.ConnectionConfig, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.result == nil {
		return model.ConnectionConfig{}, false
	}
	return *n.result, true
}

// NormalizeURL trims whitespace and trailing slashes and requires an
// absolute http(s) URL. A missing scheme is rejected, not guessed.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	if s == "" {
		return "", urlError(errors.New("URL is required"))
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", urlError(fmt.Errorf("invalid URL: %w", err))
	}
	if u.Scheme == "" || u.Host == "" {
		return "", urlError(errors.New("URL must include scheme and host (e.g., https://redmine.example.com)"))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", urlError(fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.User != nil {
		return "", urlError(errors.New("URL must not contain credentials; use the API key field"))
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", urlError(errors.New("URL must not contain a query or fragment"))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}

func urlError(err error) error {
	return &source.ConnectionError{Op: "normalize url", Field: "base_url", Err: err}
}

func copyDiscovery(d model.DiscoveryResult) model.DiscoveryResult {
	return model.DiscoveryResult{
		Projects:   append([]model.Option(nil), d.Projects...),
		Trackers:   append([]model.Option(nil), d.Trackers...),
		Priorities: append([]model.Option(nil), d.Priorities...),
	}
}
