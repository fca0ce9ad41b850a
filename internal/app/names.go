package app

import (
	"context"
	"strconv"
	"strings"

	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/source"
)

// resolveNames translates human names in req, as typed into mail
// pseudo-headers ("Tracker: Bug"), into ids. Numeric tracker and priority
// ids skip the lookup. Projects are always checked against the list, since
// a project name can look like an identifier.
func (a *App) resolveNames(
	ctx context.Context,
	cfg model.ConnectionConfig,
	req model.IssueRequest,
) (model.IssueRequest, error) {
	conn := source.ConnFor(cfg, a.timeout)

	lookups := []struct {
		field string
		value *model.ID
		isID  func(string) bool
		list  func(context.Context, source.Conn) ([]model.Option, error)
	}{
		{"project_id", &req.ProjectID, nil, a.tracker.ListProjects},
		{"tracker_id", &req.TrackerID, isNumeric, a.tracker.ListTrackers},
		{"priority_id", &req.PriorityID, isNumeric, a.tracker.ListPriorities},
	}

	for _, l := range lookups {
		raw := strings.TrimSpace(string(*l.value))
		if raw == "" || (l.isID != nil && l.isID(raw)) {
			continue
		}

		opts, err := l.list(ctx, conn)
		if err != nil {
			return req, err
		}
		id, ok := matchName(opts, raw)
		if !ok {
			return req, &source.NotFoundError{Field: l.field, Message: "no match for " + strconv.Quote(raw)}
		}
		*l.value = model.ID(id)
	}

	return req, nil
}

// matchName finds the option with id name, or else the one whose display
// name equals name, ignoring case. Child projects also match on their own
// name ("Garden" for "Household » Garden").
func matchName(opts []model.Option, name string) (string, bool) {
	for _, o := range opts {
		if o.ID == name {
			return o.ID, true
		}
	}
	for _, o := range opts {
		if strings.EqualFold(o.DisplayName, name) || strings.EqualFold(o.ID, name) {
			return o.ID, true
		}
	}
	for _, o := range opts {
		if i := strings.LastIndex(o.DisplayName, " » "); i >= 0 {
			if strings.EqualFold(o.DisplayName[i+len(" » "):], name) {
				return o.ID, true
			}
		}
	}
	return "", false
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
