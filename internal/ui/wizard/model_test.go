package wizard

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/setup"
	"github.com/nhle/redmine-bridge/internal/source"
)

type stubTracker struct{}

func (stubTracker) TestConnection(context.Context, source.Conn) (string, error) { return "alice", nil }

func (stubTracker) ListProjects(context.Context, source.Conn) ([]model.Option, error) {
	return []model.Option{{ID: "household", DisplayName: "Household"}}, nil
}

func (stubTracker) ListTrackers(context.Context, source.Conn) ([]model.Option, error) {
	return []model.Option{{ID: "1", DisplayName: "Bug"}}, nil
}

func (stubTracker) ListPriorities(context.Context, source.Conn) ([]model.Option, error) {
	return []model.Option{{ID: "2", DisplayName: "Normal", IsDefault: true}}, nil
}

func (stubTracker) CreateIssue(context.Context, source.Conn, model.ResolvedIssue) (int, error) {
	return 0, nil
}

type stubPersister struct{}

func (stubPersister) SaveConnection(_ context.Context, cfg model.ConnectionConfig) (model.ConnectionConfig, error) {
	cfg.ID = "conn-1"
	return cfg, nil
}

func newWizard() Model {
	neg := setup.New(stubTracker{}, stubPersister{}, time.Second, nil)
	return New(neg, "https://redmine.example.com")
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestWizard_StartsOnConnectionForm(t *testing.T) {
	m := newWizard()
	assert.Equal(t, ModeConnectionForm, m.mode)
	assert.Equal(t, "https://redmine.example.com", m.values.baseURL)
	assert.Equal(t, "step 1/2: connection", m.stepLabel())
}

func TestWizard_ConnectionErrorReopensForm(t *testing.T) {
	m := newWizard()
	m.mode = ModeValidating
	m.seq = 1

	m = update(t, m, connectionResultMsg{seq: 1, err: &source.AuthError{Status: 401, Message: "Invalid API key"}})

	assert.Equal(t, ModeConnectionForm, m.mode)
	require.Error(t, m.err)
	assert.Contains(t, m.viewError(), "rejected the API key")
	assert.Equal(t, setup.AwaitingConnection, m.neg.State())
}

func TestWizard_StaleResultIgnored(t *testing.T) {
	m := newWizard()
	m.mode = ModeValidating
	m.seq = 2

	m = update(t, m, connectionResultMsg{seq: 1, err: context.Canceled})

	assert.Equal(t, ModeValidating, m.mode)
	assert.NoError(t, m.err)
}

func TestWizard_EscCancelsValidation(t *testing.T) {
	m := newWizard()
	cancelled := false
	m.mode = ModeValidating
	m.seq = 1
	m.cancel = func() { cancelled = true }

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})

	assert.True(t, cancelled)
	assert.Equal(t, ModeConnectionForm, m.mode)
	assert.Equal(t, 2, m.seq)
	assert.EqualError(t, m.err, "cancelled")
}

func TestWizard_FullFlow(t *testing.T) {
	m := newWizard()

	disc, err := m.neg.SubmitConnection(context.Background(), m.values.baseURL, "key")
	require.NoError(t, err)

	m.mode = ModeValidating
	m.seq = 1
	m = update(t, m, connectionResultMsg{seq: 1, discovery: disc})

	require.Equal(t, ModeDefaultsForm, m.mode)
	assert.Equal(t, "Redmine (redmine.example.com)", m.values.name)
	assert.Equal(t, "household", m.values.projectID)
	assert.Equal(t, "1", m.values.trackerID)
	assert.Equal(t, "2", m.values.priorityID)

	saved, err := m.neg.SubmitDefaults(context.Background(), setup.Defaults{
		Name:       m.values.name,
		ProjectID:  m.values.projectID,
		TrackerID:  m.values.trackerID,
		PriorityID: m.values.priorityID,
	})
	require.NoError(t, err)

	m.mode = ModeSaving
	m = update(t, m, defaultsResultMsg{saved: saved})

	assert.Equal(t, ModeDone, m.mode)
	result, ok := m.Result()
	require.True(t, ok)
	assert.Equal(t, "conn-1", result.ID)
	assert.False(t, m.Aborted())

	view := m.View()
	assert.Contains(t, view, "Connection saved")
	assert.Contains(t, view, "Household")
}

func TestWizard_SaveErrorReturnsToDefaults(t *testing.T) {
	m := newWizard()
	m.mode = ModeSaving

	m = update(t, m, defaultsResultMsg{err: source.Validation("default_project_id", "gone")})

	assert.Equal(t, ModeDefaultsForm, m.mode)
	assert.Contains(t, m.viewError(), "validation")
}

func TestSelectField_OmitsEmptyLists(t *testing.T) {
	v := "stale"
	assert.Nil(t, selectField("Default project", nil, &v, false))
	assert.Empty(t, v)

	v = "missing"
	f := selectField("Default project", []model.Option{{ID: "household", DisplayName: "Household"}}, &v, false)
	assert.NotNil(t, f)
	assert.Equal(t, "household", v)
}

func TestSelectField_OptionalKeepsNone(t *testing.T) {
	opts := []model.Option{{ID: "1", DisplayName: "Bug"}}

	v := ""
	require.NotNil(t, selectField("Default tracker", opts, &v, true))
	assert.Empty(t, v)

	v = "missing"
	require.NotNil(t, selectField("Default tracker", opts, &v, true))
	assert.Empty(t, v)

	v = "1"
	require.NotNil(t, selectField("Default tracker", opts, &v, true))
	assert.Equal(t, "1", v)
}

type noDefaultPriorityTracker struct{ stubTracker }

func (noDefaultPriorityTracker) ListPriorities(context.Context, source.Conn) ([]model.Option, error) {
	return []model.Option{{ID: "1", DisplayName: "Low"}, {ID: "2", DisplayName: "Normal"}}, nil
}

func TestWizard_NoDefaultPriorityStaysUnset(t *testing.T) {
	neg := setup.New(noDefaultPriorityTracker{}, stubPersister{}, time.Second, nil)
	m := New(neg, "https://redmine.example.com")

	disc, err := neg.SubmitConnection(context.Background(), m.values.baseURL, "key")
	require.NoError(t, err)

	m.mode = ModeValidating
	m.seq = 1
	m = update(t, m, connectionResultMsg{seq: 1, discovery: disc})

	require.Equal(t, ModeDefaultsForm, m.mode)
	assert.Equal(t, "1", m.values.trackerID)
	assert.Empty(t, m.values.priorityID)

	saved, err := neg.SubmitDefaults(context.Background(), setup.Defaults{
		Name:       m.values.name,
		ProjectID:  m.values.projectID,
		TrackerID:  m.values.trackerID,
		PriorityID: m.values.priorityID,
	})
	require.NoError(t, err)
	assert.Empty(t, saved.DefaultPriorityID)
}

func TestWizard_EscAfterValidationSucceededResetsSession(t *testing.T) {
	m := newWizard()

	// The submission finished but esc arrives before its result message.
	disc, err := m.neg.SubmitConnection(context.Background(), m.values.baseURL, "key")
	require.NoError(t, err)
	require.Equal(t, setup.AwaitingDefaults, m.neg.State())

	m.mode = ModeValidating
	m.seq = 1
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})

	assert.Equal(t, ModeConnectionForm, m.mode)
	assert.Equal(t, setup.AwaitingConnection, m.neg.State())

	m = update(t, m, connectionResultMsg{seq: 1, discovery: disc})
	assert.Equal(t, ModeConnectionForm, m.mode)

	_, err = m.neg.SubmitConnection(context.Background(), m.values.baseURL, "key")
	require.NoError(t, err)
	assert.Equal(t, setup.AwaitingDefaults, m.neg.State())
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, validateURL("https://redmine.example.com"))
	assert.Error(t, validateURL("redmine.example.com"))
}
