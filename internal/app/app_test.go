package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/redmine-bridge/internal/credential"
	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/setup"
	"github.com/nhle/redmine-bridge/internal/source"
	"github.com/nhle/redmine-bridge/internal/store"
	"github.com/nhle/redmine-bridge/tests/testutil"
)

const apiKey = "0123456789abcdef0123456789abcdef01234567"

// newRedmine serves just enough of the Redmine API for setup and issue
// creation. Created issues are pushed to the returned channel.
func newRedmine(t *testing.T) (*httptest.Server, chan map[string]interface{}) {
	t.Helper()
	created := make(chan map[string]interface{}, 4)

	mux := http.NewServeMux()
	mux.HandleFunc("/users/current.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"user":{"id":1,"login":"alice"}}`))
	})
	mux.HandleFunc("/projects.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"projects":[{"id":1,"name":"Household","identifier":"household","status":1},{"id":4,"name":"Garden","identifier":"household-garden","status":1,"parent":{"id":1,"name":"Household"}}],"total_count":2}`))
	})
	mux.HandleFunc("/trackers.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"trackers":[{"id":1,"name":"Bug"},{"id":2,"name":"Task"}]}`))
	})
	mux.HandleFunc("/enumerations/issue_priorities.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"issue_priorities":[{"id":2,"name":"Normal","is_default":true},{"id":3,"name":"High"}]}`))
	})
	mux.HandleFunc("/issues.json", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding issue body: %v", err)
		}
		created <- body
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"issue":{"id":42,"subject":"x"}}`))
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Redmine-API-Key") != apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	return server, created
}

func newTestApp(t *testing.T, server *httptest.Server) (*App, *credential.Store) {
	t.Helper()
	creds := credential.NewStore(keyring.NewArrayKeyring(nil))
	a := New(Options{
		Store:      testutil.NewTestStore(t),
		Creds:      creds,
		HTTPClient: server.Client(),
		Timeout:    2 * time.Second,
	})
	return a, creds
}

func runSetup(t *testing.T, n *setup.Negotiator, baseURL string) model.ConnectionConfig {
	t.Helper()
	ctx := context.Background()

	_, err := n.SubmitConnection(ctx, baseURL, apiKey)
	require.NoError(t, err)

	saved, err := n.SubmitDefaults(ctx, n.Suggested())
	require.NoError(t, err)
	return saved
}

func TestApp_SetupThenCreateIssue(t *testing.T) {
	server, created := newRedmine(t)
	a, creds := newTestApp(t, server)
	ctx := context.Background()

	saved := runSetup(t, a.NewSetup(), server.URL)
	assert.Equal(t, "household", saved.DefaultProjectID)
	assert.Equal(t, "1", saved.DefaultTrackerID)
	assert.Equal(t, "2", saved.DefaultPriorityID)

	stored, err := creds.Get(credential.KeyFor(saved))
	require.NoError(t, err)
	assert.Equal(t, apiKey, stored)

	issue, err := a.CreateIssue(ctx, saved.Name, model.IssueRequest{
		Subject:    "Buy salt",
		PriorityID: "3",
	}, model.OriginCLI)
	require.NoError(t, err)
	assert.Equal(t, 42, issue.ID)
	assert.Equal(t, server.URL+"/issues/42", issue.URL)

	body := <-created
	fields := body["issue"].(map[string]interface{})
	assert.Equal(t, "household", fields["project_id"])
	assert.Equal(t, float64(1), fields["tracker_id"])
	assert.Equal(t, float64(3), fields["priority_id"])

	history, err := a.History(ctx, saved.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 42, history[0].IssueID)
	assert.Equal(t, "Buy salt", history[0].Subject)
	assert.Equal(t, model.OriginCLI, history[0].Origin)
}

func TestApp_RerunSetupOverwrites(t *testing.T) {
	server, _ := newRedmine(t)
	a, _ := newTestApp(t, server)
	ctx := context.Background()

	first := runSetup(t, a.NewSetup(), server.URL)
	second := runSetup(t, a.NewSetup(), server.URL+"/")

	assert.Equal(t, first.ID, second.ID)

	all, err := a.Connections.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestApp_ReconfigureKeepsIdentity(t *testing.T) {
	server, _ := newRedmine(t)
	a, _ := newTestApp(t, server)
	ctx := context.Background()

	first := runSetup(t, a.NewSetup(), server.URL)

	n, err := a.ReconfigureSetup(ctx, first.ID)
	require.NoError(t, err)
	_, err = n.SubmitConnection(ctx, server.URL, apiKey)
	require.NoError(t, err)

	d := n.Suggested()
	d.TrackerID = "2"
	d.Name = "Home"
	saved, err := n.SubmitDefaults(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, first.ID, saved.ID)

	loaded, err := a.Connections.Load(ctx, "Home")
	require.NoError(t, err)
	assert.Equal(t, "2", loaded.DefaultTrackerID)
	assert.Equal(t, apiKey, loaded.APIKey)
}

func TestApp_CreateIssueUnknownConnection(t *testing.T) {
	server, _ := newRedmine(t)
	a, _ := newTestApp(t, server)

	_, err := a.CreateIssue(context.Background(), "nope", model.IssueRequest{Subject: "x"}, model.OriginHTTP)
	require.Error(t, err)
	assert.True(t, source.IsNotFound(err))
	assert.Equal(t, "connection", source.Field(err))
}

func TestApp_CreateIssueValidationNotLogged(t *testing.T) {
	server, created := newRedmine(t)
	a, _ := newTestApp(t, server)
	ctx := context.Background()

	saved := runSetup(t, a.NewSetup(), server.URL)

	_, err := a.CreateIssue(ctx, saved.ID, model.IssueRequest{Subject: "  "}, model.OriginCLI)
	require.Error(t, err)
	assert.True(t, source.IsValidation(err))
	assert.Empty(t, created)

	history, err := a.History(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApp_DeleteRemovesRowAndKey(t *testing.T) {
	server, _ := newRedmine(t)
	a, creds := newTestApp(t, server)
	ctx := context.Background()

	saved := runSetup(t, a.NewSetup(), server.URL)

	removed, err := a.Connections.Delete(ctx, saved.Name)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, removed.ID)

	_, err = creds.Get(credential.KeyFor(saved))
	assert.ErrorIs(t, err, credential.ErrNotFound)

	_, err = a.Connections.Load(ctx, saved.ID)
	assert.True(t, source.IsNotFound(err))
}

func TestApp_MailNamesResolved(t *testing.T) {
	server, created := newRedmine(t)
	a, _ := newTestApp(t, server)
	ctx := context.Background()

	saved := runSetup(t, a.NewSetup(), server.URL)

	_, err := a.CreateIssue(ctx, saved.ID, model.IssueRequest{
		Subject:    "Leaky tap",
		ProjectID:  "Household",
		TrackerID:  "task",
		PriorityID: "High",
	}, model.OriginMail)
	require.NoError(t, err)

	fields := (<-created)["issue"].(map[string]interface{})
	assert.Equal(t, "household", fields["project_id"])
	assert.Equal(t, float64(2), fields["tracker_id"])
	assert.Equal(t, float64(3), fields["priority_id"])

	_, err = a.CreateIssue(ctx, saved.ID, model.IssueRequest{
		Subject:   "Unknown tracker",
		TrackerID: "Epic",
	}, model.OriginMail)
	require.Error(t, err)
	assert.True(t, source.IsNotFound(err))
	assert.Equal(t, "tracker_id", source.Field(err))
}

func TestApp_MailProjectNameLikeIdentifier(t *testing.T) {
	server, created := newRedmine(t)
	a, _ := newTestApp(t, server)
	ctx := context.Background()

	saved := runSetup(t, a.NewSetup(), server.URL)

	_, err := a.CreateIssue(ctx, saved.ID, model.IssueRequest{
		Subject:   "Prune roses",
		ProjectID: "garden",
	}, model.OriginMail)
	require.NoError(t, err)
	fields := (<-created)["issue"].(map[string]interface{})
	assert.Equal(t, "household-garden", fields["project_id"])

	_, err = a.CreateIssue(ctx, saved.ID, model.IssueRequest{
		Subject:   "Weed beds",
		ProjectID: "household-garden",
	}, model.OriginMail)
	require.NoError(t, err)
	fields = (<-created)["issue"].(map[string]interface{})
	assert.Equal(t, "household-garden", fields["project_id"])

	_, err = a.CreateIssue(ctx, saved.ID, model.IssueRequest{
		Subject:   "Paint fence",
		ProjectID: "shed",
	}, model.OriginMail)
	require.Error(t, err)
	assert.True(t, source.IsNotFound(err))
	assert.Equal(t, "project_id", source.Field(err))
}

func TestMatchName(t *testing.T) {
	opts := []model.Option{
		{ID: "household", DisplayName: "Household"},
		{ID: "garden", DisplayName: "Household » Garden"},
	}

	id, ok := matchName(opts, "garden")
	require.True(t, ok)
	assert.Equal(t, "garden", id)

	id, ok = matchName(opts, "HOUSEHOLD » GARDEN")
	require.True(t, ok)
	assert.Equal(t, "garden", id)

	_, ok = matchName(opts, "Kitchen")
	assert.False(t, ok)
}

// hookedStore runs beforeUpsert ahead of every UpsertConnection and fails
// it with upsertErr when set.
type hookedStore struct {
	store.Store
	beforeUpsert func()
	upsertErr    error
}

func (h *hookedStore) UpsertConnection(ctx context.Context, cfg model.ConnectionConfig) (model.ConnectionConfig, error) {
	if h.beforeUpsert != nil {
		h.beforeUpsert()
	}
	if h.upsertErr != nil {
		return model.ConnectionConfig{}, h.upsertErr
	}
	return h.Store.UpsertConnection(ctx, cfg)
}

func TestConnections_ReconfigureSwitchesAtCommit(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	st := &hookedStore{Store: testutil.NewTestStore(t)}
	conns := NewConnections(st, credential.NewStore(ring), nil)
	ctx := context.Background()

	old, err := conns.SaveConnection(ctx, model.ConnectionConfig{
		Name:             "Work",
		BaseURL:          "https://old.example.com",
		APIKey:           "OLDKEY",
		DefaultProjectID: "ops",
	})
	require.NoError(t, err)

	var during model.ConnectionConfig
	st.beforeUpsert = func() {
		var loadErr error
		during, loadErr = conns.Load(ctx, old.ID)
		require.NoError(t, loadErr)
	}

	saved, err := conns.SaveConnection(ctx, model.ConnectionConfig{
		ID:               old.ID,
		Name:             "Work",
		BaseURL:          "https://new.example.com",
		APIKey:           "NEWKEY",
		DefaultProjectID: "infra",
	})
	require.NoError(t, err)
	assert.Equal(t, old.ID, saved.ID)
	assert.NotEqual(t, old.CredentialKey, saved.CredentialKey)

	assert.Equal(t, "https://old.example.com", during.BaseURL)
	assert.Equal(t, "OLDKEY", during.APIKey)
	assert.Equal(t, "ops", during.DefaultProjectID)

	st.beforeUpsert = nil
	after, err := conns.Load(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com", after.BaseURL)
	assert.Equal(t, "NEWKEY", after.APIKey)

	keys, err := ring.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{saved.CredentialKey}, keys)
}

func TestConnections_FailedUpsertKeepsPreviousKey(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	st := &hookedStore{Store: testutil.NewTestStore(t)}
	conns := NewConnections(st, credential.NewStore(ring), nil)
	ctx := context.Background()

	old, err := conns.SaveConnection(ctx, model.ConnectionConfig{Name: "Work", BaseURL: "https://old.example.com", APIKey: "OLDKEY"})
	require.NoError(t, err)

	st.upsertErr = errors.New("database is locked")
	_, err = conns.SaveConnection(ctx, model.ConnectionConfig{ID: old.ID, Name: "Work", BaseURL: "https://old.example.com", APIKey: "NEWKEY"})
	require.Error(t, err)

	keys, err := ring.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{old.CredentialKey}, keys)

	loaded, err := conns.Load(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, "OLDKEY", loaded.APIKey)
}

func TestConnections_LegacyKeyName(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	creds := credential.NewStore(ring)
	st := testutil.NewTestStore(t)
	conns := NewConnections(st, creds, nil)
	ctx := context.Background()

	row, err := st.UpsertConnection(ctx, model.ConnectionConfig{Name: "Legacy", BaseURL: "https://legacy.example.com"})
	require.NoError(t, err)
	require.NoError(t, creds.Set(credential.ConnectionKey(row.ID), "LEGACYKEY"))

	loaded, err := conns.Load(ctx, "Legacy")
	require.NoError(t, err)
	assert.Equal(t, "LEGACYKEY", loaded.APIKey)

	_, err = conns.SaveConnection(ctx, model.ConnectionConfig{ID: row.ID, Name: "Legacy", BaseURL: row.BaseURL, APIKey: "ROTATED"})
	require.NoError(t, err)

	_, err = creds.Get(credential.ConnectionKey(row.ID))
	assert.ErrorIs(t, err, credential.ErrNotFound)
}
