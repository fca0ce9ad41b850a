package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/source"
)

type fakeCreator struct {
	err     error
	ref     string
	req     model.IssueRequest
	origin  string
	invoked bool
}

func (f *fakeCreator) CreateIssue(_ context.Context, ref string, req model.IssueRequest, origin string) (model.CreatedIssue, error) {
	f.invoked = true
	f.ref = ref
	f.req = req
	f.origin = origin
	if f.err != nil {
		return model.CreatedIssue{}, f.err
	}
	return model.CreatedIssue{ID: 7, URL: "https://redmine.example.com/issues/7"}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCreateIssue_Created(t *testing.T) {
	creator := &fakeCreator{}
	s := New(creator)

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/connections/home/issues",
		`{"subject":"Buy salt","tracker_id":2,"priority_id":"4"}`, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var created model.CreatedIssue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 7, created.ID)
	assert.Equal(t, "https://redmine.example.com/issues/7", created.URL)

	assert.Equal(t, "home", creator.ref)
	assert.Equal(t, model.OriginHTTP, creator.origin)
	assert.Equal(t, "Buy salt", creator.req.Subject)
	assert.Equal(t, model.ID("2"), creator.req.TrackerID)
	assert.Equal(t, model.ID("4"), creator.req.PriorityID)
}

func TestCreateIssue_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
		field  string
	}{
		{
			name:   "validation",
			err:    &source.ValidationError{Field: "subject", Reason: "rejected", Details: []string{"Subject cannot be blank"}},
			status: http.StatusUnprocessableEntity,
			kind:   source.KindValidation,
			field:  "subject",
		},
		{
			name:   "unknown connection",
			err:    &source.NotFoundError{Field: "connection", Message: `no connection named "x"`},
			status: http.StatusNotFound,
			kind:   source.KindNotFound,
			field:  "connection",
		},
		{
			name:   "remote auth",
			err:    &source.AuthError{Status: 401, Message: "invalid api key"},
			status: http.StatusBadGateway,
			kind:   source.KindAuth,
		},
		{
			name:   "remote unreachable",
			err:    &source.ConnectionError{Op: "create issue", Err: errors.New("dial tcp: refused")},
			status: http.StatusBadGateway,
			kind:   source.KindConnection,
		},
		{
			name:   "internal",
			err:    errors.New("disk on fire"),
			status: http.StatusInternalServerError,
			kind:   source.KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeCreator{err: tt.err})
			rec := do(t, s.Handler(), http.MethodPost, "/api/v1/connections/home/issues", `{"subject":"x"}`, nil)

			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, tt.field, body.Field)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestCreateIssue_InternalErrorHidden(t *testing.T) {
	s := New(&fakeCreator{err: errors.New("sqlite: database is locked")})
	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/connections/home/issues", `{"subject":"x"}`, nil)

	body := decodeError(t, rec)
	assert.Equal(t, "internal error", body.Error)
}

func TestCreateIssue_ValidationDetails(t *testing.T) {
	s := New(&fakeCreator{err: &source.ValidationError{
		Field:   "tracker_id",
		Reason:  "rejected by tracker",
		Details: []string{"Tracker is not included in the list"},
	}})
	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/connections/home/issues", `{"subject":"x"}`, nil)

	body := decodeError(t, rec)
	assert.Equal(t, []string{"Tracker is not included in the list"}, body.Details)
}

func TestCreateIssue_MalformedBody(t *testing.T) {
	creator := &fakeCreator{}
	s := New(creator)

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/connections/home/issues", `{"subject":`, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, source.KindValidation, body.Kind)
	assert.Equal(t, "body", body.Field)
	assert.False(t, creator.invoked)
}

func TestAuth_BearerToken(t *testing.T) {
	const token = "s3cret-automation-token"

	tests := []struct {
		name   string
		header map[string]string
		status int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"wrong scheme", map[string]string{"Authorization": "Basic " + token}, http.StatusUnauthorized},
		{"valid", map[string]string{"Authorization": "Bearer " + token}, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creator := &fakeCreator{}
			s := New(creator, WithToken(token))
			rec := do(t, s.Handler(), http.MethodPost, "/api/v1/connections/home/issues", `{"subject":"x"}`, tt.header)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status == http.StatusCreated, creator.invoked)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, source.KindAuth, decodeError(t, rec).Kind)
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	s := New(&fakeCreator{}, WithToken("token"))

	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	s := New(&fakeCreator{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.ListenAndServe(ctx, "127.0.0.1:0")
	}()
	cancel()

	assert.NoError(t, <-done)
}
