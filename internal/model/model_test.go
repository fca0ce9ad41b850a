package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueRequest_AcceptsNumericAndStringIDs(t *testing.T) {
	var req IssueRequest
	err := json.Unmarshal([]byte(`{"subject":"Buy salt","project_id":"household","priority_id":3,"tracker_id":"2"}`), &req)
	require.NoError(t, err)

	assert.Equal(t, "Buy salt", req.Subject)
	assert.Equal(t, ID("household"), req.ProjectID)
	assert.Equal(t, ID("3"), req.PriorityID)
	assert.Equal(t, ID("2"), req.TrackerID)
}

func TestIssueRequest_NullIDIsUnset(t *testing.T) {
	var req IssueRequest
	require.NoError(t, json.Unmarshal([]byte(`{"subject":"x","tracker_id":null}`), &req))
	assert.Empty(t, req.TrackerID)
}

func TestIssueRequest_RejectsObjectID(t *testing.T) {
	var req IssueRequest
	err := json.Unmarshal([]byte(`{"subject":"x","tracker_id":{"id":1}}`), &req)
	assert.Error(t, err)
}

func TestDedupe_KeepsFirstOccurrenceInOrder(t *testing.T) {
	in := []Option{
		{ID: "a", DisplayName: "A"},
		{ID: "b", DisplayName: "B"},
		{ID: "a", DisplayName: "A again"},
		{ID: "c", DisplayName: "C"},
	}

	out := Dedupe(in)

	require.Len(t, out, 3)
	assert.Equal(t, "A", out[0].DisplayName)
	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, "c", out[2].ID)
}

func TestDefaultName(t *testing.T) {
	assert.Equal(t, "Redmine (redmine.example.com)", DefaultName("https://redmine.example.com/sub"))
	assert.Equal(t, "Redmine", DefaultName("::"))
}
