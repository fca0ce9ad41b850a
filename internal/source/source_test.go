package source

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", Validation("subject", "subject required"), KindValidation},
		{"auth", &AuthError{Status: 401, Message: "Invalid API key"}, KindAuth},
		{"not found", &NotFoundError{Field: "project_id", Message: "gone"}, KindNotFound},
		{"connection", &ConnectionError{Op: "list projects", Err: context.DeadlineExceeded}, KindConnection},
		{"wrapped auth", fmt.Errorf("creating issue: %w", &AuthError{Status: 403}), KindAuth},
		{"plain", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestValidationError_MessageCarriesDetails(t *testing.T) {
	err := &ValidationError{Reason: "rejected by tracker", Details: []string{"Tracker is not included in the list"}}

	assert.Equal(t, "validation error: rejected by tracker: Tracker is not included in the list", err.Error())
	assert.Equal(t, []string{"Tracker is not included in the list"}, Details(fmt.Errorf("wrap: %w", err)))
}

func TestConnectionError_UnwrapsCause(t *testing.T) {
	err := &ConnectionError{Op: "test connection", Err: context.DeadlineExceeded}

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "test connection")
}

func TestField(t *testing.T) {
	assert.Equal(t, "subject", Field(Validation("subject", "subject required")))
	assert.Equal(t, "project_id", Field(&NotFoundError{Field: "project_id"}))
	assert.Equal(t, "base_url", Field(&ConnectionError{Field: "base_url"}))
	assert.Empty(t, Field(errors.New("x")))
}

func TestConn_EffectiveTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, Conn{}.EffectiveTimeout())
	assert.Equal(t, 2*time.Second, Conn{Timeout: 2 * time.Second}.EffectiveTimeout())
}
