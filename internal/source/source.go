package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/redmine-bridge/internal/model"
)

// DefaultTimeout bounds a remote operation when Conn.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// Conn is the client configuration threaded into every tracker call.
// There is no process-wide session: each call carries its own Conn.
type Conn struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ConnFor builds the Conn for a persisted connection.
func ConnFor(cfg model.ConnectionConfig, timeout time.Duration) Conn {
	return Conn{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Timeout: timeout}
}

// EffectiveTimeout returns the timeout to apply to a call.
func (c Conn) EffectiveTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Tracker defines the remote operations the setup flow and the action
// executor depend on.
type Tracker interface {
	// TestConnection performs a cheap authenticated request and returns
	// the login of the authenticated user.
	TestConnection(ctx context.Context, conn Conn) (string, error)

	// ListProjects returns the projects visible to the API key.
	ListProjects(ctx context.Context, conn Conn) ([]model.Option, error)

	// ListTrackers returns the configured trackers (issue types).
	ListTrackers(ctx context.Context, conn Conn) ([]model.Option, error)

	// ListPriorities returns the active issue priorities.
	ListPriorities(ctx context.Context, conn Conn) ([]model.Option, error)

	// CreateIssue creates one issue and returns its numeric id.
	CreateIssue(ctx context.Context, conn Conn, issue model.ResolvedIssue) (int, error)
}

// ConnectionError means the tracker could not be reached or answered with
// something that violates its contract (timeout, bad URL, malformed body,
// unexpected status). The operator may retry; nothing retries automatically.
type ConnectionError struct {
	Op     string
	Status int
	Field  string
	Err    error
}

func (e *ConnectionError) Error() string {
	var b strings.Builder
	b.WriteString("connection error")
	if e.Op != "" {
		b.WriteString(" (" + e.Op + ")")
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": unexpected status %d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError indicates that the tracker rejected the credential.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%d): %s", e.Status, e.Message)
}

// NotFoundError means a referenced resource (usually a project, tracker or
// priority id) does not exist on the tracker.
type NotFoundError struct {
	Field   string
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("not found (%s): %s", e.Field, e.Message)
	}
	return "not found: " + e.Message
}

// ValidationError reports a rejected field, either detected locally before
// any network call or returned by the tracker with field-level details.
type ValidationError struct {
	Field   string
	Reason  string
	Details []string
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, ", ")
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error (%s): %s", e.Field, msg)
	}
	return "validation error: " + msg
}

// Validation is shorthand for a locally detected ValidationError.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsConnectionError reports whether err wraps a ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Error kinds as reported to hosts.
const (
	KindConnection = "connection"
	KindAuth       = "auth"
	KindNotFound   = "not_found"
	KindValidation = "validation"
	KindInternal   = "internal"
)

// Kind classifies err into one of the Kind* constants.
func Kind(err error) string {
	switch {
	case IsValidation(err):
		return KindValidation
	case IsAuthError(err):
		return KindAuth
	case IsNotFound(err):
		return KindNotFound
	case IsConnectionError(err):
		return KindConnection
	default:
		return KindInternal
	}
}

// Field returns the offending field carried by err, if any.
func Field(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Field
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Field
	}
	return ""
}

// Details returns the field-level messages carried by a ValidationError.
func Details(err error) []string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Details
	}
	return nil
}
