package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nhle/redmine-bridge/internal/logging"
	"github.com/nhle/redmine-bridge/internal/source"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 4 << 20

// apiKeyHeader carries the credential on every request.
const apiKeyHeader = "X-Redmine-API-Key"

// Client is a thin HTTP client for the Redmine REST API. It holds no
// connection state of its own: base URL and credential arrive with every
// call through source.Conn. Requests are attempted exactly once.
type Client struct {
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a new Redmine HTTP client. A nil httpClient uses a
// fresh http.Client; a nil logger discards output.
func NewClient(httpClient *http.Client, logger *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{httpClient: httpClient, logger: logger}
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(
	ctx context.Context,
	conn source.Conn,
	op string,
	path string,
	query url.Values,
	result interface{},
) error {
	return c.do(ctx, conn, op, http.MethodGet, path, query, nil, result)
}

// Post performs an HTTP POST request with a JSON body and unmarshals
// the JSON response.
func (c *Client) Post(
	ctx context.Context,
	conn source.Conn,
	op string,
	path string,
	body interface{},
	result interface{},
) error {
	return c.do(ctx, conn, op, http.MethodPost, path, nil, body, result)
}

// do builds the request, sends it once, classifies the status code and
// decodes the JSON body into result.
func (c *Client) do(
	ctx context.Context,
	conn source.Conn,
	op string,
	method string,
	path string,
	query url.Values,
	body interface{},
	result interface{},
) error {
	endpoint, err := buildURL(conn.BaseURL, path, query)
	if err != nil {
		return &source.ConnectionError{Op: op, Field: "base_url", Err: err}
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return &source.ConnectionError{Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set(apiKeyHeader, conn.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "redmine-bridge")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%s %s: %w", method, path, ctxErr)
		}
		return &source.ConnectionError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return &source.ConnectionError{Op: op, Err: fmt.Errorf("reading response body: %w", err)}
	}
	if len(respBody) > maxBodySize {
		return &source.ConnectionError{Op: op, Err: errors.New("response body too large")}
	}

	c.logger.Debug("redmine request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &source.AuthError{Status: resp.StatusCode, Message: "Invalid API key"}
	case resp.StatusCode == http.StatusForbidden:
		return &source.AuthError{Status: resp.StatusCode, Message: "API key is not allowed to " + op}
	case resp.StatusCode == http.StatusNotFound:
		return &source.NotFoundError{Message: fmt.Sprintf("%s %s", method, path)}
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return validationFromBody(respBody)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &source.ConnectionError{Op: op, Status: resp.StatusCode}
	}

	// No content to parse (e.g. 204).
	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return &source.ConnectionError{
			Op:  op,
			Err: fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err),
		}
	}

	return nil
}

// buildURL joins a normalized base URL with an API path.
func buildURL(base, path string, query url.Values) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid base URL %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q: missing host", base)
	}

	u.Path += path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// validationFromBody turns a 422 body ({"errors": [...]}) into a
// ValidationError, guessing the offending field from the messages.
func validationFromBody(body []byte) error {
	verr := &source.ValidationError{Reason: "rejected by tracker"}

	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		verr.Details = er.Errors
	}
	if len(verr.Details) == 0 {
		verr.Details = []string{"Unknown validation error"}
	}
	verr.Field = fieldFromMessages(verr.Details)

	return verr
}

// fieldPrefixes maps Redmine's human attribute names to request fields.
var fieldPrefixes = []struct {
	prefix string
	field  string
}{
	{"project", "project_id"},
	{"tracker", "tracker_id"},
	{"priority", "priority_id"},
	{"subject", "subject"},
	{"description", "description"},
}

func fieldFromMessages(messages []string) string {
	for _, msg := range messages {
		lower := strings.ToLower(strings.TrimSpace(msg))
		for _, fp := range fieldPrefixes {
			if strings.HasPrefix(lower, fp.prefix) {
				return fp.field
			}
		}
	}
	return ""
}
