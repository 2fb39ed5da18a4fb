// Package bayse is the HTTP client for the Bayse interpretation API.
package bayse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"baysebatch/internal/core/domain"
	"baysebatch/internal/core/ports"
)

const (
	apiKeyHeader   = "X-API-KEY"
	defaultTimeout = 30 * time.Second
	// Bodies surfaced in error messages are cut to this size.
	maxErrorBody = 4 << 10
)

// Ensure Client implements ports.Interpreter at compile time.
var _ ports.Interpreter = (*Client)(nil)

// Options configures a Client.
type Options struct {
	APIKey                 string
	InterpretationEndpoint string
	StatusEndpoint         string
	ResultEndpoint         string
	Timeout                time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client implements ports.Interpreter using the Bayse REST API.
type Client struct {
	apiKey         string
	interpretation *url.URL
	status         *url.URL
	result         *url.URL
	client         *http.Client
}

// NewClient creates a new Client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("bayse api key not set")
	}
	interpretation, err := parseEndpoint("interpretation", opts.InterpretationEndpoint)
	if err != nil {
		return nil, err
	}
	status, err := parseEndpoint("status", opts.StatusEndpoint)
	if err != nil {
		return nil, err
	}
	result, err := parseEndpoint("result", opts.ResultEndpoint)
	if err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiKey:         opts.APIKey,
		interpretation: interpretation,
		status:         status,
		result:         result,
		client:         httpClient,
	}, nil
}

// Submit posts one URL to the interpretation endpoint.
func (c *Client) Submit(ctx context.Context, s domain.Submission) ([]byte, error) {
	body, err := json.Marshal(domain.NewInterpretationRequest(s))
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}
	return c.do(ctx, "submit", http.MethodPost, c.interpretation.String(), body)
}

// CheckStatus polls the status endpoint for requestID.
func (c *Client) CheckStatus(ctx context.Context, requestID string) (domain.Status, error) {
	body, err := c.do(ctx, "check status", http.MethodGet, withQuery(c.status, "request_id", requestID), nil)
	if err != nil {
		return domain.StatusUnknown, err
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.StatusUnknown, &domain.MalformedInputError{Input: truncate(body), Err: fmt.Errorf("decode status: %w", err)}
	}

	status := domain.ParseStatus(payload.Status)
	return status, status.Check(requestID, payload.Status)
}

// FetchResult retrieves the result payload for requestID.
func (c *Client) FetchResult(ctx context.Context, requestID string) ([]byte, error) {
	return c.do(ctx, "fetch result", http.MethodGet, withQuery(c.result, "result_id", requestID), nil)
}

func (c *Client) do(ctx context.Context, op, method, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.HTTPError{Op: op, StatusCode: resp.StatusCode, Body: truncate(respBody)}
	}
	return respBody, nil
}

// withQuery sets key on a copy of endpoint, keeping any query it already has.
func withQuery(endpoint *url.URL, key, value string) string {
	u := *endpoint
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func parseEndpoint(name, raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s endpoint not set", name)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse %s endpoint %q: %w", name, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s endpoint %q: scheme must be http or https", name, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%s endpoint %q: missing host", name, raw)
	}
	return u, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}
