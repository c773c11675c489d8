// Package invokechain is a Go client for the invokechaind REST API.
package invokechain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client talks to one invokechaind instance.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// InvokeRequest is the body of a synchronous invocation. A nil Groups uses
// the server's default groups; an empty, non-nil slice activates none.
type InvokeRequest struct {
	ID     string         `json:"id,omitempty"`
	Values map[string]any `json:"values,omitempty"`
	Groups []string       `json:"groups"`
}

// MarshalJSON leaves groups out when nil.
func (r InvokeRequest) MarshalJSON() ([]byte, error) {
	type plain InvokeRequest
	if r.Groups == nil {
		return json.Marshal(struct {
			plain
			Groups []string `json:"groups,omitempty"`
		}{plain: plain(r)})
	}
	return json.Marshal(plain(r))
}

// InvokeResult is the answer of a synchronous invocation.
type InvokeResult struct {
	ID         string          `json:"id"`
	Function   string          `json:"function"`
	Groups     []string        `json:"groups"`
	Result     json.RawMessage `json:"result"`
	DurationMS int64           `json:"duration_ms"`
}

// Decode unmarshals the invocation result into v.
func (r InvokeResult) Decode(v any) error {
	return json.Unmarshal(r.Result, v)
}

// Function describes one catalog entry.
type Function struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
}

// Entry is one member of a group bucket.
type Entry struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

// Group lists the decorators and resolvers of one group, in chain order.
type Group struct {
	Group      string  `json:"group"`
	Decorators []Entry `json:"decorators"`
	Resolvers  []Entry `json:"resolvers"`
}

// Groups is the answer of the groups endpoint.
type Groups struct {
	Groups        []Group  `json:"groups"`
	DefaultGroups []string `json:"default_groups"`
}

// TaskSubmission asks for an asynchronous invocation. Groups follow the
// same rule as InvokeRequest.
type TaskSubmission struct {
	ID       string         `json:"id,omitempty"`
	Function string         `json:"function"`
	Groups   []string       `json:"groups"`
	Values   map[string]any `json:"values,omitempty"`
}

// MarshalJSON leaves groups out when nil.
func (s TaskSubmission) MarshalJSON() ([]byte, error) {
	type plain TaskSubmission
	if s.Groups == nil {
		return json.Marshal(struct {
			plain
			Groups []string `json:"groups,omitempty"`
		}{plain: plain(s)})
	}
	return json.Marshal(plain(s))
}

// TaskResult is what a successful task left behind.
type TaskResult struct {
	InvocationID string          `json:"invocation_id,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	Degraded     bool            `json:"degraded,omitempty"`
}

// Task is the server view of a submitted task.
type Task struct {
	ID         string         `json:"id"`
	Function   string         `json:"function"`
	Groups     []string       `json:"groups"`
	Values     map[string]any `json:"values,omitempty"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Result     *TaskResult    `json:"result,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Done reports whether the task reached a terminal state.
func (t Task) Done() bool {
	return t.Status == "succeeded" || t.Status == "failed"
}

// TaskFilter narrows ListTasks and TaskStats.
type TaskFilter struct {
	Statuses  []string
	Limit     int
	Offset    int
	Ascending bool
	Query     string
	HasResult *bool
	Since     time.Time
	Until     time.Time
}

func (f TaskFilter) values() url.Values {
	q := url.Values{}
	if len(f.Statuses) > 0 {
		q.Set("status", strings.Join(f.Statuses, ","))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.Ascending {
		q.Set("order", "asc")
	}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	if f.HasResult != nil {
		q.Set("has_result", strconv.FormatBool(*f.HasResult))
	}
	if !f.Since.IsZero() {
		q.Set("updated_since", f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		q.Set("updated_until", f.Until.UTC().Format(time.RFC3339))
	}
	return q
}

// TaskStats aggregates task states.
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// AuditRecord is one finished invocation.
type AuditRecord struct {
	ID           int64    `json:"id"`
	InvocationID string   `json:"invocation_id"`
	Function     string   `json:"function"`
	Groups       []string `json:"groups,omitempty"`
	Status       string   `json:"status"`
	Error        string   `json:"error,omitempty"`
	ErrorCode    string   `json:"error_code,omitempty"`
	DurationMS   int64    `json:"duration_ms"`
	CreatedAt    int64    `json:"created_at"`
}

// APIError is a failure reported by the server.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("invokechain api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("invokechain api error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewClient returns a client for the API at rawURL. When httpClient is nil a
// client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey sets the key sent with every request.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the configured key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// Invoke calls function synchronously.
func (c *Client) Invoke(ctx context.Context, function string, req InvokeRequest) (InvokeResult, error) {
	var out InvokeResult
	endpoint := "/api/v1/functions/" + function + "/invoke"
	if err := c.post(ctx, endpoint, req, &out); err != nil {
		return InvokeResult{}, err
	}
	return out, nil
}

// Functions lists the catalog.
func (c *Client) Functions(ctx context.Context) ([]Function, error) {
	var out struct {
		Functions []Function `json:"functions"`
	}
	if err := c.get(ctx, "/api/v1/functions", nil, &out); err != nil {
		return nil, err
	}
	return out.Functions, nil
}

// Groups describes the server's built group indexes.
func (c *Client) Groups(ctx context.Context) (Groups, error) {
	var out Groups
	if err := c.get(ctx, "/api/v1/groups", nil, &out); err != nil {
		return Groups{}, err
	}
	return out, nil
}

// SubmitTask queues an invocation.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var out Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &out); err != nil {
		return Task{}, err
	}
	return out, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var out Task
	if err := c.get(ctx, "/api/v1/tasks/"+id, nil, &out); err != nil {
		return Task{}, err
	}
	return out, nil
}

// ListTasks returns the tasks matching filter.
func (c *Client) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.get(ctx, "/api/v1/tasks", filter.values(), &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// TaskStats aggregates the tasks matching filter.
func (c *Client) TaskStats(ctx context.Context, filter TaskFilter) (TaskStats, error) {
	var out TaskStats
	if err := c.get(ctx, "/api/v1/tasks/stats", filter.values(), &out); err != nil {
		return TaskStats{}, err
	}
	return out, nil
}

// WaitForTask polls until the task is done or ctx ends.
func (c *Client) WaitForTask(ctx context.Context, id string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.GetTask(ctx, id)
		if err != nil {
			return Task{}, err
		}
		if t.Done() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Audit returns the newest audit records.
func (c *Client) Audit(ctx context.Context, limit int) ([]AuditRecord, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Records []AuditRecord `json:"records"`
	}
	if err := c.get(ctx, "/api/v1/audit", q, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if key := c.APIKey(); key != "" {
		req.Header.Set("X-API-Key", key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
