// Package agenthub is a small Go client for the AgentHub REST API.
package agenthub

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
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Synchronous runs may take longer; pass a client with a
// larger timeout when calling Run.
const DefaultHTTPTimeout = 15 * time.Second

// Task statuses reported by the server.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the AgentHub REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// TaskSubmission represents the payload required to create a new task.
type TaskSubmission struct {
	ID             string         `json:"id,omitempty"`
	Task           string         `json:"task"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ToolCall records one tool invocation made by an agent.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// TaskResult is the stored outcome of an asynchronous task.
type TaskResult struct {
	Content    string     `json:"content"`
	Agent      string     `json:"agent,omitempty"`
	Iterations int        `json:"iterations"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Task is the server view of an asynchronous task.
type Task struct {
	ID             string         `json:"id"`
	Task           string         `json:"task"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Status         string         `json:"status"`
	Attempts       int            `json:"attempts"`
	MaxRetries     int            `json:"max_retries"`
	LastError      string         `json:"last_error,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	Result         *TaskResult    `json:"result,omitempty"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
}

// Done reports whether the task will not be processed again.
func (t Task) Done() bool {
	if t.Status == StatusSucceeded {
		return true
	}
	return t.Status == StatusFailed && t.Attempts >= t.MaxRetries
}

// RunResult is the outcome of a synchronous run.
type RunResult struct {
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls"`
	Iterations int            `json:"iterations"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Agent describes one member of the agent pool.
type Agent struct {
	ID             string `json:"id"`
	Specialization string `json:"specialization,omitempty"`
	CurrentLoad    int    `json:"current_load"`
}

// AgentPool is the pool snapshot returned by ListAgents.
type AgentPool struct {
	Strategy string  `json:"strategy"`
	Agents   []Agent `json:"agents"`
}

// ListOptions filters ListTasks.
type ListOptions struct {
	Limit          int
	Statuses       []string
	ConversationID string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agenthub api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agenthub api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 returned by the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the AgentHub API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitTask queues a task for asynchronous execution.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &created); err != nil {
		return Task{}, err
	}
	return created, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return Task{}, errors.New("agenthub: task id is required")
	}
	var detail Task
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), nil, &detail); err != nil {
		return Task{}, err
	}
	return detail, nil
}

// ListTasks returns the most recent tasks matching opts.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.ConversationID != "" {
		query.Set("conversation_id", opts.ConversationID)
	}
	var tasks []Task
	if err := c.get(ctx, "/api/v1/tasks", query, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// WaitForTask polls the task until it is done or ctx is cancelled.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		detail, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if detail.Done() {
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return detail, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run executes a task synchronously on one agent of the pool.
func (c *Client) Run(ctx context.Context, task, conversationID string) (RunResult, error) {
	payload := map[string]string{"task": task, "conversation_id": conversationID}
	var result RunResult
	if err := c.post(ctx, "/api/v1/run", payload, &result); err != nil {
		return RunResult{}, err
	}
	return result, nil
}

// ListAgents returns the current agent pool and dispatch strategy.
func (c *Client) ListAgents(ctx context.Context) (AgentPool, error) {
	var pool AgentPool
	if err := c.get(ctx, "/api/v1/agents", nil, &pool); err != nil {
		return AgentPool{}, err
	}
	return pool, nil
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
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
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
