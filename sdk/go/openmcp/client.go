package openmcp

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
// custom http.Client. Chat calls go through an LLM, so it is longer than a
// plain REST timeout.
const DefaultHTTPTimeout = 60 * time.Second

// Client wraps the HTTP interactions with the OpenMCP Sui REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Intent is the structured reading of a chat message.
type Intent struct {
	Action                string         `json:"action"`
	ParsedData            map[string]any `json:"parsed_data"`
	Confidence            float64        `json:"confidence"`
	ClarificationQuestion string         `json:"clarification_question,omitempty"`
}

// ChatResponse is the outcome of resolving a message. TransactionData is
// kept raw so callers can hand it back to Execute unchanged.
type ChatResponse struct {
	Intent          Intent          `json:"intent"`
	State           string          `json:"state"`
	TransactionData json.RawMessage `json:"transaction_data,omitempty"`
	DryRun          json.RawMessage `json:"dry_run,omitempty"`
	ReadyToExecute  bool            `json:"ready_to_execute"`
	Message         string          `json:"message"`
}

// ExecuteRequest submits a prepared transaction. Either PrivateKey or the
// Signature and TxBytes pair must be set.
type ExecuteRequest struct {
	TransactionData json.RawMessage `json:"transaction_data,omitempty"`
	UserAddress     string          `json:"user_address"`
	PrivateKey      string          `json:"private_key,omitempty"`
	Signature       string          `json:"signature,omitempty"`
	TxBytes         string          `json:"tx_bytes,omitempty"`
}

// ExecutionResult reports what the ledger did with a submitted transaction.
type ExecutionResult struct {
	Success bool           `json:"success"`
	Digest  string         `json:"digest,omitempty"`
	Effects map[string]any `json:"effects,omitempty"`
	Error   string         `json:"error,omitempty"`
	Status  string         `json:"status"`
}

// TaskSubmission represents the payload required to queue a chat message.
type TaskSubmission struct {
	ID          string `json:"id,omitempty"`
	Message     string `json:"message"`
	UserAddress string `json:"user_address,omitempty"`
}

// Task contains the state of a queued chat message.
type Task struct {
	ID         string        `json:"id"`
	Message    string        `json:"message"`
	Account    string        `json:"user_address,omitempty"`
	Status     string        `json:"status"`
	Attempts   int           `json:"attempts"`
	MaxRetries int           `json:"max_retries"`
	LastError  string        `json:"last_error,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Result     *ChatResponse `json:"result,omitempty"`
	CreatedAt  int64         `json:"created_at"`
	UpdatedAt  int64         `json:"updated_at"`
}

// Done reports whether the task reached a final state.
func (t Task) Done() bool {
	if t.Status == "succeeded" {
		return true
	}
	return t.Status == "failed" && t.Attempts >= t.MaxRetries
}

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	UserAddress string
	Statuses    []string
	Query       string
	Limit       int
	Offset      int
	Ascending   bool
}

func (f TaskFilter) values() url.Values {
	q := url.Values{}
	if f.UserAddress != "" {
		q.Set("user_address", f.UserAddress)
	}
	if len(f.Statuses) > 0 {
		q.Set("status", strings.Join(f.Statuses, ","))
	}
	if f.Query != "" {
		q.Set("q", f.Query)
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
	return q
}

// Contact is one address book entry.
type Contact struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Notes   string `json:"notes,omitempty"`
}

// TransactionStatus is the ledger view of a submitted transaction.
type TransactionStatus struct {
	Digest      string         `json:"digest"`
	Status      string         `json:"status"`
	TimestampMs string         `json:"timestamp_ms,omitempty"`
	Effects     map[string]any `json:"effects,omitempty"`
}

// Health is the service liveness report.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("openmcp api error (%d): %s - %s", e.StatusCode, e.Code, e.Detail)
	}
	return fmt.Sprintf("openmcp api error (%d): %s", e.StatusCode, e.Detail)
}

// NewClient instantiates a client for the OpenMCP Sui API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat resolves a natural-language message for the given account.
func (c *Client) Chat(ctx context.Context, message, userAddress string) (ChatResponse, error) {
	var out ChatResponse
	payload := map[string]string{"message": message, "user_address": userAddress}
	if err := c.post(ctx, "/api/v1/chat", payload, &out); err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

// Execute submits a transaction prepared by Chat.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (ExecutionResult, error) {
	var out ExecutionResult
	if err := c.post(ctx, "/api/v1/execute", req, &out); err != nil {
		return ExecutionResult{}, err
	}
	return out, nil
}

// SubmitTask queues a chat message for asynchronous resolution.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var out Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &out); err != nil {
		return Task{}, err
	}
	return out, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var out Task
	if err := c.get(ctx, "/api/v1/tasks/"+taskID, nil, &out); err != nil {
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

// WaitTask polls a task until it is done or ctx expires.
func (c *Client) WaitTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if task.Done() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SaveContact stores a contact in the account's encrypted address book and
// returns the blob identifier.
func (c *Client) SaveContact(ctx context.Context, userAddress string, contact Contact) (string, error) {
	payload := map[string]string{
		"user_address":    userAddress,
		"contact_name":    contact.Name,
		"contact_address": contact.Address,
		"notes":           contact.Notes,
	}
	var out struct {
		BlobID string `json:"blob_id"`
	}
	if err := c.post(ctx, "/api/v1/contacts/save", payload, &out); err != nil {
		return "", err
	}
	return out.BlobID, nil
}

// ListContacts returns the account's contacts.
func (c *Client) ListContacts(ctx context.Context, userAddress string) ([]Contact, error) {
	var out struct {
		Contacts []Contact `json:"contacts"`
	}
	q := url.Values{"user_address": []string{userAddress}}
	if err := c.get(ctx, "/api/v1/contacts/list", q, &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

// TransactionStatus looks up a transaction by digest.
func (c *Client) TransactionStatus(ctx context.Context, digest string) (TransactionStatus, error) {
	var out TransactionStatus
	if err := c.get(ctx, "/api/v1/transactions/"+digest, nil, &out); err != nil {
		return TransactionStatus{}, err
	}
	return out, nil
}

// Health checks the service liveness endpoint.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	if err := c.get(ctx, "/api/v1/health", nil, &out); err != nil {
		return Health{}, err
	}
	return out, nil
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
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawQuery = query.Encode()
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
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Detail == "" {
			apiErr.Detail = string(bytes.TrimSpace(data))
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

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
