// Package ats implements the workqueue backend on top of the Automation
// Server REST API.
package ats

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

	"github.com/JakeFAU/pagecount-runner/internal/workqueue"
)

const maxErrorBody = 4 << 10

// Config identifies the Automation Server session the process runs under.
type Config struct {
	URL       string
	Token     string
	Session   string
	Resource  string
	Process   string
	Workqueue string
	Timeout   time.Duration
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to a single workqueue on the Automation Server.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	workqueueID string
	session     string
	resource    string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient builds a client and resolves the workqueue id. When
// cfg.Workqueue is empty the id is looked up from the process.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("ats url is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse ats url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		token:       cfg.Token,
		httpClient:  &http.Client{Timeout: timeout},
		workqueueID: cfg.Workqueue,
		session:     cfg.Session,
		resource:    cfg.Resource,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.workqueueID != "" {
		return c, nil
	}
	if cfg.Process == "" {
		return nil, errors.New("either ats workqueue or ats process must be set")
	}
	id, err := c.resolveWorkqueue(ctx, cfg.Process)
	if err != nil {
		return nil, err
	}
	c.workqueueID = id
	return c, nil
}

// Session returns the orchestrator session id the process runs under.
func (c *Client) Session() string { return c.session }

// Resource returns the orchestrator resource executing the process.
func (c *Client) Resource() string { return c.resource }

// WorkqueueID returns the id of the workqueue the client operates on.
func (c *Client) WorkqueueID() string {
	return c.workqueueID
}

type processResponse struct {
	ID          json.Number `json:"id"`
	WorkqueueID json.Number `json:"workqueue_id"`
}

func (c *Client) resolveWorkqueue(ctx context.Context, process string) (string, error) {
	var proc processResponse
	if _, err := c.do(ctx, http.MethodGet, "/processes/"+url.PathEscape(process), nil, &proc); err != nil {
		return "", fmt.Errorf("resolve workqueue for process %s: %w", process, err)
	}
	if proc.WorkqueueID == "" {
		return "", fmt.Errorf("process %s has no workqueue", process)
	}
	return proc.WorkqueueID.String(), nil
}

type addRequest struct {
	Data      string `json:"data"`
	Reference string `json:"reference"`
}

type clearRequest struct {
	WorkitemStatus workqueue.Status `json:"workitem_status,omitempty"`
	DaysOlderThan  *int             `json:"days_older_than"`
}

type statusRequest struct {
	Status  workqueue.Status `json:"status"`
	Message string           `json:"message"`
}

type itemResponse struct {
	ID        json.Number     `json:"id"`
	Data      json.RawMessage `json:"data"`
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
}

func (r itemResponse) toItem() (workqueue.Item, error) {
	data, err := decodeData(r.Data)
	if err != nil {
		return workqueue.Item{}, fmt.Errorf("decode item %s data: %w", r.ID, err)
	}
	return workqueue.Item{
		ID:        r.ID.String(),
		Reference: r.Reference,
		Data:      data,
		Status:    workqueue.Status(r.Status),
		Message:   r.Message,
	}, nil
}

// decodeData accepts the payload either as a JSON object or as a JSON
// string holding the encoded object, which is how the server stores it.
func decodeData(raw json.RawMessage) (workqueue.ItemData, error) {
	var data workqueue.ItemData
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return data, nil
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return data, err
		}
		if strings.TrimSpace(encoded) == "" {
			return data, nil
		}
		raw = json.RawMessage(encoded)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, err
	}
	return data, nil
}

func encodeData(data workqueue.ItemData) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode item data: %w", err)
	}
	return string(b), nil
}

// Add enqueues an item on the workqueue.
func (c *Client) Add(ctx context.Context, data workqueue.ItemData, reference string) (workqueue.Item, error) {
	encoded, err := encodeData(data)
	if err != nil {
		return workqueue.Item{}, err
	}
	var resp itemResponse
	path := "/workqueues/" + url.PathEscape(c.workqueueID) + "/add"
	if _, err := c.do(ctx, http.MethodPost, path, addRequest{Data: encoded, Reference: reference}, &resp); err != nil {
		return workqueue.Item{}, err
	}
	return resp.toItem()
}

// Clear removes all items in status from the workqueue.
func (c *Client) Clear(ctx context.Context, status workqueue.Status) error {
	path := "/workqueues/" + url.PathEscape(c.workqueueID) + "/clear"
	_, err := c.do(ctx, http.MethodPost, path, clearRequest{WorkitemStatus: status}, nil)
	return err
}

// Next claims the next new item. The server answers 204 when the queue is empty.
func (c *Client) Next(ctx context.Context) (workqueue.Item, error) {
	var resp itemResponse
	path := "/workqueues/" + url.PathEscape(c.workqueueID) + "/next_item"
	status, err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return workqueue.Item{}, err
	}
	if status == http.StatusNoContent {
		return workqueue.Item{}, workqueue.ErrEmpty
	}
	return resp.toItem()
}

// Update replaces the item's payload. The server's update endpoint also
// rewrites the reference, so the item's current reference is sent back.
func (c *Client) Update(ctx context.Context, id string, data workqueue.ItemData, reference string) error {
	encoded, err := encodeData(data)
	if err != nil {
		return err
	}
	body := addRequest{Data: encoded, Reference: reference}
	_, err = c.do(ctx, http.MethodPut, "/workitems/"+url.PathEscape(id), body, nil)
	return err
}

// SetStatus records the item's status.
func (c *Client) SetStatus(ctx context.Context, id string, status workqueue.Status, message string) error {
	body := statusRequest{Status: status, Message: message}
	_, err := c.do(ctx, http.MethodPut, "/workitems/"+url.PathEscape(id)+"/status", body, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body already consumed

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return resp.StatusCode, nil
}
