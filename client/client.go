// Package client talks to the Tandem HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"tandem/domain"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tandem api: %d %s", e.StatusCode, e.Message)
}

// Client wraps http.Client with helpers for JSON requests.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type Session struct {
	User domain.UserProfile `json:"user"`
	Role domain.UserRole    `json:"role"`
}

func (c *Client) Session(ctx context.Context) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var out []domain.Project
	err := c.do(ctx, http.MethodGet, "/api/projects", nil, nil, &out)
	return out, err
}

func (c *Client) GetProject(ctx context.Context, id string) (*domain.ProjectDetail, error) {
	var out domain.ProjectDetail
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateProject(ctx context.Context, in domain.NewProject) (*domain.Project, error) {
	var out domain.Project
	if err := c.do(ctx, http.MethodPost, "/api/projects", in, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Activity(ctx context.Context, projectID string) ([]domain.BoardEvent, error) {
	var out []domain.BoardEvent
	err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID)+"/activity", nil, nil, &out)
	return out, err
}

// CreateTask creates a task. A non-empty idempotencyKey makes retries with
// the same key return the first result.
func (c *Client) CreateTask(ctx context.Context, projectID string, in domain.NewTask, idempotencyKey string) (*domain.Task, error) {
	var hdr http.Header
	if idempotencyKey != "" {
		hdr = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var out domain.Task
	if err := c.do(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/tasks", in, hdr, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Patch is a partial task update. Fields absent from the map are left
// untouched; fields set to nil are cleared.
type Patch map[string]any

func (p Patch) Set(field string, v any) Patch {
	p[field] = v
	return p
}

func (p Patch) Clear(field string) Patch {
	p[field] = nil
	return p
}

func (c *Client) UpdateTask(ctx context.Context, taskID string, patch Patch) (*domain.Task, error) {
	var out domain.Task
	if err := c.do(ctx, http.MethodPatch, "/api/projects/tasks/"+url.PathEscape(taskID), patch, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MoveTask(ctx context.Context, taskID string, req domain.MoveRequest) (*domain.Task, error) {
	var out domain.Task
	if err := c.do(ctx, http.MethodPost, "/api/projects/tasks/"+url.PathEscape(taskID)+"/move", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JoinWaitlist(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/waitlist", map[string]string{"email": email}, nil, nil)
}

func (c *Client) Waitlist(ctx context.Context) ([]domain.WaitlistEntry, error) {
	var out []domain.WaitlistEntry
	err := c.do(ctx, http.MethodGet, "/api/admin/waitlist", nil, nil, &out)
	return out, err
}

func (c *Client) Whitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	var out []domain.WhitelistEntry
	err := c.do(ctx, http.MethodGet, "/api/admin/whitelist", nil, nil, &out)
	return out, err
}

func (c *Client) AddToWhitelist(ctx context.Context, email string) (*domain.WhitelistEntry, error) {
	var out domain.WhitelistEntry
	if err := c.do(ctx, http.MethodPost, "/api/admin/whitelist", map[string]string{"email": email}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveFromWhitelist(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodDelete, "/api/admin/whitelist/"+url.PathEscape(email), nil, nil, nil)
}

// Stream calls fn for every board event of a project until ctx ends, the
// server closes the stream or fn returns an error.
func (c *Client) Stream(ctx context.Context, projectID string, fn func(domain.BoardEvent) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID)+"/stream", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	// the shared client carries a timeout that would cut the stream
	streaming := &http.Client{Transport: c.HTTP.Transport}
	resp, err := streaming.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:") && event == "":
			var ev domain.BoardEvent
			if err := sonic.UnmarshalString(strings.TrimSpace(strings.TrimPrefix(line, "data:")), &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, hdr http.Header) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := sonic.ConfigStd.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, hdr http.Header, out any) error {
	req, err := c.newRequest(ctx, method, path, body, hdr)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}

func readError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"message"`
	}
	if err := sonic.Unmarshal(data, &body); err == nil && body.Message != "" {
		apiErr.Message = body.Message
	}
	return apiErr
}
