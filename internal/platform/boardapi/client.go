// Package boardapi is the HTTP client for the board's server of record.
package boardapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/todo-1m/board/internal/contracts"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type AuthResponse struct {
	Token string         `json:"token"`
	User  contracts.User `json:"user"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type conflictResponse struct {
	Message       string         `json:"message"`
	ServerVersion contracts.Task `json:"serverVersion"`
}

type AssignResponse struct {
	Message string         `json:"message"`
	Task    contracts.Task `json:"task"`
}

// Login exchanges credentials for a token and installs it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", credentials{Email: email, Password: password}, &resp); err != nil {
		return AuthResponse{}, err
	}
	c.SetToken(resp.Token)
	return resp, nil
}

func (c *Client) Signup(ctx context.Context, email, password string) (AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", credentials{Email: email, Password: password}, &resp); err != nil {
		return AuthResponse{}, err
	}
	c.SetToken(resp.Token)
	return resp, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]contracts.User, error) {
	var users []contracts.User
	if err := c.do(ctx, http.MethodGet, "/auth/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) ListTasks(ctx context.Context) ([]contracts.Task, error) {
	var tasks []contracts.Task
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) ListActivity(ctx context.Context) ([]contracts.ActivityLogEntry, error) {
	var entries []contracts.ActivityLogEntry
	if err := c.do(ctx, http.MethodGet, "/activity", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) CreateTask(ctx context.Context, in contracts.TaskInput) (contracts.Task, error) {
	var task contracts.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", in, &task); err != nil {
		return contracts.Task{}, err
	}
	return task, nil
}

// UpdateTask replaces the task. When in.LastUpdatedAt is set and stale the
// server answers 409 and the error is a *ConflictError.
func (c *Client) UpdateTask(ctx context.Context, id string, in contracts.TaskInput) (contracts.Task, error) {
	if strings.TrimSpace(id) == "" {
		return contracts.Task{}, ErrMissingTaskID
	}
	var task contracts.Task
	if err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), in, &task); err != nil {
		return contracts.Task{}, err
	}
	return task, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingTaskID
	}
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

// SmartAssign asks the server to pick an assignee for the task.
func (c *Client) SmartAssign(ctx context.Context, id string) (AssignResponse, error) {
	if strings.TrimSpace(id) == "" {
		return AssignResponse{}, ErrMissingTaskID
	}
	var resp AssignResponse
	if err := c.do(ctx, http.MethodPost, "/tasks/smart-assign/"+url.PathEscape(id), nil, &resp); err != nil {
		return AssignResponse{}, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		var conflict conflictResponse
		if err := json.Unmarshal(responseBody, &conflict); err != nil || conflict.ServerVersion.ID == "" {
			// A 409 without a server version cannot be resolved by the client.
			return &APIError{Status: resp.StatusCode, Message: messageFrom(responseBody, resp.StatusCode)}
		}
		return &ConflictError{Message: conflict.Message, ServerVersion: conflict.ServerVersion}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{Status: resp.StatusCode, Message: messageFrom(responseBody, resp.StatusCode)}
	}

	if out != nil && len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

func messageFrom(body []byte, status int) string {
	var msg messageResponse
	if err := json.Unmarshal(body, &msg); err == nil && strings.TrimSpace(msg.Message) != "" {
		return msg.Message
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(status)
	}
	return truncate(text, 240)
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max] + "..."
}
