// Package client talks to a trix server over its REST API and realtime stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vovakirdan/trix-server/internal/proto"
)

// DefaultTimeout bounds a single REST call.
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (http %d)", e.Code, e.Status)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client is a session against one server. Login and Rename update the token
// used by later calls.
type Client struct {
	baseURL string
	http    *http.Client

	mu       sync.RWMutex
	token    string
	username string
}

// New creates a client for baseURL such as "http://localhost:8080".
// httpClient may be nil.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Username returns the name the current token was issued for.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) setSession(token, username string) {
	c.mu.Lock()
	c.token = token
	c.username = username
	c.mu.Unlock()
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.do(ctx, http.MethodPost, "/api/register", credentials{username, password}, nil)
}

// Login verifies credentials and stores the issued token.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var out loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/login", credentials{username, password}, &out); err != nil {
		return err
	}
	c.setSession(out.Token, out.Username)
	return nil
}

// UserExists reports whether a username is registered.
func (c *Client) UserExists(ctx context.Context, username string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	err := c.do(ctx, http.MethodGet, "/api/users/exists?username="+url.QueryEscape(username), nil, &out)
	return out.Exists, err
}

// Chats lists the caller's conversation ids.
func (c *Client) Chats(ctx context.Context) ([]string, error) {
	var out struct {
		Chats []string `json:"chats"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

// Messages returns messages of chat newer than since.
func (c *Client) Messages(ctx context.Context, chat string, since int64) ([]proto.Message, error) {
	q := url.Values{}
	q.Set("chat", chat)
	q.Set("since", strconv.FormatInt(since, 10))

	var out struct {
		Messages []proto.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Send appends a message to the conversation with to.
func (c *Client) Send(ctx context.Context, to, text string) (proto.Message, error) {
	body := struct {
		To   string `json:"to"`
		Text string `json:"text"`
	}{to, text}
	var out struct {
		Message proto.Message `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/api/messages", body, &out)
	return out.Message, err
}

// Rename changes the caller's username and switches to the new token.
func (c *Client) Rename(ctx context.Context, newUsername string) error {
	body := struct {
		NewUsername string `json:"newUsername"`
	}{newUsername}
	var out loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/user/rename", body, &out); err != nil {
		return err
	}
	c.setSession(out.Token, out.Username)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
