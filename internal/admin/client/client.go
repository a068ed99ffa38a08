// Package client is the HTTP client the admin console uses to talk to the
// licensing server's /admin API.
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
	"strings"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/hashicorp/go-retryablehttp"
)

// Account mirrors the server's account payload.
type Account struct {
	Username       string               `json:"username,omitempty"`
	Plan           string               `json:"plan"`
	PaidUntil      *time.Time           `json:"paid_until"`
	DaysLeft       int                  `json:"days_left"`
	Machines       []string             `json:"machines"`
	MachineBoundAt map[string]time.Time `json:"machine_bound_at"`
	PendingMachine *string              `json:"pending_machine"`
	TrialEndsAt    *time.Time           `json:"trial_ends_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

type CreateRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	PendingMachine string `json:"pending_machine,omitempty"`
	PaidDays       int    `json:"paid_days,omitempty"`
}

// Result is the generic acknowledgement returned by mutating endpoints.
type Result struct {
	OK        bool       `json:"ok"`
	Message   string     `json:"message,omitempty"`
	Token     string     `json:"token,omitempty"`
	PaidUntil *time.Time `json:"paid_until,omitempty"`
	Warning   string     `json:"warning,omitempty"`
	Key       string     `json:"key,omitempty"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, e.ErrorCode)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.ErrorCode)
}

// Is lets callers match API errors against the common sentinels.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return target == common.ErrUnauthenticated
	case http.StatusNotFound:
		return target == common.ErrorNotFound
	case http.StatusConflict:
		return target == common.ErrConflict
	case http.StatusForbidden:
		return target == common.ErrForbidden
	case http.StatusBadRequest:
		return target == common.ErrInvalidInput
	}
	return false
}

type Options struct {
	Retries int
	Timeout time.Duration
}

type Client struct {
	baseURL string
	http    *retryablehttp.Client
	token   string
}

func New(baseURL string, opts Options) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.Retries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: rc}
}

func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func userPath(username, action string) string {
	p := "/admin/users/" + url.PathEscape(username)
	if action != "" {
		p += "/" + action
	}
	return p
}

// Login exchanges admin credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var res Result
	err := c.do(ctx, http.MethodPost, "/admin/login", map[string]string{"username": username, "password": password}, &res)
	if err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", errors.New("server returned no token")
	}
	c.token = res.Token
	return res.Token, nil
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/admin/logout", nil, nil)
	c.token = ""
	return err
}

func (c *Client) ListUsers(ctx context.Context) (map[string]Account, error) {
	var res struct {
		Users map[string]Account `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/users", nil, &res); err != nil {
		return nil, err
	}
	for name, a := range res.Users {
		a.Username = name
		res.Users[name] = a
	}
	return res.Users, nil
}

func (c *Client) GetUser(ctx context.Context, username string) (*Account, error) {
	var a Account
	if err := c.do(ctx, http.MethodGet, userPath(username, ""), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) SetPaid(ctx context.Context, username string, days int) (*Result, error) {
	return c.post(ctx, userPath(username, "set_paid"), map[string]int{"days": days})
}

func (c *Client) SetPaidExact(ctx context.Context, username string, days int) (*Result, error) {
	return c.post(ctx, userPath(username, "set_paid_exact"), map[string]int{"days": days})
}

func (c *Client) ResetPassword(ctx context.Context, username, password string) (*Result, error) {
	return c.post(ctx, userPath(username, "reset_password"), map[string]string{"new_password": password})
}

func (c *Client) Rename(ctx context.Context, username, newUsername string) (*Result, error) {
	return c.post(ctx, userPath(username, "rename"), map[string]string{"new_username": newUsername})
}

func (c *Client) Delete(ctx context.Context, username string) (*Result, error) {
	var res Result
	if err := c.do(ctx, http.MethodDelete, userPath(username, ""), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	return c.post(ctx, "/admin/users/create", req)
}

func (c *Client) Backup(ctx context.Context) (*Result, error) {
	return c.post(ctx, "/admin/backup", nil)
}

func (c *Client) post(ctx context.Context, path string, body any) (*Result, error) {
	var res Result
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
