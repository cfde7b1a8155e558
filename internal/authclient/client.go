// Package authclient talks to the auth service on behalf of the gateway.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"citizenportal/internal/authz"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrConflict           = errors.New("username already exists")
)

// StatusError is a non-2xx answer from the auth service.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth service status=%d", e.Status)
	}
	return fmt.Sprintf("auth service status=%d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL     string
	InternalKey string
	HTTPClient  *http.Client
}

func New(baseURL, internalKey string) *Client {
	return &Client{
		BaseURL:     baseURL,
		InternalKey: internalKey,
		HTTPClient:  &http.Client{Timeout: 6 * time.Second},
	}
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	var out LoginResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/login", false, req, &out)
	if se := (*StatusError)(nil); errors.As(err, &se) && se.Status == http.StatusUnauthorized {
		return LoginResponse{}, ErrInvalidCredentials
	}
	return out, err
}

func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (User, error) {
	var out UserResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/users", true, req, &out)
	if se := (*StatusError)(nil); errors.As(err, &se) && se.Status == http.StatusConflict {
		return User{}, ErrConflict
	}
	return out.User, err
}

func (c *Client) ListUsersByRole(ctx context.Context, role string) ([]User, error) {
	q := url.Values{}
	if role != "" {
		q.Set("role", role)
	}
	var out ListUsersResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/users?"+q.Encode(), true, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) User(ctx context.Context, id string) (User, error) {
	var out UserResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), true, nil, &out)
	if se := (*StatusError)(nil); errors.As(err, &se) && se.Status == http.StatusNotFound {
		return User{}, ErrUserNotFound
	}
	return out.User, err
}

func (c *Client) SetActive(ctx context.Context, id string, active bool) (User, error) {
	var out UserResponse
	err := c.doJSON(ctx, http.MethodPatch, "/api/users/"+url.PathEscape(id), true, UpdateUserRequest{Active: &active}, &out)
	if se := (*StatusError)(nil); errors.As(err, &se) && se.Status == http.StatusNotFound {
		return User{}, ErrUserNotFound
	}
	return out.User, err
}

// IsTechnician reports whether id names an active technician account.
func (c *Client) IsTechnician(ctx context.Context, id string) (bool, error) {
	u, err := c.User(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Active && slices.Contains(u.Roles, authz.RoleTechnician), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, internal bool, in any, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if internal {
		req.Header.Set("X-Internal-Key", c.InternalKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
