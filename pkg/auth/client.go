package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tarang-care/tarang-live/internal/httpc"
	"github.com/tarang-care/tarang-live/internal/log"
)

// Client talks to the API's auth endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// NewClient creates an auth client. base nil means the shared httpc client.
func NewClient(apiURL string, base *http.Client) *Client {
	if base == nil {
		base = httpc.Client
	}
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		http:    base,
		log:     log.Component("auth"),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login exchanges an email and password for a session.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.exchange(req, "login")
}

// Demo logs in as the demo user of role ("parent", "clinician" or "admin").
func (c *Client) Demo(ctx context.Context, role string) (*Session, error) {
	r, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/auth/demo/" + url.PathEscape(strings.ToLower(string(r)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.exchange(req, "demo login")
}

// Resolve returns a session from the first usable credential: an existing
// token, then email and password, then a demo role.
func (c *Client) Resolve(ctx context.Context, token, email, password, demoRole string) (*Session, error) {
	switch {
	case token != "":
		return ParseToken(token)
	case email != "":
		return c.Login(ctx, email, password)
	case demoRole != "":
		return c.Demo(ctx, demoRole)
	default:
		return nil, fmt.Errorf("%w: no credentials", ErrUnauthorized)
	}
}

func (c *Client) exchange(req *http.Request, op string) (*Session, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := httpc.ParseError(resp)
		if apiErr.IsUnauthorized() {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrUnauthorized, apiErr)
		}
		return nil, fmt.Errorf("%s: %w", op, apiErr)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w: empty access_token", op, ErrInvalidToken)
	}

	s, err := ParseToken(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.log.Info("logged in", "user", s.User.Email, "role", s.User.Role)
	return s, nil
}
