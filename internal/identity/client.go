// Package identity wraps the external identity provider (a GoTrue-style
// HTTP auth service) and maps its profile records onto the internal User
// shape. Failures here are caller-visible: the user has to act on them.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nexuslab/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrAlreadyRegistered  = errors.New("account already registered")
	ErrNoSession          = errors.New("no active session")
)

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{cfg: cfg}
}

type providerUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Metadata struct {
		Name        string `json:"name"`
		Theme       string `json:"theme"`
		DefaultMode string `json:"default_mode"`
	} `json:"user_metadata"`
	EmailConfirmedAt string `json:"email_confirmed_at"`
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
	User        providerUser `json:"user"`
}

type providerError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
}

func (e providerError) text() string {
	for _, s := range []string{e.Description, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Login exchanges credentials for a session via the password grant.
func (c *Client) Login(ctx context.Context, email, password string) (models.Session, error) {
	payload := map[string]string{"email": email, "password": password}
	status, body, err := c.post(ctx, "/token?grant_type=password", "", payload)
	if err != nil {
		return models.Session{}, err
	}

	if status < 200 || status > 299 {
		msg := strings.ToLower(decodeProviderError(body).text())
		switch {
		case strings.Contains(msg, "not confirmed"), strings.Contains(msg, "not verified"):
			return models.Session{}, ErrEmailNotVerified
		case status == http.StatusBadRequest, status == http.StatusUnauthorized:
			return models.Session{}, ErrInvalidCredentials
		default:
			return models.Session{}, fmt.Errorf("identity provider status %d", status)
		}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return models.Session{}, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return models.Session{}, fmt.Errorf("missing access token in provider response")
	}
	return models.Session{
		User:      mapUser(tok.User),
		Token:     tok.AccessToken,
		ExpiresAt: time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}, nil
}

// Signup registers a new account. The provider sends its own verification
// email; the returned user is not logged in yet.
func (c *Client) Signup(ctx context.Context, name, email, password string) (models.User, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
		"data": map[string]string{
			"name": name,
		},
	}
	status, body, err := c.post(ctx, "/signup", "", payload)
	if err != nil {
		return models.User{}, err
	}

	if status < 200 || status > 299 {
		msg := strings.ToLower(decodeProviderError(body).text())
		if strings.Contains(msg, "already registered") || strings.Contains(msg, "already exists") || status == http.StatusConflict {
			return models.User{}, ErrAlreadyRegistered
		}
		return models.User{}, fmt.Errorf("identity provider status %d", status)
	}

	var u providerUser
	if err := json.Unmarshal(body, &u); err != nil {
		return models.User{}, fmt.Errorf("decode signup response: %w", err)
	}
	return mapUser(u), nil
}

// CurrentSession validates a stored token and refreshes the profile from
// the provider. Expired or rejected tokens yield ErrNoSession.
func (c *Client) CurrentSession(ctx context.Context, token string) (models.Session, error) {
	if strings.TrimSpace(token) == "" {
		return models.Session{}, ErrNoSession
	}

	expiresAt, err := tokenExpiry(token)
	if err != nil || !expiresAt.After(time.Now()) {
		return models.Session{}, ErrNoSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/user", nil)
	if err != nil {
		return models.Session{}, fmt.Errorf("build user request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return models.Session{}, fmt.Errorf("fetch user: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Session{}, fmt.Errorf("read user response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return models.Session{}, ErrNoSession
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Session{}, fmt.Errorf("identity provider status %d", resp.StatusCode)
	}

	var u providerUser
	if err := json.Unmarshal(body, &u); err != nil {
		return models.Session{}, fmt.Errorf("decode user response: %w", err)
	}
	return models.Session{User: mapUser(u), Token: token, ExpiresAt: expiresAt}, nil
}

func (c *Client) Logout(ctx context.Context, token string) error {
	status, _, err := c.post(ctx, "/logout", token, nil)
	if err != nil {
		return err
	}
	// 401 here means the token is already dead, which is what we wanted.
	if status != http.StatusNoContent && status != http.StatusOK && status != http.StatusUnauthorized {
		return fmt.Errorf("identity provider status %d", status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, token string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request payload: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// tokenExpiry reads the exp claim without verifying the signature; the
// provider issued the token and the real check happens server-side on
// every authenticated call.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry")
	}
	return exp.Time, nil
}

func mapUser(u providerUser) models.User {
	mode := models.Mode(u.Metadata.DefaultMode)
	if !mode.Valid() {
		mode = models.ModeStudy
	}
	theme := u.Metadata.Theme
	if theme == "" {
		theme = "dark"
	}
	return models.User{
		ID:    u.ID,
		Name:  u.Metadata.Name,
		Email: u.Email,
		Preferences: models.Preferences{
			Theme:       theme,
			DefaultMode: mode,
		},
	}
}

func decodeProviderError(body []byte) providerError {
	var pe providerError
	_ = json.Unmarshal(body, &pe)
	return pe
}
