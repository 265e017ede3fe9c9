package httptransport

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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/observability"
)

// Config holds identity server client settings
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables throttling
	Burst     int
	UserAgent string
}

// DefaultConfig returns default client settings for baseURL
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:   baseURL,
		Timeout:   10 * time.Second,
		RateLimit: 5,
		Burst:     10,
		UserAgent: "authd",
	}
}

// Client talks to the identity server over JSON/HTTP. It implements
// unifiedauth.Transport.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *observability.Logger
	now       func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates an identity server client
func New(config *Config, opts ...Option) (*Client, error) {
	if config == nil || config.BaseURL == "" {
		return nil, errors.New("identity server base URL is required")
	}

	c := &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		userAgent: config.UserAgent,
		http: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
	if config.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), max(config.Burst, 1))
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = observability.OrNop(c.logger).WithComponent("identity_client")
	return c, nil
}

type loginRequest struct {
	Identifier string        `json:"identifier"`
	Password   string        `json:"password"`
	DeviceID   string        `json:"device_id,omitempty"`
	Platform   auth.Platform `json:"platform"`
	Method     auth.Method   `json:"method"`
}

type refreshRequest struct {
	RefreshToken string        `json:"refresh_token"`
	Platform     auth.Platform `json:"platform"`
	Method       auth.Method   `json:"method"`
}

// tokenResponse is the identity server's token payload. Expiry comes from
// expires_at, then expires_in, then the access token's exp claim.
type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	ExpiresIn    int64           `json:"expires_in,omitempty"`
	Principal    *auth.Principal `json:"principal,omitempty"`
}

// ExchangeCredentials posts creds to /login
func (c *Client) ExchangeCredentials(ctx context.Context, strategy auth.Strategy, creds auth.Credentials) (*auth.TokenSet, error) {
	req := loginRequest{
		Identifier: creds.Identifier,
		Password:   creds.Password,
		DeviceID:   creds.DeviceID,
		Platform:   strategy.Platform,
		Method:     strategy.Method,
	}
	var resp tokenResponse
	if err := c.do(ctx, "exchange", "/login", "", req, &resp); err != nil {
		return nil, err
	}
	return c.tokenSet("exchange", &resp)
}

// RefreshSession posts the refresh token to /refresh
func (c *Client) RefreshSession(ctx context.Context, strategy auth.Strategy, refreshToken string) (*auth.TokenSet, error) {
	req := refreshRequest{
		RefreshToken: refreshToken,
		Platform:     strategy.Platform,
		Method:       strategy.Method,
	}
	var resp tokenResponse
	if err := c.do(ctx, "refresh", "/refresh", "", req, &resp); err != nil {
		return nil, err
	}
	return c.tokenSet("refresh", &resp)
}

// RevokeSession posts to /logout with token as bearer. A token the server
// no longer recognises counts as revoked.
func (c *Client) RevokeSession(ctx context.Context, token string) error {
	err := c.do(ctx, "revoke", "/logout", token, nil, nil)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, op, path, bearer string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &auth.TransportError{Op: op, Err: err}
		}
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &auth.TransportError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return &auth.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &auth.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.WithFields(map[string]interface{}{
		"op":       op,
		"status":   resp.StatusCode,
		"duration": c.now().Sub(start).String(),
	}).Debug("identity server call")

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return auth.ErrInvalidCredentials
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &auth.TransportError{Op: op, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &auth.TransportError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func (c *Client) tokenSet(op string, resp *tokenResponse) (*auth.TokenSet, error) {
	if resp.AccessToken == "" {
		return nil, &auth.TransportError{Op: op, Err: errors.New("response has no access token")}
	}

	expiresAt, err := c.expiry(resp)
	if err != nil {
		return nil, &auth.TransportError{Op: op, Err: err}
	}
	return &auth.TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
		Principal:    resp.Principal,
	}, nil
}

func (c *Client) expiry(resp *tokenResponse) (time.Time, error) {
	if resp.ExpiresAt != nil && !resp.ExpiresAt.IsZero() {
		return *resp.ExpiresAt, nil
	}
	if resp.ExpiresIn > 0 {
		return c.now().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
	}
	return TokenExpiry(resp.AccessToken)
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// The identity server already vouched for the token; only the expiry is
// needed here.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("response has no expiry and token is not a JWT: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}
