/**
 * @description
 * This package provides a client for the Marzban proxy-management panel admin API.
 * It owns the admin token lifecycle and translates panel responses into the
 * service's error taxonomy: not found, transient, auth failure, and no capacity.
 *
 * @notes
 * - The admin token is cached until its assumed expiry and refreshed on any 401;
 *   the failed request is retried exactly once with the new token.
 * - Concurrent refreshes are collapsed into one token request.
 */
package marzban

import (
	"bytes"
	"context"
	"crypto/tls"
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

	"golang.org/x/sync/singleflight"

	"github.com/finik/vpn-subscription-service/internal/domain"
)

const (
	defaultTokenTTL = time.Hour
	defaultTimeout  = 15 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL         string
	Username        string
	Password        string
	InboundProtocol string
	TokenTTL        time.Duration
	Timeout         time.Duration
	InsecureTLS     bool
}

// Client is a client for the Marzban admin API.
type Client struct {
	baseURL    string
	username   string
	password   string
	protocol   string
	tokenTTL   time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	refresh     singleflight.Group
}

// NewClient creates a new Marzban client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	protocol := strings.TrimSpace(cfg.InboundProtocol)
	if protocol == "" {
		protocol = "vless"
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.InsecureTLS {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		// Panels are commonly deployed with self-signed certificates.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		httpClient.Transport = transport
	}

	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		protocol:   protocol,
		tokenTTL:   ttl,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Protocol returns the inbound protocol used for new accounts.
func (c *Client) Protocol() string {
	return c.protocol
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type userResponse struct {
	Username        string  `json:"username"`
	Status          string  `json:"status"`
	SubscriptionURL string  `json:"subscription_url"`
	OnlineAt        *string `json:"online_at"`
	CreatedAt       *string `json:"created_at"`
}

type inboundResponse struct {
	Tag      string          `json:"tag"`
	Protocol string          `json:"protocol"`
	Network  string          `json:"network"`
	TLS      string          `json:"tls"`
	Port     json.RawMessage `json:"port"`
}

type createUserRequest struct {
	Username string                         `json:"username"`
	Status   string                         `json:"status"`
	Proxies  map[string]map[string]struct{} `json:"proxies"`
	Inbounds map[string][]string            `json:"inbounds"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// FetchAccount retrieves an account by username. A missing account yields domain.ErrNotFound.
func (c *Client) FetchAccount(ctx context.Context, username string) (*domain.VPNAccount, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/api/user/"+url.PathEscape(username), nil, &resp); err != nil {
		return nil, err
	}
	account := resp.toAccount()
	return &account, nil
}

// CreateAccount creates an account bound to the first eligible inbound of the
// configured protocol.
func (c *Client) CreateAccount(ctx context.Context, username string, capacity domain.Capacity) (*domain.VPNAccount, error) {
	inbound, ok := capacity.Select(c.protocol)
	if !ok {
		return nil, fmt.Errorf("no %s inbound for %s: %w", c.protocol, username, domain.ErrCapacityUnavailable)
	}

	payload := createUserRequest{
		Username: username,
		Status:   domain.VPNStatusActive,
		Proxies:  map[string]map[string]struct{}{c.protocol: {}},
		Inbounds: map[string][]string{c.protocol: {inbound.Tag}},
	}
	var resp userResponse
	if err := c.do(ctx, http.MethodPost, "/api/user", payload, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.SubscriptionURL) == "" {
		return nil, fmt.Errorf("marzban created %s without a subscription url", username)
	}
	account := resp.toAccount()
	return &account, nil
}

// DeleteAccount removes an account. Deleting a missing account succeeds.
func (c *Client) DeleteAccount(ctx context.Context, username string) error {
	err := c.do(ctx, http.MethodDelete, "/api/user/"+url.PathEscape(username), nil, nil)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// SetEnabled toggles the account between active and disabled.
func (c *Client) SetEnabled(ctx context.Context, username string, enabled bool) error {
	status := domain.VPNStatusDisabled
	if enabled {
		status = domain.VPNStatusActive
	}
	return c.do(ctx, http.MethodPut, "/api/user/"+url.PathEscape(username), statusRequest{Status: status}, nil)
}

// ListCapacity returns the panel's inbounds grouped by protocol.
func (c *Client) ListCapacity(ctx context.Context) (domain.Capacity, error) {
	var resp map[string][]inboundResponse
	if err := c.do(ctx, http.MethodGet, "/api/inbounds", nil, &resp); err != nil {
		return nil, err
	}
	capacity := make(domain.Capacity, len(resp))
	for protocol, inbounds := range resp {
		for _, in := range inbounds {
			capacity[protocol] = append(capacity[protocol], domain.Inbound{
				Tag:      in.Tag,
				Protocol: firstNonEmpty(in.Protocol, protocol),
				Network:  in.Network,
				TLS:      in.TLS,
				Port:     parsePort(in.Port),
			})
		}
	}
	return capacity, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("marzban base URL is not configured")
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal marzban payload: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("marzban %s %s: %w: %w", method, path, domain.ErrTransient, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			drain(resp)
			c.invalidate(token)
			continue
		}
		return decodeResponse(resp, method, path, out)
	}
}

func decodeResponse(resp *http.Response, method, path string, out any) error {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode marzban %s %s response: %w", method, path, err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("marzban %s %s: %w", method, path, domain.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("marzban %s %s returned %d: %w", method, path, resp.StatusCode, domain.ErrAuthFailure)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("marzban %s %s returned %d: %w", method, path, resp.StatusCode, domain.ErrTransient)
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("marzban %s %s returned error status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	// The refresh outlives the caller that started it; each caller waits on its own ctx.
	ch := c.refresh.DoChan("token", func() (any, error) {
		c.mu.Lock()
		if c.token != "" && c.now().Before(c.tokenExpiry) {
			token := c.token
			c.mu.Unlock()
			return token, nil
		}
		c.mu.Unlock()

		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.httpClient.Timeout)
		defer cancel()
		token, err := c.fetchToken(refreshCtx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = token
		c.tokenExpiry = c.now().Add(c.tokenTTL)
		c.mu.Unlock()
		return token, nil
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("marzban token request: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) invalidate(stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == stale {
		c.token = ""
		c.tokenExpiry = time.Time{}
	}
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("marzban token request: %w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("marzban token request returned %d: %w", resp.StatusCode, domain.ErrTransient)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("marzban token request returned %d: %w", resp.StatusCode, domain.ErrAuthFailure)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("failed to decode marzban token: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("marzban returned an empty token: %w", domain.ErrAuthFailure)
	}
	return token.AccessToken, nil
}

func (u userResponse) toAccount() domain.VPNAccount {
	return domain.VPNAccount{
		Username:        u.Username,
		Status:          u.Status,
		SubscriptionURL: u.SubscriptionURL,
		OnlineAt:        parsePanelTime(u.OnlineAt),
		CreatedAt:       parsePanelTime(u.CreatedAt),
	}
}

var panelTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parsePanelTime accepts RFC 3339 and the naive UTC timestamps Marzban emits.
func parsePanelTime(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return nil
	}
	for _, layout := range panelTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func parsePort(raw json.RawMessage) int {
	value := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return port
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
