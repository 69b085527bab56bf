package backend

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

	"github.com/google/uuid"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultTimeout bounds a single backend round trip
const DefaultTimeout = 15 * time.Second

// Client talks to the sandbox REST API.
//
// Authenticated requests read the access token from the store on every call.
// A 401 answer triggers a token refresh; at most one refresh runs at a time and
// requests that hit a 401 meanwhile wait behind it, then retry with the token
// it produced. A failed refresh clears the persisted session and fires the
// session-expired hook once.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      ports.Store
	logger     *zap.Logger
	metrics    *Metrics

	refreshSem *semaphore.Weighted

	mu        sync.RWMutex
	onExpired func(ctx context.Context, reason string)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics enables request counters
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a backend client for baseURL
func New(baseURL string, store ports.Store, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		store:      store,
		logger:     logger,
		refreshSem: semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ports.Backend = (*Client)(nil)

// OnSessionExpired registers the hook run after a refresh failed and the
// persisted session was cleared
func (c *Client) OnSessionExpired(fn func(ctx context.Context, reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpired = fn
}

type request struct {
	method string
	route  string // route template, used as metrics label
	path   string
	query  url.Values
	body   any
	auth   bool
}

// RequestChallenge fetches a fresh challenge for address
func (c *Client) RequestChallenge(ctx context.Context, address string) (*core.Challenge, error) {
	var out core.Challenge
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/sandbox/challenge",
		path:   "/sandbox/challenge",
		body:   map[string]string{"polkadotAddress": address},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to request challenge: %w", err)
	}
	out.Address = address
	return &out, nil
}

// Authenticate submits a signed challenge
func (c *Client) Authenticate(ctx context.Context, req core.AuthRequest) (*core.AuthResult, error) {
	var out core.AuthResult
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/sandbox/auth",
		path:   "/sandbox/auth",
		body:   req,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("failed to authenticate: %w", core.ErrInvalidToken)
	}
	return &out, nil
}

// Me fetches the profile of address
func (c *Client) Me(ctx context.Context, address string) (*core.User, error) {
	var out core.User
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/sandbox/me/:address",
		path:   "/sandbox/me/" + url.PathEscape(address),
		auth:   true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &out, nil
}

// Logout ends the session on the backend
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/sandbox/logout",
		path:   "/sandbox/logout",
		auth:   true,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

// RegenerateKey exchanges a signed challenge for a new API key
func (c *Client) RegenerateKey(ctx context.Context, req core.SignedChallenge) (string, error) {
	var out struct {
		APIKey string `json:"apiKey"`
	}
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/sandbox/regenerate-key",
		path:   "/sandbox/regenerate-key",
		body:   req,
		auth:   true,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("failed to regenerate key: %w", err)
	}
	return out.APIKey, nil
}

// Stats fetches usage statistics
func (c *Client) Stats(ctx context.Context) (*core.Stats, error) {
	var out core.Stats
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/sandbox/stats",
		path:   "/sandbox/stats",
		auth:   true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}
	return &out, nil
}

// Logs fetches a page of request logs
func (c *Client) Logs(ctx context.Context, filter core.LogFilter) (*core.LogPage, error) {
	var out core.LogPage
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/sandbox/logs",
		path:   "/sandbox/logs",
		query:  logQuery(filter),
		auth:   true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs: %w", err)
	}
	return &out, nil
}

func logQuery(f core.LogFilter) url.Values {
	q := url.Values{}
	if f.Method != "" {
		q.Set("method", f.Method)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if !f.From.IsZero() {
		q.Set("from", f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		q.Set("to", f.To.UTC().Format(time.RFC3339))
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

type originsBody struct {
	Origins []string `json:"origins"`
}

// Origins fetches the allowed widget origins
func (c *Client) Origins(ctx context.Context) ([]string, error) {
	var out originsBody
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/sandbox/origins",
		path:   "/sandbox/origins",
		auth:   true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch origins: %w", err)
	}
	return out.Origins, nil
}

// UpdateOrigins replaces the allowed widget origins
func (c *Client) UpdateOrigins(ctx context.Context, origins []string) ([]string, error) {
	var out originsBody
	err := c.do(ctx, request{
		method: http.MethodPut,
		route:  "/sandbox/origins",
		path:   "/sandbox/origins",
		body:   originsBody{Origins: origins},
		auth:   true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to update origins: %w", err)
	}
	return out.Origins, nil
}

// do sends r, refreshing the access token once on 401, and decodes the answer into out
func (c *Client) do(ctx context.Context, r request, out any) error {
	var payload []byte
	if r.body != nil {
		var err error
		if payload, err = json.Marshal(r.body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	token := ""
	if r.auth {
		token = c.accessToken(ctx)
		if token == "" {
			return core.ErrNotAuthenticated
		}
	}

	status, body, err := c.send(ctx, r, payload, token)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && r.auth {
		fresh, err := c.refresh(ctx, token)
		if err != nil {
			return err
		}
		if status, body, err = c.send(ctx, r, payload, fresh); err != nil {
			return err
		}
	}

	if status < 200 || status >= 300 {
		return decodeError(status, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, r request, payload []byte, token string) (int, []byte, error) {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observeRequest(r.route, "error")
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("%s %s: %w", r.method, r.route, core.ErrCancelled)
		}
		return 0, nil, fmt.Errorf("%s %s: %w", r.method, r.route, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	c.metrics.observeRequest(r.route, strconv.Itoa(resp.StatusCode))
	c.logger.Debug("backend request",
		zap.String("method", r.method),
		zap.String("route", r.route),
		zap.Int("status", resp.StatusCode),
	)
	return resp.StatusCode, body, nil
}

func (c *Client) accessToken(ctx context.Context) string {
	token, err := c.store.Get(ctx, core.KeyAccessToken)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			c.logger.Warn("failed to read access token", zap.Error(err))
		}
		return ""
	}
	return token
}

// refresh obtains a new access token for a request that was rejected with stale.
// Callers queue on the semaphore; whoever gets it after a successful refresh
// sees a different token in the store and reuses it.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	if err := c.refreshSem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for token refresh: %w", core.ErrCancelled)
	}
	defer c.refreshSem.Release(1)

	current := c.accessToken(ctx)
	if current == "" {
		return "", core.ErrSessionExpired
	}
	if current != stale {
		return current, nil
	}

	refreshToken, err := c.store.Get(ctx, core.KeyRefreshToken)
	if err != nil || refreshToken == "" {
		c.expire(ctx, "no refresh token")
		return "", core.ErrSessionExpired
	}

	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	r := request{method: http.MethodPost, route: "/sandbox/refresh", path: "/sandbox/refresh"}
	status, body, err := c.send(ctx, r, payload, "")
	if err != nil {
		if ctx.Err() != nil {
			c.metrics.observeRefresh("cancelled")
			return "", err
		}
		c.expire(ctx, err.Error())
		return "", fmt.Errorf("%w: %v", core.ErrSessionExpired, err)
	}
	if status != http.StatusOK {
		c.expire(ctx, decodeError(status, body).Error())
		return "", core.ErrSessionExpired
	}

	var out struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.AccessToken == "" {
		c.expire(ctx, "malformed refresh response")
		return "", core.ErrSessionExpired
	}

	if err := c.store.Set(ctx, core.KeyAccessToken, out.AccessToken); err != nil {
		c.logger.Warn("failed to persist refreshed access token", zap.Error(err))
	}
	if out.RefreshToken != "" {
		if err := c.store.Set(ctx, core.KeyRefreshToken, out.RefreshToken); err != nil {
			c.logger.Warn("failed to persist rotated refresh token", zap.Error(err))
		}
	}

	c.metrics.observeRefresh("success")
	c.logger.Debug("access token refreshed")
	return out.AccessToken, nil
}

// expire clears every persisted session key and runs the expiry hook
func (c *Client) expire(ctx context.Context, reason string) {
	c.metrics.observeRefresh("failure")
	c.logger.Warn("token refresh failed, ending session", zap.String("reason", reason))

	if err := c.store.Delete(context.WithoutCancel(ctx), core.SessionKeys...); err != nil {
		c.logger.Error("failed to clear session state", zap.Error(err))
	}

	c.mu.RLock()
	hook := c.onExpired
	c.mu.RUnlock()

	if hook != nil {
		hook(context.WithoutCancel(ctx), reason)
	}
}

func decodeError(status int, body []byte) error {
	apiErr := &core.APIError{StatusCode: status}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
