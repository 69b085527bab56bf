package dotpassport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/ports"
)

// Methods the playground can call, mapped to their REST route.
// {address} is substituted from the params.
var Methods = map[string]string{
	"profile":           "/api/v1/profile/{address}",
	"scores":            "/api/v1/scores/{address}",
	"badges":            "/api/v1/badges/{address}",
	"badge-definitions": "/api/v1/badges/definitions",
	"widget":            "/api/v1/widget/{address}",
}

// MethodNames returns the supported method names in order
func MethodNames() []string {
	names := make([]string, 0, len(Methods))
	for name := range Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Client calls the hosted DotPassport API with a sandbox API key
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a DotPassport API client
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ ports.PassportAPI = (*Client)(nil)

// Call runs method and returns the raw response body and status code
func (c *Client) Call(ctx context.Context, apiKey, method string, params map[string]string) ([]byte, int, error) {
	route, ok := Methods[method]
	if !ok {
		return nil, 0, fmt.Errorf("unknown method %q", method)
	}

	path := route
	query := url.Values{}
	for k, v := range params {
		placeholder := "{" + k + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(v))
			continue
		}
		query.Set(k, v)
	}
	if strings.Contains(path, "{") {
		return nil, 0, fmt.Errorf("method %s: missing path parameter in %s", method, route)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, core.ErrCancelled
		}
		return nil, 0, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return body, resp.StatusCode, &core.APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, resp.StatusCode, nil
}
