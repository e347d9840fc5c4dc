package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"invcrawler/pkg/errors"
	"invcrawler/pkg/logger"
	"invcrawler/pkg/metrics"
)

const (
	endpointInventory = "inventory"
	endpointMembers   = "members"
)

// KeySource supplies the API key to attach to inventory requests
type KeySource interface {
	Current() string
}

// Options configures a Client
type Options struct {
	BaseURL  string
	Language string
	PageSize int
	// Proxy is a proxy URL; "" or "direct" connects directly
	Proxy   string
	Timeout time.Duration
	// RequestsPerSecond paces this client; zero or less disables pacing
	RequestsPerSecond float64
	UserAgent         string
	Keys              KeySource
	Logger            logger.Logger
	Metrics           *metrics.Metrics
	// HTTPClient overrides the transport built from Proxy and Timeout
	HTTPClient *http.Client
}

// Client performs upstream requests through one proxy identity
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	language   string
	pageSize   int
	label      string
	limiter    *rate.Limiter
	keys       KeySource
	logger     logger.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a client bound to opts.Proxy
func NewClient(opts Options) (*Client, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	label := "direct"
	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.Proxy != "" && opts.Proxy != "direct" {
			proxyURL, err := url.Parse(opts.Proxy)
			if err != nil || proxyURL.Host == "" {
				return nil, fmt.Errorf("invalid proxy %q", opts.Proxy)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
			label = proxyURL.Host
		}
		httpClient = &http.Client{Transport: transport, Timeout: opts.Timeout}
	} else if opts.Proxy != "" {
		label = opts.Proxy
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	}

	return &Client{
		httpClient: httpClient,
		headers: map[string]string{
			"User-Agent":      userAgent,
			"Accept":          "application/json, text/xml, */*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Cache-Control":   "no-cache",
		},
		baseURL:  opts.BaseURL,
		language: opts.Language,
		pageSize: opts.PageSize,
		label:    label,
		limiter:  limiter,
		keys:     opts.Keys,
		logger:   log.WithField("proxy", label),
		metrics:  opts.Metrics,
	}, nil
}

// Label names the proxy identity for logs
func (c *Client) Label() string {
	return c.label
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// get performs a paced GET and returns the body of a 200 response.
// Any other status becomes a classified error.
func (c *Client) get(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeUnknown, err, "failed to create request")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"endpoint": endpoint,
		"url":      redact(req.URL),
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(endpoint, string(errors.ErrorTypeNetwork), time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(errors.ErrorTypeNetwork, err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	if err != nil {
		c.metrics.ObserveRequest(endpoint, string(errors.ErrorTypeNetwork), duration)
		return nil, &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: "failed to read response body",
			Code:    resp.StatusCode,
			Err:     err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		errType := errors.FromStatusCode(resp.StatusCode)
		c.metrics.ObserveRequest(endpoint, string(errType), duration)
		c.logger.DebugWithFields("upstream returned error status", map[string]interface{}{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"duration": duration,
		})
		return nil, &errors.Error{
			Type:    errType,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}

	c.metrics.ObserveRequest(endpoint, "ok", duration)
	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"endpoint": endpoint,
		"status":   resp.StatusCode,
		"duration": duration,
		"size":     len(body),
	})
	return body, nil
}

// GetInventoryPage fetches one inventory page. A private inventory comes back
// as a forbidden error, whether upstream answered 403 or a literal null.
func (c *Client) GetInventoryPage(ctx context.Context, id64, startAssetID string) (*InventoryPage, error) {
	var key string
	if c.keys != nil {
		key = c.keys.Current()
	}
	rawURL := InventoryURL(c.baseURL, id64, c.language, c.pageSize, startAssetID, key)

	body, err := c.get(ctx, endpointInventory, rawURL)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeForbidden,
			Message: "inventory is private or empty",
			Code:    http.StatusOK,
		}
	}

	var page InventoryPage
	if err := json.Unmarshal(trimmed, &page); err != nil {
		preview := string(trimmed)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.WarnWithFields("failed to parse inventory page", map[string]interface{}{
			"id64":         id64,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return nil, &errors.Error{
			Type:    errors.ErrorTypeMalformed,
			Message: "failed to parse inventory page",
			Code:    http.StatusOK,
			Err:     err,
		}
	}

	if !page.Success {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeUnsuccessful,
			Message: "inventory request was not successful",
			Code:    http.StatusOK,
		}
	}

	return &page, nil
}

// GetGroupMembersPage fetches the raw member-list page of a group
func (c *Client) GetGroupMembersPage(ctx context.Context, group string, page int) ([]byte, error) {
	return c.get(ctx, endpointMembers, GroupMembersURL(c.baseURL, group, page))
}

// redact hides the API key in logged URLs
func redact(u *url.URL) string {
	q := u.Query()
	if q.Get("key") == "" {
		return u.String()
	}
	q.Set("key", "****")
	cp := *u
	cp.RawQuery = q.Encode()
	return cp.String()
}
