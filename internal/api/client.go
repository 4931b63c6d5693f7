package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds every request so a hung call cannot starve the next poll tick
const DefaultTimeout = 5 * time.Second

// Client is a bearer-authenticated client for the DeFi audit REST API
type Client struct {
	baseURL string
	http    *resty.Client
	tokenMu sync.RWMutex
	token   string
}

// NewClient creates a new API client
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}

	client.http = resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond).
		SetRetryMaxWaitTime(1 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Only idempotent reads are retried. Create, delete and export are one-shot.
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			if strings.Contains(r.Request.URL, "/export/") {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	return client
}

// SetToken replaces the bearer token used for subsequent requests
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) (*resty.Response, error) {
	req := c.request(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	return req.Get(c.buildURL(endpoint))
}

// Post performs a POST request with a JSON body
func (c *Client) Post(ctx context.Context, endpoint string, payload interface{}) (*resty.Response, error) {
	return c.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.buildURL(endpoint))
}

// Delete performs a DELETE request
func (c *Client) Delete(ctx context.Context, endpoint string) (*resty.Response, error) {
	return c.request(ctx).Delete(c.buildURL(endpoint))
}

// Download performs a GET for a binary payload
func (c *Client) Download(ctx context.Context, endpoint string) (*resty.Response, error) {
	return c.request(ctx).
		SetHeader("Accept", "*/*").
		Get(c.buildURL(endpoint))
}

func (c *Client) request(ctx context.Context) *resty.Request {
	if ctx == nil {
		ctx = context.Background()
	}
	req := c.http.R().SetContext(ctx)

	c.tokenMu.RLock()
	token := c.token
	c.tokenMu.RUnlock()
	if token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// buildURL constructs the full URL for an endpoint
func (c *Client) buildURL(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	return fmt.Sprintf("%s/%s", c.baseURL, endpoint)
}
