package antigravity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Response is the terminal outcome of one upstream exchange after endpoint
// fallback has been applied.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// RetryAfterMS is the parsed retry hint of a 429, 0 when absent.
	RetryAfterMS int64
}

// Client executes prepared requests against the CloudCode endpoints,
// walking the fallback chain when an environment is unreachable.
type Client struct {
	httpClient *http.Client
	endpoints  []string
}

// NewClient creates an upstream client with the given per-attempt timeout.
func NewClient(timeout time.Duration) *Client {
	return NewClientWithEndpoints(timeout, EndpointFallbacks)
}

// NewClientWithEndpoints creates a client over a custom endpoint chain.
func NewClientWithEndpoints(timeout time.Duration, endpoints []string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoints:  endpoints,
	}
}

// fallbackStatus reports whether a status code should move the request to
// the next CloudCode environment instead of being surfaced.
func fallbackStatus(code int) bool {
	switch code {
	case http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) do(ctx context.Context, req *PreparedRequest, endpoint string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URLFor(endpoint), bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return c.httpClient.Do(httpReq)
}

// Execute issues the request and buffers the response body. Rate limits
// short-circuit the fallback chain: a 429 from one environment means the
// quota itself is exhausted, not the environment.
func (c *Client) Execute(ctx context.Context, req *PreparedRequest) (*Response, error) {
	var last *Response
	var lastErr error

	for _, endpoint := range c.endpoints {
		httpResp, err := c.do(ctx, req, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debugf("endpoint %s unreachable: %v", endpoint, err)
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		if readErr != nil {
			log.Debugf("endpoint %s read failed: %v", endpoint, readErr)
			lastErr = readErr
			continue
		}

		resp := &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       body,
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.RetryAfterMS = ParseRetryAfter(resp.Header, resp.Body)
			return resp, nil
		}
		if fallbackStatus(resp.StatusCode) {
			log.Debugf("endpoint %s returned %d, trying next", endpoint, resp.StatusCode)
			last = resp
			continue
		}
		return resp, nil
	}

	if last != nil {
		return last, nil
	}
	return nil, fmt.Errorf("all endpoints unreachable: %w", lastErr)
}

// ExecuteStream issues the request expecting a live SSE body. On a 200 it
// hands the open body to the caller, who owns closing it. Any other status
// is buffered and returned as a Response, with the same fallback rules as
// Execute applied before the stream begins.
func (c *Client) ExecuteStream(ctx context.Context, req *PreparedRequest) (io.ReadCloser, *Response, error) {
	var last *Response
	var lastErr error

	for _, endpoint := range c.endpoints {
		httpResp, err := c.do(ctx, req, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			log.Debugf("endpoint %s unreachable: %v", endpoint, err)
			lastErr = err
			continue
		}

		if httpResp.StatusCode == http.StatusOK {
			return httpResp.Body, nil, nil
		}

		body, readErr := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		resp := &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       body,
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.RetryAfterMS = ParseRetryAfter(resp.Header, resp.Body)
			return nil, resp, nil
		}
		if fallbackStatus(resp.StatusCode) {
			log.Debugf("endpoint %s returned %d, trying next", endpoint, resp.StatusCode)
			last = resp
			continue
		}
		return nil, resp, nil
	}

	if last != nil {
		return nil, last, nil
	}
	return nil, nil, fmt.Errorf("all endpoints unreachable: %w", lastErr)
}
