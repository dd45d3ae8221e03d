// Package restclient is the broker REST gateway: TR-ID based endpoint
// routing, an adaptive rate limiter, token-refresh-on-401 retry, and
// typed wrappers for the account/order/market-data calls the engine needs.
// Grounded on original_source/python/kiwoom/api_v1.py's _call_api and its
// fn_* wrappers, carried into Go the way
// SynapseStrike/trader/alpaca_trader.go's doRequest shapes a single
// authenticated HTTP helper reused by every endpoint method.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kiwoom-bot/daytrader/internal/logger"
)

// TokenSource supplies and invalidates the bearer token. Satisfied by
// *creds.Service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client is the shared, thread-safe REST gateway for one broker account.
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rateLimiter

	hostURL   string
	accountNo string
	mockTrade bool
}

// New builds a Client bound to one host/account pair.
func New(tokens TokenSource, hostURL, accountNo string, mockTrade bool) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
		limiter:    newRateLimiter(),
		hostURL:    hostURL,
		accountNo:  accountNo,
		mockTrade:  mockTrade,
	}
}

// callOptions tunes one Call invocation.
type callOptions struct {
	highPriority bool
	contYn       string
	nextKey      string
}

// CallOption customizes a Call.
type CallOption func(*callOptions)

// LowPriority marks a call as deferrable, adding a small fixed delay before
// it competes for the rate limiter slot — api_v1.py's is_high_priority=False
// path (chart pulls, background polling).
func LowPriority() CallOption {
	return func(o *callOptions) { o.highPriority = false }
}

// Paginate carries the cont-yn/next-key pair for the next page of a
// multi-page TR.
func Paginate(contYn, nextKey string) CallOption {
	return func(o *callOptions) { o.contYn = contYn; o.nextKey = nextKey }
}

// routeEndpoint maps a TR-ID prefix to its REST path, per api_v1.py's
// if/elif chain.
func routeEndpoint(apiID string) string {
	switch {
	case strings.HasPrefix(apiID, "kt10"), strings.HasPrefix(apiID, "kt5000"):
		return "/api/dostk/ordr"
	case strings.HasPrefix(apiID, "kt00"), strings.HasPrefix(apiID, "ka10075"):
		return "/api/dostk/acnt"
	case strings.HasPrefix(apiID, "ka10080"):
		return "/api/dostk/chart"
	case strings.HasPrefix(apiID, "ka10001"):
		return "/api/dostk/stkinfo"
	case strings.HasPrefix(apiID, "ka10004"):
		return "/api/dostk/mrkcond"
	case strings.HasPrefix(apiID, "ka10074"):
		return "/api/dostk/acnt"
	default:
		return "/api/dostk/stkinfo"
	}
}

// Call issues one TR request and returns the decoded JSON body plus the
// response headers (for cont-yn/next-key pagination). It retries once on
// HTTP 429 after widening the rate limiter's interval, and up to twice on
// 401/403 after forcing a token refresh — the same policy as
// api_v1.py's _call_api.
func (c *Client) Call(ctx context.Context, apiID string, params map[string]any, opts ...CallOption) (map[string]any, http.Header, error) {
	o := callOptions{highPriority: true, contYn: "N"}
	for _, opt := range opts {
		opt(&o)
	}
	return c.call(ctx, apiID, params, o, 0)
}

func (c *Client) call(ctx context.Context, apiID string, params map[string]any, o callOptions, retry int) (map[string]any, http.Header, error) {
	if !o.highPriority {
		time.Sleep(50 * time.Millisecond)
	}

	c.limiter.wait(ctx)

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("restclient: %w", err)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, nil, fmt.Errorf("restclient: encode params: %w", err)
	}

	url := c.hostURL + routeEndpoint(apiID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("restclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("api-id", apiID)
	req.Header.Set("cont-yn", o.contYn)
	req.Header.Set("next-key", o.nextKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("restclient: call %s: %w", apiID, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	logger.Debugf("restclient: %s -> %d (%dms, %dB)", apiID, resp.StatusCode, time.Since(start).Milliseconds(), len(raw))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		newInterval := c.limiter.report429()
		wait := time.Duration(2*(retry+1)) * time.Second
		logger.Warnf("restclient: 429 on %s, interval now %s, sleeping %s", apiID, newInterval, wait)
		time.Sleep(wait)
		if retry < 1 {
			return c.call(ctx, apiID, params, o, retry+1)
		}
		return nil, nil, fmt.Errorf("restclient: %s rate limited", apiID)

	case http.StatusUnauthorized, http.StatusForbidden:
		logger.Warnf("restclient: %s returned %d, refreshing token", apiID, resp.StatusCode)
		if retry < 2 {
			c.tokens.Invalidate()
			return c.call(ctx, apiID, params, o, retry+1)
		}
		return nil, nil, fmt.Errorf("restclient: %s unauthorized after retries", apiID)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("restclient: %s http %d: %s", apiID, resp.StatusCode, truncate(string(raw), 100))
	}

	c.limiter.reportSuccess()

	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, nil, fmt.Errorf("restclient: decode %s response: %w", apiID, err)
		}
	}
	return out, resp.Header, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
