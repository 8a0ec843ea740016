// Package httpclient is the authenticated session client every API call goes through.
//
// It attaches the bearer token, and on a 401 runs at most one token refresh at a time
// (all concurrent 401s share it) before re-issuing the failed request exactly once.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"eventconsole/console/internal/logging"
	"eventconsole/console/internal/metrics"
	"eventconsole/console/internal/tokenstore"
	"eventconsole/console/internal/util"
)

const (
	DefaultTimeout = 10 * time.Second
	RefreshPath    = "/auth/refresh"

	refreshKey   = "refresh"
	maxBodyBytes = 8 << 20
)

// Request describes one API call. Path is relative to the API base.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	// SkipAuth sends no bearer token and exempts the request from refresh handling.
	SkipAuth bool
	// NoRefresh attaches the token but never triggers a refresh on 401.
	NoRefresh bool

	retried bool
}

type Options struct {
	Timeout time.Duration
	// PushBaseURL overrides the base used for push channel URLs.
	PushBaseURL string
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

type Client struct {
	baseURL  string
	pushBase string
	timeout  time.Duration
	http     *http.Client
	tokens   tokenstore.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics

	refreshes singleflight.Group

	mu        sync.RWMutex
	onExpired []func(error)
	// expiredBy is the failure that last cleared the session.
	expiredBy error
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is the body of POST /auth/refresh.
type RefreshResponse struct {
	Success      bool   `json:"success"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// New creates a client for baseURL. A base without the API prefix is corrected with a warning.
func New(baseURL string, tokens tokenstore.Store, opts Options) *Client {
	logger := logging.Component(opts.Logger, "httpclient")
	normalized, corrected := NormalizeBaseURL(baseURL)
	if corrected {
		logger.Warn("api base url is missing the service prefix, appending it", "prefix", APIPrefix, "base_url", normalized)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	pushBase := opts.PushBaseURL
	if pushBase == "" {
		pushBase = normalized
	}
	return &Client{
		baseURL:  normalized,
		pushBase: strings.TrimRight(pushBase, "/"),
		timeout:  timeout,
		http:     httpClient,
		tokens:   tokens,
		logger:   logger,
		metrics:  m,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Tokens() tokenstore.Store { return c.tokens }

// PushURL builds the push channel URL for path carrying the current access token.
func (c *Client) PushURL(ctx context.Context, path string) (string, error) {
	token, err := c.tokens.Get(ctx, tokenstore.Access)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("no access token for push channel")
	}
	return PushURL(c.pushBase, path, token)
}

// OnSessionExpired registers fn to run after a failed refresh has cleared the tokens.
func (c *Client) OnSessionExpired(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpired = append(c.onExpired, fn)
}

// SetTokens stores a fresh token pair. An empty refresh token keeps the stored one.
func (c *Client) SetTokens(ctx context.Context, access, refresh string) error {
	c.mu.Lock()
	c.expiredBy = nil
	c.mu.Unlock()
	if err := c.tokens.Set(ctx, tokenstore.Access, access); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if refresh == "" {
		return nil
	}
	if err := c.tokens.Set(ctx, tokenstore.Refresh, refresh); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path}, out)
}

// Do sends req and decodes a JSON response body into out (nil discards it).
func (c *Client) Do(ctx context.Context, req *Request, out any) error {
	r := *req
	r.Header = req.Header.Clone()
	if r.Header == nil {
		r.Header = http.Header{}
	}
	r.retried = false
	return c.do(ctx, &r, out)
}

func (c *Client) do(ctx context.Context, r *Request, out any) error {
	used, status, body, err := c.roundTrip(ctx, r)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && c.refreshable(r) {
		r.retried = true
		token, err := c.tokenAfterUnauthorized(ctx, used)
		if err != nil {
			return err
		}
		r.Header.Set("Authorization", "Bearer "+token)
		c.metrics.RefreshRetries.Inc()
		return c.do(ctx, r, out)
	}

	if status < 200 || status >= 300 {
		return newAPIError(r.Method, r.Path, status, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", r.Method, r.Path, err)
	}
	return nil
}

func (c *Client) refreshable(r *Request) bool {
	return !r.retried && !r.SkipAuth && !r.NoRefresh && !isRefreshPath(r.Path)
}

func isRefreshPath(path string) bool {
	return strings.TrimRight(path, "/") == RefreshPath
}

// roundTrip sends r and reads the whole body. used is the bearer token the request carried.
func (c *Client) roundTrip(ctx context.Context, r *Request) (used string, status int, body []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var reader io.Reader
	if r.Body != nil {
		encoded, err := json.Marshal(r.Body)
		if err != nil {
			return "", 0, nil, fmt.Errorf("encode %s %s body: %w", r.Method, r.Path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.Method, target, reader)
	if err != nil {
		return "", 0, nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range r.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if r.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if httpReq.Header.Get("X-Request-ID") == "" {
		httpReq.Header.Set("X-Request-ID", util.NewID("req"))
	}

	if !r.SkipAuth && httpReq.Header.Get("Authorization") == "" {
		token, err := c.tokens.Get(ctx, tokenstore.Access)
		if err != nil {
			return "", 0, nil, fmt.Errorf("load access token: %w", err)
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	used = strings.TrimPrefix(httpReq.Header.Get("Authorization"), "Bearer ")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRequest(r.Method, 0)
		return used, 0, nil, fmt.Errorf("%s %s: %w", r.Method, r.Path, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest(r.Method, resp.StatusCode)

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return used, resp.StatusCode, nil, fmt.Errorf("read %s %s response: %w", r.Method, r.Path, err)
	}
	return used, resp.StatusCode, body, nil
}

// tokenAfterUnauthorized returns the token to retry with. If the stored access token
// already differs from the rejected one, another caller refreshed in the meantime.
// If it was cleared, a refresh failed after this request was sent and the request
// shares that outcome.
func (c *Client) tokenAfterUnauthorized(ctx context.Context, used string) (string, error) {
	current, err := c.tokens.Get(ctx, tokenstore.Access)
	if err == nil && current != "" && current != used {
		return current, nil
	}
	if err == nil && current == "" && used != "" {
		return "", c.expiredErr()
	}
	return c.Refresh(ctx)
}

func (c *Client) expiredErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.expiredBy != nil {
		return c.expiredBy
	}
	return ErrSessionExpired
}

// Refresh obtains a new access token. Concurrent callers share one backend call and
// observe the same result. The refresh itself is not cancelled when ctx is; ctx only
// bounds how long this caller waits.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	ch := c.refreshes.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.refresh(rctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	refreshToken, err := c.tokens.Get(ctx, tokenstore.Refresh)
	if err == nil && refreshToken == "" {
		err = ErrNoRefreshToken
	}
	if err != nil {
		return "", c.fail(ctx, err)
	}

	var resp RefreshResponse
	err = c.do(ctx, &Request{
		Method:   http.MethodPost,
		Path:     RefreshPath,
		Body:     refreshRequest{RefreshToken: refreshToken},
		Header:   http.Header{},
		SkipAuth: true,
	}, &resp)
	if err == nil && resp.Token == "" {
		err = errors.New("refresh response carried no access token")
	}
	if err == nil {
		err = c.SetTokens(ctx, resp.Token, resp.RefreshToken)
	}
	if err != nil {
		return "", c.fail(ctx, err)
	}

	c.metrics.Refreshes.WithLabelValues("success").Inc()
	c.logger.Debug("access token refreshed")
	return resp.Token, nil
}

// fail tears the session down and returns the error every waiting caller receives.
func (c *Client) fail(ctx context.Context, cause error) error {
	c.metrics.Refreshes.WithLabelValues("failure").Inc()
	c.logger.Warn("token refresh failed, clearing session", "error", cause)
	err := fmt.Errorf("%w: %w", ErrSessionExpired, cause)

	c.mu.Lock()
	c.expiredBy = err
	hooks := append([]func(error){}, c.onExpired...)
	c.mu.Unlock()
	if clearErr := tokenstore.ClearAll(ctx, c.tokens); clearErr != nil {
		c.logger.Error("clear tokens after failed refresh", "error", clearErr)
	}
	for _, hook := range hooks {
		hook(err)
	}
	return err
}
