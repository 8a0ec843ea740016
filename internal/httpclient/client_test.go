package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventconsole/console/internal/logging"
	"eventconsole/console/internal/metrics"
	"eventconsole/console/internal/tokenstore"
)

// fakeBackend accepts exactly one access token and rotates it on refresh.
type fakeBackend struct {
	mu          sync.Mutex
	valid       string
	refresh     string
	refreshes   atomic.Int32
	requests    atomic.Int32
	delay       time.Duration
	release     chan struct{}
	failRefresh bool
	// held requests report on arrived and answer 401 once unheld is closed.
	arrived chan struct{}
	unheld  chan struct{}
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshes.Add(1)
		if r.Header.Get("Authorization") != "" {
			t.Errorf("refresh request must not carry a bearer token")
		}
		if b.release != nil {
			<-b.release
		}
		time.Sleep(b.delay)
		var body refreshRequest
		_ = json.NewDecoder(r.Body).Decode(&body)

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failRefresh || body.RefreshToken != b.refresh {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"invalid_refresh","error":"refresh token rejected"}`))
			return
		}
		b.valid = "access-" + time.Now().Format("150405.000000000")
		b.refresh = "refresh-" + b.valid
		_ = json.NewEncoder(w).Encode(RefreshResponse{Success: true, Token: b.valid, RefreshToken: b.refresh})
	})
	mux.HandleFunc("GET /api/items", func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		b.mu.Lock()
		valid := b.valid
		b.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"items":["a","b"]}`))
	})
	mux.HandleFunc("GET /api/always-401", func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("GET /api/held", func(w http.ResponseWriter, r *http.Request) {
		b.arrived <- struct{}{}
		<-b.unheld
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("GET /api/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	return mux
}

type itemsResponse struct {
	Items []string `json:"items"`
}

func newTestClient(t *testing.T, serverURL string, tokens tokenstore.Store, opts Options) *Client {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return New(serverURL+"/api", tokens, opts)
}

func seededTokens(t *testing.T, access, refresh string) *tokenstore.Memory {
	t.Helper()
	tokens := tokenstore.NewMemory()
	require.NoError(t, tokens.Set(context.Background(), tokenstore.Access, access))
	require.NoError(t, tokens.Set(context.Background(), tokenstore.Refresh, refresh))
	return tokens
}

func TestDoAttachesBearerAndDecodes(t *testing.T) {
	backend := &fakeBackend{valid: "good", refresh: "r1"}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL, seededTokens(t, "good", "r1"), Options{})

	var out itemsResponse
	require.NoError(t, client.Get(context.Background(), "/items", nil, &out))
	assert.Equal(t, []string{"a", "b"}, out.Items)
	assert.Equal(t, int32(0), backend.refreshes.Load())
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	backend := &fakeBackend{valid: "fresh-not-yet-issued", refresh: "r1", delay: 50 * time.Millisecond}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	tokens := seededTokens(t, "expired", "r1")
	client := newTestClient(t, srv.URL, tokens, Options{})

	const callers = 12
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out itemsResponse
			errs[i] = client.Get(context.Background(), "/items", nil, &out)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), backend.refreshes.Load())

	access, _ := tokens.Get(context.Background(), tokenstore.Access)
	refresh, _ := tokens.Get(context.Background(), tokenstore.Refresh)
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, backend.valid, access)
	assert.Equal(t, backend.refresh, refresh)
}

func TestRetriesAtMostOnce(t *testing.T) {
	backend := &fakeBackend{valid: "unused", refresh: "r1"}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL, seededTokens(t, "expired", "r1"), Options{})

	err := client.Get(context.Background(), "/always-401", nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	assert.False(t, errors.Is(err, ErrSessionExpired))
	assert.Equal(t, int32(1), backend.refreshes.Load())
	assert.Equal(t, int32(2), backend.requests.Load())
}

func TestRefreshFailureExpiresSession(t *testing.T) {
	backend := &fakeBackend{valid: "unused", refresh: "r1", failRefresh: true}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	tokens := seededTokens(t, "expired", "r1")
	m := metrics.New(nil)
	client := newTestClient(t, srv.URL, tokens, Options{Metrics: m})

	var hookErr error
	var hookCalls atomic.Int32
	client.OnSessionExpired(func(err error) {
		hookCalls.Add(1)
		hookErr = err
	})

	err := client.Get(context.Background(), "/items", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	assert.Equal(t, int32(1), hookCalls.Load())
	assert.ErrorIs(t, hookErr, ErrSessionExpired)
	assert.Equal(t, int32(1), backend.refreshes.Load(), "the refresh endpoint itself is never refreshed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("failure")))

	access, _ := tokens.Get(context.Background(), tokenstore.Access)
	refresh, _ := tokens.Get(context.Background(), tokenstore.Refresh)
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}

func TestConcurrentCallersShareRefreshFailure(t *testing.T) {
	backend := &fakeBackend{valid: "unused", refresh: "r1", failRefresh: true, delay: 50 * time.Millisecond}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL, seededTokens(t, "expired", "r1"), Options{})

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Get(context.Background(), "/items", nil, nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrSessionExpired)
	}
	// Late callers reuse the recorded failure without calling the backend.
	assert.Equal(t, int32(1), backend.refreshes.Load())
}

func TestLateUnauthorizedSharesEarlierRefreshFailure(t *testing.T) {
	backend := &fakeBackend{
		valid:       "unused",
		refresh:     "r1",
		failRefresh: true,
		arrived:     make(chan struct{}, 1),
		unheld:      make(chan struct{}),
	}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL, seededTokens(t, "expired", "r1"), Options{})
	var hookCalls atomic.Int32
	client.OnSessionExpired(func(error) { hookCalls.Add(1) })

	late := make(chan error, 1)
	go func() { late <- client.Get(context.Background(), "/held", nil, nil) }()
	<-backend.arrived

	early := client.Get(context.Background(), "/items", nil, nil)
	require.ErrorIs(t, early, ErrSessionExpired)
	close(backend.unheld)

	var err error
	select {
	case err = <-late:
	case <-time.After(2 * time.Second):
		t.Fatal("held request did not return")
	}
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, early.Error(), err.Error())
	assert.Equal(t, int32(1), backend.refreshes.Load())
	assert.Equal(t, int32(1), hookCalls.Load())
}

func TestLoginAfterExpiryForgetsFailure(t *testing.T) {
	backend := &fakeBackend{valid: "unused", refresh: "r1", failRefresh: true}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	tokens := seededTokens(t, "expired", "r1")
	client := newTestClient(t, srv.URL, tokens, Options{})
	require.ErrorIs(t, client.Get(context.Background(), "/items", nil, nil), ErrSessionExpired)

	require.NoError(t, client.SetTokens(context.Background(), "fresh", ""))
	assert.Equal(t, ErrSessionExpired, client.expiredErr())
}

func TestMissingRefreshTokenExpiresWithoutNetworkCall(t *testing.T) {
	backend := &fakeBackend{valid: "unused"}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	tokens := tokenstore.NewMemory()
	require.NoError(t, tokens.Set(context.Background(), tokenstore.Access, "expired"))
	client := newTestClient(t, srv.URL, tokens, Options{})

	err := client.Get(context.Background(), "/items", nil, nil)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, int32(0), backend.refreshes.Load())
}

func TestSkipAuthAndNoRefreshAreNotIntercepted(t *testing.T) {
	backend := &fakeBackend{valid: "unused", refresh: "r1"}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL, seededTokens(t, "expired", "r1"), Options{})

	for _, req := range []*Request{
		{Method: http.MethodGet, Path: "/items", SkipAuth: true},
		{Method: http.MethodGet, Path: "/items", NoRefresh: true},
	} {
		err := client.Do(context.Background(), req, nil)
		assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	}
	assert.Equal(t, int32(0), backend.refreshes.Load())
}

func TestStaleTokenRetriesWithoutRefresh(t *testing.T) {
	tokens := seededTokens(t, "old", "r1")
	var refreshes, calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/refresh" {
			refreshes.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer old" {
			// Someone else refreshed while this request was in flight.
			_ = tokens.Set(r.Context(), tokenstore.Access, "new")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, tokens, Options{})
	require.NoError(t, client.Get(context.Background(), "/items", nil, nil))
	assert.Equal(t, int32(0), refreshes.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestCancelledCallerDoesNotAbortSharedRefresh(t *testing.T) {
	backend := &fakeBackend{valid: "fresh-not-yet-issued", refresh: "r1", release: make(chan struct{})}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	tokens := seededTokens(t, "expired", "r1")
	client := newTestClient(t, srv.URL, tokens, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Get(ctx, "/items", nil, nil) }()

	require.Eventually(t, func() bool { return backend.refreshes.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(backend.release)
	require.Eventually(t, func() bool {
		access, _ := tokens.Get(context.Background(), tokenstore.Access)
		return strings.HasPrefix(access, "access-")
	}, time.Second, 5*time.Millisecond)
}

func TestRequestTimeout(t *testing.T) {
	backend := &fakeBackend{valid: "good"}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL, seededTokens(t, "good", "r1"), Options{Timeout: 50 * time.Millisecond})

	start := time.Now()
	err := client.Get(context.Background(), "/slow", nil, nil)
	require.Error(t, err)
	assert.Zero(t, StatusOf(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAPIErrorCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"forbidden","error":"not allowed"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, seededTokens(t, "good", "r1"), Options{})
	err := client.Post(context.Background(), "/items", map[string]string{"name": "x"}, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "forbidden", apiErr.Code)
	assert.Equal(t, "not allowed", apiErr.Message)
	assert.Contains(t, apiErr.Error(), "POST /items")
}

func TestPushURLUsesCurrentToken(t *testing.T) {
	client := New("https://events.example.org", seededTokens(t, "tok", "r1"), Options{Logger: logging.Discard()})
	assert.Equal(t, "https://events.example.org/api", client.BaseURL())

	got, err := client.PushURL(context.Background(), "/ws/notulen")
	require.NoError(t, err)
	assert.Equal(t, "wss://events.example.org/api/ws/notulen?token=tok", got)

	require.NoError(t, tokenstore.ClearAll(context.Background(), client.Tokens()))
	_, err = client.PushURL(context.Background(), "/ws/notulen")
	assert.Error(t, err)
}
