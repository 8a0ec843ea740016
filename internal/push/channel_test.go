package push

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventconsole/console/internal/logging"
	"eventconsole/console/internal/metrics"
)

type fakeConn struct {
	frames chan []byte
	once   sync.Once
	closed chan struct{}
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{frames: make(chan []byte, len(frames)+1), closed: make(chan struct{})}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	return c
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// scriptedDialer hands out results in order and fails once the script runs out.
type scriptedDialer struct {
	mu     sync.Mutex
	script []*fakeConn
	dials  atomic.Int32
}

func (d *scriptedDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.script) == 0 {
		return nil, errors.New("connection refused")
	}
	next := d.script[0]
	d.script = d.script[1:]
	if next == nil {
		return nil, errors.New("connection refused")
	}
	return next, nil
}

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) wait(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *delayRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func staticURL(context.Context) (string, error) { return "ws://push.test/ws", nil }

func testConfig(d Dialer, handler Handler) Config {
	return Config{
		Name:    "test",
		URL:     staticURL,
		Dialer:  d,
		Handler: handler,
		Logger:  logging.Discard(),
	}
}

func waitDone(t *testing.T, c *Channel) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not stop")
	}
}

func TestBackOffSequence(t *testing.T) {
	b := NewBackOff()
	var got []time.Duration
	for range 7 {
		got = append(got, b.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &scriptedDialer{}
	rec := &delayRecorder{}
	cfg := testConfig(dialer, nil)
	cfg.Wait = rec.wait

	c := Open(context.Background(), cfg)
	waitDone(t, c)

	assert.Equal(t, GivenUp, c.State())
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, rec.recorded())
	assert.Equal(t, int32(6), dialer.dials.Load(), "initial connect plus five reconnects")
	c.Close()
}

func TestSuccessfulConnectResetsAttempts(t *testing.T) {
	dropped := newFakeConn()
	close(dropped.frames)
	dialer := &scriptedDialer{script: []*fakeConn{nil, nil, dropped}}
	rec := &delayRecorder{}
	cfg := testConfig(dialer, nil)
	cfg.Wait = rec.wait

	var states []State
	var mu sync.Mutex
	cfg.OnState = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	c := Open(context.Background(), cfg)
	waitDone(t, c)

	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second,
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, rec.recorded())
	mu.Lock()
	assert.Contains(t, states, Connected)
	assert.Equal(t, GivenUp, states[len(states)-1])
	mu.Unlock()
	assert.True(t, dropped.isClosed())
}

func TestDispatchDropsMalformedFrames(t *testing.T) {
	conn := newFakeConn(
		`{"type":"message_created","id":"m1"}`,
		`not json`,
		`{"id":"m2"}`,
		`[1,2,3]`,
		`{"type":"boom"}`,
		`{"type":"message_deleted","id":"m1","timestamp":"2026-01-02T10:00:00Z"}`,
	)
	m := metrics.New(nil)
	var mu sync.Mutex
	var got []Event
	cfg := testConfig(&scriptedDialer{script: []*fakeConn{conn}}, func(_ context.Context, e Event) {
		if e.Type == "boom" {
			panic("handler bug")
		}
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	cfg.Metrics = m

	c := Open(context.Background(), cfg)
	defer c.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, c.Connected())
	mu.Lock()
	assert.Equal(t, "message_created", got[0].Type)
	assert.Equal(t, "message_deleted", got[1].Type)
	assert.Equal(t, "2026-01-02T10:00:00Z", got[1].Timestamp)
	mu.Unlock()
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PushDropped.WithLabelValues("test")))
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	dialer := &scriptedDialer{}
	cfg := testConfig(dialer, nil)
	// Default wait: a real one second timer.
	c := Open(context.Background(), cfg)

	require.Eventually(t, func() bool { return dialer.dials.Load() == 1 }, time.Second, time.Millisecond)
	start := time.Now()
	c.Close()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, int32(1), dialer.dials.Load())

	c.Close()
}

func TestCloseClosesLiveConnection(t *testing.T) {
	conn := newFakeConn()
	c := Open(context.Background(), testConfig(&scriptedDialer{script: []*fakeConn{conn}}, nil))
	require.Eventually(t, c.Connected, time.Second, time.Millisecond)

	c.Close()
	assert.True(t, conn.isClosed())
	assert.Equal(t, Disconnected, c.State())
}

func TestKeyedSwitchTearsDownPreviousChannel(t *testing.T) {
	conns := map[string]*fakeConn{"a": newFakeConn(), "b": newFakeConn()}
	k := NewKeyed(context.Background(), func(key string) Config {
		return testConfig(&scriptedDialer{script: []*fakeConn{conns[key]}}, nil)
	})

	first := k.Set("a")
	require.Eventually(t, first.Connected, time.Second, time.Millisecond)
	assert.Same(t, first, k.Set("a"))

	second := k.Set("b")
	require.Eventually(t, second.Connected, time.Second, time.Millisecond)
	assert.True(t, conns["a"].isClosed())
	assert.Equal(t, Disconnected, first.State())

	key, current := k.Current()
	assert.Equal(t, "b", key)
	assert.Same(t, second, current)

	k.Close()
	assert.True(t, conns["b"].isClosed())
	_, current = k.Current()
	assert.Nil(t, current)
}

func TestKeyedResetReopensAfterGivingUp(t *testing.T) {
	conn := newFakeConn()
	var builds atomic.Int32
	k := NewKeyed(context.Background(), func(key string) Config {
		script := []*fakeConn{nil}
		if builds.Add(1) > 1 {
			script = []*fakeConn{conn}
		}
		cfg := testConfig(&scriptedDialer{script: script}, nil)
		cfg.MaxAttempts = 1
		cfg.Wait = (&delayRecorder{}).wait
		return cfg
	})
	defer k.Close()

	first := k.Set("doc")
	waitDone(t, first)
	assert.Equal(t, GivenUp, first.State())

	second := k.Reset()
	require.NotSame(t, first, second)
	require.Eventually(t, second.Connected, time.Second, time.Millisecond)
	key, current := k.Current()
	assert.Equal(t, "doc", key)
	assert.Same(t, second, current)
}

func TestWSDialerReadsServerFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("token"))
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = wsutil.WriteServerMessage(conn, ws.OpText, []byte(`{"type":"document_updated","documentId":"n1","version":4}`))
		// Hold the connection until the client hangs up.
		_, _, _ = wsutil.ReadClientData(conn)
	}))
	defer srv.Close()

	received := make(chan Event, 1)
	c := Open(context.Background(), Config{
		Name: "minutes",
		URL: func(context.Context) (string, error) {
			return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=abc", nil
		},
		Handler: func(_ context.Context, e Event) { received <- e },
		Logger:  logging.Discard(),
	})
	defer c.Close()

	select {
	case e := <-received:
		assert.Equal(t, "document_updated", e.Type)
		var payload struct {
			DocumentID string `json:"documentId"`
			Version    int    `json:"version"`
		}
		require.NoError(t, e.Decode(&payload))
		assert.Equal(t, "n1", payload.DocumentID)
		assert.Equal(t, 4, payload.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
