package conn

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

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/backoff"

	"github.com/matheus3301/huddle/internal/credentials"
	"github.com/matheus3301/huddle/internal/status"
)

var fastBackoff = backoff.Config{
	BaseDelay:  10 * time.Millisecond,
	Multiplier: 1.5,
	MaxDelay:   50 * time.Millisecond,
}

// peer is a scripted websocket backend. It reads continuously so close
// handshakes complete; received frames land in frames.
type peer struct {
	srv     *httptest.Server
	conns   chan *websocket.Conn
	headers chan *http.Request
	frames  chan Frame
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	p := &peer{
		conns:   make(chan *websocket.Conn, 8),
		headers: make(chan *http.Request, 8),
		frames:  make(chan Frame, 64),
	}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		p.headers <- r
		p.conns <- c
		for {
			var f Frame
			if err := wsjson.Read(r.Context(), c, &f); err != nil {
				return
			}
			p.frames <- f
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *peer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *peer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-p.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func newTestManager(t *testing.T, url string) *Manager {
	t.Helper()
	m := NewManager(Options{URL: url, Backoff: fastBackoff}, status.NewMachine(nil), zap.NewNop())
	t.Cleanup(m.Teardown)
	return m
}

func startConnected(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.Start(context.Background(), credentials.Credentials{Token: "tok", UserID: "me"}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitConnected(ctx))
}

func (p *peer) next(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-p.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func writeFrame(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, Frame{Event: event, Data: raw}))
}

func TestHandshakeCarriesCredentials(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.url())
	startConnected(t, m)

	r := <-p.headers
	assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
	assert.Equal(t, "me", r.URL.Query().Get("userId"))
	cookie, err := r.Cookie("token")
	require.NoError(t, err)
	assert.Equal(t, "tok", cookie.Value)
}

func TestEmitAndDispatch(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.url())

	got := make(chan json.RawMessage, 1)
	m.Subscribe("new-message", func(data json.RawMessage) { got <- data })
	startConnected(t, m)
	server := p.accept(t)

	require.NoError(t, m.Emit("join-chat", map[string]string{"userId": "me", "recipientId": "p1"}))
	f := p.next(t)
	assert.Equal(t, "join-chat", f.Event)
	assert.JSONEq(t, `{"userId":"me","recipientId":"p1"}`, string(f.Data))

	writeFrame(t, server, "new-message", map[string]string{"sender": "p1"})
	select {
	case data := <-got:
		assert.JSONEq(t, `{"sender":"p1"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestInboundOrderPreserved(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.url())

	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})
	m.Subscribe("tick", func(data json.RawMessage) {
		var n int
		_ = json.Unmarshal(data, &n)
		mu.Lock()
		seen = append(seen, n)
		if len(seen) == 50 {
			close(done)
		}
		mu.Unlock()
	})
	startConnected(t, m)
	server := p.accept(t)

	for i := range 50 {
		writeFrame(t, server, "tick", i)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all frames dispatched")
	}
	for i, n := range seen {
		require.Equal(t, i, n)
	}
}

func TestIndependentHandlers(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.url())

	var a, b atomic.Int32
	bDone := make(chan struct{}, 4)
	unsubA := m.Subscribe("evt", func(json.RawMessage) { a.Add(1) })
	m.Subscribe("evt", func(json.RawMessage) { b.Add(1); bDone <- struct{}{} })
	startConnected(t, m)
	server := p.accept(t)

	unsubA()
	unsubA()
	writeFrame(t, server, "evt", 1)

	select {
	case <-bDone:
	case <-time.After(2 * time.Second):
		t.Fatal("remaining handler not called")
	}
	assert.Equal(t, int32(0), a.Load())
	assert.Equal(t, int32(1), b.Load())
}

func TestConnectDispatchedOnReconnect(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.url())

	connects := make(chan struct{}, 4)
	m.Subscribe(EventConnect, func(json.RawMessage) { connects <- struct{}{} })
	startConnected(t, m)

	first := p.accept(t)
	<-connects
	first.CloseNow()

	p.accept(t)
	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("connect not dispatched after reconnect")
	}
	var te *TransportError
	require.ErrorAs(t, m.LastError(), &te)
}

func TestEmitWhileDisconnected(t *testing.T) {
	m := newTestManager(t, "ws://127.0.0.1:1/socket")
	err := m.Emit("send-message", map[string]string{"content": "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDialFailureKeepsRetrying(t *testing.T) {
	m := newTestManager(t, "ws://127.0.0.1:1/socket")
	require.NoError(t, m.Start(context.Background(), credentials.Credentials{}))

	require.Eventually(t, func() bool {
		var te *TransportError
		return errors.As(m.LastError(), &te) && te.Op == "dial"
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitConnected(ctx), context.DeadlineExceeded)
}

func TestStartTwice(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.url())
	require.NoError(t, m.Start(context.Background(), credentials.Credentials{}))
	assert.ErrorIs(t, m.Start(context.Background(), credentials.Credentials{}), ErrAlreadyStarted)
}

func TestTeardown(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.url())

	var calls atomic.Int32
	m.Subscribe("evt", func(json.RawMessage) { calls.Add(1) })
	startConnected(t, m)
	server := p.accept(t)

	m.Teardown()
	m.Teardown()

	assert.Equal(t, status.Closed, m.State())
	assert.ErrorIs(t, m.Emit("evt", nil), ErrClosed)
	assert.ErrorIs(t, m.WaitConnected(context.Background()), ErrClosed)
	assert.ErrorIs(t, m.Start(context.Background(), credentials.Credentials{}), ErrClosed)

	// Server writes after teardown must not reach handlers.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = wsjson.Write(ctx, server, Frame{Event: "evt"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	// Subscribing after teardown is a no-op.
	unsub := m.Subscribe("evt", func(json.RawMessage) { calls.Add(1) })
	unsub()
}

func TestTeardownBeforeStart(t *testing.T) {
	m := NewManager(Options{URL: "ws://unused"}, nil, nil)
	m.Teardown()
	assert.Equal(t, status.Closed, m.State())
}
