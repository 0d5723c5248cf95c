package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc/backoff"

	"github.com/matheus3301/huddle/internal/credentials"
	"github.com/matheus3301/huddle/internal/status"
)

var (
	ErrClosed         = errors.New("connection manager closed")
	ErrAlreadyStarted = errors.New("connection manager already started")
	ErrNotConnected   = errors.New("not connected")
)

// TransportError describes a dial, read or write failure on the shared connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Options configure the shared connection.
type Options struct {
	URL          string
	Backoff      backoff.Config
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	WriteQueue   int
	ReadLimit    int64
}

func (o Options) withDefaults() Options {
	if o.Backoff.BaseDelay <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 15 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.WriteQueue <= 0 {
		o.WriteQueue = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	return o
}

// Manager owns the single persistent connection of the process. Components
// subscribe to named events and emit frames through it; only the Manager
// dials or closes the socket.
type Manager struct {
	opts    Options
	machine *status.Machine
	logger  *zap.Logger
	reg     *registry

	mu          sync.Mutex
	started     bool
	closed      bool
	cancel      context.CancelFunc
	done        chan struct{}
	ws          *websocket.Conn
	out         chan []byte
	lastErr     error
	connectedAt time.Time

	teardownOnce sync.Once
}

// NewManager creates an idle manager. Nothing is dialed until Start.
func NewManager(opts Options, machine *status.Machine, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine(nil)
	}
	return &Manager{
		opts:    opts.withDefaults(),
		machine: machine,
		logger:  logger,
		reg:     newRegistry(),
	}
}

// Start launches the connection supervisor and returns immediately.
func (m *Manager) Start(ctx context.Context, creds credentials.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx, creds)
	return nil
}

// WaitConnected blocks until the connection is up, the manager closes or ctx ends.
func (m *Manager) WaitConnected(ctx context.Context) error {
	for {
		changed := m.machine.Changed()
		switch m.machine.Current() {
		case status.Connected:
			return nil
		case status.Closed:
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Subscribe registers fn for event and returns its unsubscribe function.
// Unsubscribing is idempotent and does not affect other handlers.
func (m *Manager) Subscribe(event string, fn Handler) func() {
	return m.reg.add(event, fn)
}

// Emit queues a frame on the current connection without waiting for it to be
// written. Frames emitted while disconnected are dropped, never replayed.
func (m *Manager) Emit(event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.out == nil {
		m.logger.Debug("emit while disconnected, dropping", zap.String("event", event))
		return ErrNotConnected
	}
	select {
	case m.out <- frame:
		return nil
	default:
		m.logger.Warn("write queue full, dropping frame", zap.String("event", event))
		return ErrNotConnected
	}
}

// State reports the connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// LastError returns the most recent transport error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ConnectedAt returns when the current connection came up; zero if down.
func (m *Manager) ConnectedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedAt
}

// Teardown closes the connection and stops reconnecting. No handler fires
// once Teardown has started. Safe to call more than once.
func (m *Manager) Teardown() {
	m.teardownOnce.Do(func() {
		m.reg.close()

		m.mu.Lock()
		m.closed = true
		ws, cancel, done := m.ws, m.cancel, m.done
		m.mu.Unlock()

		if ws != nil {
			_ = ws.Close(websocket.StatusNormalClosure, "teardown")
		}
		if cancel != nil {
			cancel()
			<-done
		}
		if err := m.machine.Transition(status.Closed); err != nil {
			m.logger.Debug("teardown transition", zap.Error(err))
		}
		m.logger.Info("connection torn down")
	})
}

func (m *Manager) run(ctx context.Context, creds credentials.Credentials) {
	defer close(m.done)

	retries := 0
	for {
		m.transition(status.Connecting)

		ws, err := m.dial(ctx, creds)
		if err == nil {
			retries = 0
			err = m.serve(ctx, ws)
		}
		if ctx.Err() != nil || m.isClosed() {
			return
		}
		m.setErr(err)
		m.transition(status.Reconnecting)

		wait := delay(m.opts.Backoff, retries)
		retries++
		m.logger.Warn("connection lost, backing off",
			zap.Error(err),
			zap.Duration("delay", wait),
			zap.Int("attempt", retries),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (m *Manager) dial(ctx context.Context, creds credentials.Credentials) (*websocket.Conn, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	q := u.Query()
	if creds.UserID != "" {
		q.Set("userId", creds.UserID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
		header.Add("Cookie", (&http.Cookie{Name: "token", Value: creds.Token}).String())
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	ws.SetReadLimit(m.opts.ReadLimit)
	return ws, nil
}

// serve runs one connection until it fails or ctx ends.
func (m *Manager) serve(ctx context.Context, ws *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan []byte, m.opts.WriteQueue)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ws.CloseNow()
		return ErrClosed
	}
	m.ws, m.out, m.connectedAt = ws, out, time.Now()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.ws, m.out, m.connectedAt = nil, nil, time.Time{}
		m.mu.Unlock()
		ws.CloseNow()
	}()

	m.transition(status.Connected)
	m.logger.Info("connected", zap.String("url", m.opts.URL))
	m.reg.dispatch(EventConnect, nil)

	writeDone := make(chan error, 1)
	go func() { writeDone <- m.writePump(connCtx, ws, out) }()

	err := m.readPump(connCtx, ws)
	cancel()
	if werr := <-writeDone; err == nil {
		err = werr
	}
	return err
}

func (m *Manager) readPump(ctx context.Context, ws *websocket.Conn) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return &TransportError{Op: "read", Err: err}
		}
		if typ != websocket.MessageText {
			continue
		}
		f, err := decodeFrame(data)
		if err != nil {
			m.logger.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		if f.Event == EventConnect {
			continue
		}
		m.reg.dispatch(f.Event, f.Data)
	}
}

func (m *Manager) writePump(ctx context.Context, ws *websocket.Conn, out <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-out:
			wctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
			err := ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				// Unblocks the reader so the supervisor can reconnect.
				ws.CloseNow()
				return &TransportError{Op: "write", Err: err}
			}
		}
	}
}

func (m *Manager) transition(to status.State) {
	if err := m.machine.Transition(to); err != nil {
		m.logger.Debug("state transition rejected", zap.Error(err))
	}
}

func (m *Manager) setErr(err error) {
	if err == nil {
		return
	}
	var te *TransportError
	if !errors.As(err, &te) {
		err = &TransportError{Op: "serve", Err: err}
	}
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
