package presence

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/matheus3301/huddle/internal/conn"
)

type fakeSocket struct {
	mu       sync.Mutex
	next     int
	handlers map[string]map[int]conn.Handler
	probes   []string
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{handlers: make(map[string]map[int]conn.Handler)}
}

func (f *fakeSocket) Subscribe(event string, fn conn.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]conn.Handler)
	}
	f.handlers[event][id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeSocket) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event == eventProbe {
		f.probes = append(f.probes, payload.(string))
	}
	return nil
}

func (f *fakeSocket) deliver(event, data string) {
	f.mu.Lock()
	var fns []conn.Handler
	for _, fn := range f.handlers[event] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(json.RawMessage(data))
	}
}

func (f *fakeSocket) probeCount(peer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.probes {
		if p == peer {
			n++
		}
	}
	return n
}

func (f *fakeSocket) handlerCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[event])
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordOf returns a copy of the raw record for peerID.
func recordOf(tr *Tracker, peerID string) (Record, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	rec, ok := tr.records[peerID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func newTestTracker(t *testing.T, interval time.Duration) (*Tracker, *fakeSocket, *clock) {
	t.Helper()
	sock := newFakeSocket()
	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}
	tr := New(sock, Options{
		ProbeInterval: interval,
		StaleAfter:    15 * time.Second,
		Now:           clk.Now,
	}, zap.NewNop())
	tr.Start()
	t.Cleanup(tr.Stop)
	return tr, sock, clk
}

func TestWatchProbesImmediatelyAndPeriodically(t *testing.T) {
	tr, sock, _ := newTestTracker(t, 10*time.Millisecond)

	tr.Watch("p1")
	tr.Watch("p1")
	assert.Equal(t, 1, sock.handlerCount(statusEventPrefix+"p1"))

	require.Eventually(t, func() bool { return sock.probeCount("p1") >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"p1"}, tr.Watching())
}

func TestStatusPushUpdatesRecord(t *testing.T) {
	tr, sock, clk := newTestTracker(t, time.Hour)
	tr.Watch("p1")

	sock.deliver(statusEventPrefix+"p1", `{"userId":"p1","isOnline":true}`)
	st := tr.Status("p1")
	assert.True(t, st.Online)
	assert.False(t, st.Stale)
	assert.True(t, clk.Now().Equal(st.LastSeenAt))

	clk.Advance(time.Second)
	sock.deliver(statusEventPrefix+"p1", `{"userId":"p1","isOnline":false}`)
	st = tr.Status("p1")
	assert.False(t, st.Online)
	assert.True(t, clk.Now().Add(-time.Second).Equal(st.LastSeenAt), "offline push keeps last online time")
}

func TestStaleRecordReadsOffline(t *testing.T) {
	tr, sock, clk := newTestTracker(t, time.Hour)
	tr.Watch("p1")
	sock.deliver(statusEventPrefix+"p1", `{"userId":"p1","isOnline":true}`)

	clk.Advance(15 * time.Second)
	assert.True(t, tr.Status("p1").Online, "exactly at the window is still fresh")

	clk.Advance(time.Millisecond)
	st := tr.Status("p1")
	assert.False(t, st.Online)
	assert.True(t, st.Stale)

	rec, ok := recordOf(tr, "p1")
	require.True(t, ok)
	assert.True(t, rec.IsOnline, "raw record keeps the last pushed value")
}

func TestNeverProbedIsStale(t *testing.T) {
	tr, _, _ := newTestTracker(t, time.Hour)
	tr.Watch("p1")
	st := tr.Status("p1")
	assert.True(t, st.Known)
	assert.True(t, st.Stale)
	assert.False(t, st.Online)

	unknown := tr.Status("nobody")
	assert.False(t, unknown.Known)
	assert.False(t, unknown.Online)
}

func TestUnwatchIgnoresLaterPushes(t *testing.T) {
	tr, sock, _ := newTestTracker(t, 5*time.Millisecond)
	tr.Watch("p1")
	sock.deliver(statusEventPrefix+"p1", `{"userId":"p1","isOnline":false}`)
	before := tr.Status("p1")

	// Keep a handler reference as a dispatcher mid-flight would.
	sock.mu.Lock()
	var stale conn.Handler
	for _, fn := range sock.handlers[statusEventPrefix+"p1"] {
		stale = fn
	}
	sock.mu.Unlock()

	tr.Unwatch("p1")
	tr.Unwatch("p1")
	assert.Equal(t, 0, sock.handlerCount(statusEventPrefix+"p1"))

	sock.deliver(statusEventPrefix+"p1", `{"userId":"p1","isOnline":true}`)
	stale(json.RawMessage(`{"userId":"p1","isOnline":true}`))

	after := tr.Status("p1")
	assert.Equal(t, before.Online, after.Online)
	assert.Equal(t, before.LastSeenAt, after.LastSeenAt)
	assert.False(t, after.Watched)

	// The probe loop has exited: no new probes.
	n := sock.probeCount("p1")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sock.probeCount("p1"))
}

func TestPushForOtherUserIgnored(t *testing.T) {
	tr, sock, _ := newTestTracker(t, time.Hour)
	tr.Watch("p1")
	sock.deliver(statusEventPrefix+"p1", `{"userId":"p2","isOnline":true}`)
	assert.True(t, tr.Status("p1").Stale)
}

func TestLastSeenUpdatesWithoutOnline(t *testing.T) {
	var mu sync.Mutex
	var acts []Activity
	sock := newFakeSocket()
	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}
	tr := New(sock, Options{
		ProbeInterval: time.Hour,
		Now:           clk.Now,
		OnActivity: func(a Activity) {
			mu.Lock()
			acts = append(acts, a)
			mu.Unlock()
		},
	}, zap.NewNop())
	tr.Start()
	t.Cleanup(tr.Stop)
	tr.Watch("p1")

	sock.deliver(eventLastSeen, `{"from":{"_id":"p1"},"message":"hey","timestamp":1700000005000}`)

	rec, ok := recordOf(tr, "p1")
	require.True(t, ok)
	assert.False(t, rec.IsOnline)
	assert.True(t, time.UnixMilli(1_700_000_005_000).Equal(rec.LastSeenAt))

	// Unknown peers are not tracked but activity is still forwarded.
	sock.deliver(eventLastSeen, `{"from":{"_id":"p9"},"message":{"content":"yo"}}`)
	_, ok = recordOf(tr, "p9")
	assert.False(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, acts, 2)
	assert.Equal(t, Activity{PeerID: "p1", Message: "hey", At: time.UnixMilli(1_700_000_005_000)}, acts[0])
	assert.Equal(t, "yo", acts[1].Message)
	assert.True(t, clk.Now().Equal(acts[1].At))
}

func TestLastSeenFromSelfIgnored(t *testing.T) {
	var mu sync.Mutex
	var acts []Activity
	sock := newFakeSocket()
	tr := New(sock, Options{
		UserID:        "me",
		ProbeInterval: time.Hour,
		OnActivity: func(a Activity) {
			mu.Lock()
			acts = append(acts, a)
			mu.Unlock()
		},
	}, zap.NewNop())
	tr.Start()
	t.Cleanup(tr.Stop)

	sock.deliver(eventLastSeen, `{"from":{"_id":"me"},"message":"echo of my own send"}`)
	sock.deliver(eventLastSeen, `{"from":"p1","message":"hi"}`)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, acts, 1)
	assert.Equal(t, "p1", acts[0].PeerID)
}

func TestReprobeOnConnect(t *testing.T) {
	tr, sock, _ := newTestTracker(t, time.Hour)
	tr.Watch("p1")
	tr.Watch("p2")
	require.Eventually(t, func() bool { return sock.probeCount("p1") == 1 && sock.probeCount("p2") == 1 }, time.Second, 5*time.Millisecond)

	sock.deliver(conn.EventConnect, "")
	assert.Equal(t, 2, sock.probeCount("p1"))
	assert.Equal(t, 2, sock.probeCount("p2"))
}

func TestStopReleasesEverything(t *testing.T) {
	sock := newFakeSocket()
	tr := New(sock, Options{ProbeInterval: time.Hour}, nil)
	tr.Start()
	tr.Start()
	tr.Watch("p1")
	assert.Equal(t, 1, sock.handlerCount(eventLastSeen))

	tr.Stop()
	assert.Equal(t, 0, sock.handlerCount(eventLastSeen))
	assert.Equal(t, 0, sock.handlerCount(conn.EventConnect))
	assert.Equal(t, 0, sock.handlerCount(statusEventPrefix+"p1"))
	assert.Empty(t, tr.Watching())
}

func TestParseOnline(t *testing.T) {
	tests := []struct {
		in     string
		online bool
		ok     bool
	}{
		{`{"isOnline":true}`, true, true},
		{`{"online":false}`, false, true},
		{`{"status":"ONLINE"}`, true, true},
		{`{"status":"away"}`, false, true},
		{`{}`, false, false},
	}
	for _, tt := range tests {
		online, ok := parseOnline(parse(tt.in))
		assert.Equal(t, tt.online, online, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func parse(s string) gjson.Result { return gjson.Parse(s) }
