package presence

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/matheus3301/huddle/internal/conn"
	"github.com/matheus3301/huddle/internal/lenient"
)

// Socket is the part of the shared connection the tracker needs.
type Socket interface {
	Subscribe(event string, fn conn.Handler) func()
	Emit(event string, payload any) error
}

const (
	eventProbe        = "check_user_status"
	eventLastSeen     = "last-seen"
	statusEventPrefix = "user_online_status_"
)

// Defaults for Options.
const (
	DefaultProbeInterval = 5 * time.Second
	DefaultStaleAfter    = 15 * time.Second
)

// Record is the tracker's view of one peer.
type Record struct {
	PeerID      string    `json:"peerId"`
	IsOnline    bool      `json:"isOnline"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	LastProbeAt time.Time `json:"lastProbeAt"`
}

// Status is what callers should display for a peer.
type Status struct {
	PeerID     string    `json:"peerId"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Stale      bool      `json:"stale"`
	Known      bool      `json:"known"`
	Watched    bool      `json:"watched"`
}

// Activity is a last-seen notification: the peer sent a message or was active.
type Activity struct {
	PeerID  string
	Message string
	At      time.Time
}

// Options configure a Tracker.
type Options struct {
	// UserID is the local user; last-seen events from it are ignored.
	UserID        string
	ProbeInterval time.Duration
	StaleAfter    time.Duration
	Now           func() time.Time
	OnChange      func(Record)
	OnActivity    func(Activity)
}

// Tracker polls peer status over the shared connection and keeps a
// peer -> Record map. Records not refreshed within StaleAfter read offline.
type Tracker struct {
	sock     Socket
	self     string
	interval time.Duration
	stale    time.Duration
	now      func() time.Time
	onChange func(Record)
	onActive func(Activity)
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	global  []func()
	records map[string]*Record
	watches map[string]*watch
}

type watch struct {
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates a tracker; call Start to receive global events.
func New(sock Socket, opts Options, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnChange == nil {
		opts.OnChange = func(Record) {}
	}
	if opts.OnActivity == nil {
		opts.OnActivity = func(Activity) {}
	}
	return &Tracker{
		sock:     sock,
		self:     opts.UserID,
		interval: opts.ProbeInterval,
		stale:    opts.StaleAfter,
		now:      opts.Now,
		onChange: opts.OnChange,
		onActive: opts.OnActivity,
		logger:   logger.Named("presence"),
		records:  make(map[string]*Record),
		watches:  make(map[string]*watch),
	}
}

// Start subscribes to last-seen and to reconnects. Calling it again is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	t.global = []func(){
		t.sock.Subscribe(eventLastSeen, t.onLastSeen),
		t.sock.Subscribe(conn.EventConnect, func(json.RawMessage) { t.reprobe() }),
	}
}

// Stop unwatches every peer and drops the global subscriptions.
func (t *Tracker) Stop() {
	t.mu.Lock()
	global := t.global
	t.global = nil
	t.started = false
	peers := make([]string, 0, len(t.watches))
	for p := range t.watches {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	for _, unsub := range global {
		unsub()
	}
	for _, p := range peers {
		t.Unwatch(p)
	}
}

// Watch starts probing peerID and listening for its status pushes.
// Watching an already watched peer is a no-op.
func (t *Tracker) Watch(peerID string) {
	if peerID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.watches[peerID]; ok {
		return
	}
	if _, ok := t.records[peerID]; !ok {
		t.records[peerID] = &Record{PeerID: peerID}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{cancel: cancel, done: make(chan struct{})}
	w.unsubscribe = t.sock.Subscribe(statusEventPrefix+peerID, func(data json.RawMessage) {
		t.onStatus(peerID, w, data)
	})
	t.watches[peerID] = w
	go t.probeLoop(ctx, peerID, w.done)
	t.logger.Debug("watching", zap.String("peer", peerID))
}

// Unwatch stops probing peerID. When it returns the probe loop has exited
// and no later push for peerID changes the record.
func (t *Tracker) Unwatch(peerID string) {
	t.mu.Lock()
	w, ok := t.watches[peerID]
	if ok {
		delete(t.watches, peerID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	w.unsubscribe()
	w.cancel()
	<-w.done
	t.logger.Debug("unwatched", zap.String("peer", peerID))
}

// Watching lists watched peers, sorted.
func (t *Tracker) Watching() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.watches))
	for p := range t.watches {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Status reports peerID, treating a stale record as offline.
func (t *Tracker) Status(peerID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, watched := t.watches[peerID]
	rec, ok := t.records[peerID]
	if !ok {
		return Status{PeerID: peerID, Stale: true, Watched: watched}
	}
	stale := rec.LastProbeAt.IsZero() || t.now().Sub(rec.LastProbeAt) > t.stale
	return Status{
		PeerID:     peerID,
		Online:     rec.IsOnline && !stale,
		LastSeenAt: rec.LastSeenAt,
		Stale:      stale,
		Known:      true,
		Watched:    watched,
	}
}

func (t *Tracker) probeLoop(ctx context.Context, peerID string, done chan struct{}) {
	defer close(done)
	t.probe(peerID)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.probe(peerID)
		}
	}
}

func (t *Tracker) probe(peerID string) {
	if err := t.sock.Emit(eventProbe, peerID); err != nil {
		t.logger.Debug("probe not sent", zap.String("peer", peerID), zap.Error(err))
	}
}

func (t *Tracker) reprobe() {
	for _, p := range t.Watching() {
		t.probe(p)
	}
}

func (t *Tracker) onStatus(peerID string, w *watch, data json.RawMessage) {
	root := gjson.ParseBytes(data)
	if id := lenient.ID(root, "userId", "user"); id != "" && id != peerID {
		return
	}
	online, ok := parseOnline(root)
	if !ok {
		t.logger.Debug("status push without online flag", zap.String("peer", peerID))
		return
	}

	t.mu.Lock()
	if current, watched := t.watches[peerID]; !watched || current != w {
		t.mu.Unlock()
		return
	}
	rec := t.records[peerID]
	now := t.now()
	rec.IsOnline = online
	rec.LastProbeAt = now
	if online {
		rec.LastSeenAt = now
	} else if at, ok := lenient.Time(root, "lastSeen", "lastSeenAt"); ok && at.After(rec.LastSeenAt) {
		rec.LastSeenAt = at
	}
	snapshot := *rec
	t.mu.Unlock()

	t.onChange(snapshot)
}

func (t *Tracker) onLastSeen(data json.RawMessage) {
	root := gjson.ParseBytes(data)
	peerID := lenient.ID(root, "from", "sender", "userId")
	if peerID == "" || peerID == t.self {
		return
	}
	at, ok := lenient.Time(root, "timestamp", "createdAt")
	if !ok {
		at = t.now()
	}
	text := lenient.First(root, "message")
	if text.IsObject() {
		text = lenient.First(text, "content", "text")
	}
	act := Activity{PeerID: peerID, Message: text.String(), At: at}

	t.mu.Lock()
	var snapshot *Record
	if !t.started {
		t.mu.Unlock()
		return
	}
	if rec, known := t.records[peerID]; known && at.After(rec.LastSeenAt) {
		rec.LastSeenAt = at
		cp := *rec
		snapshot = &cp
	}
	t.mu.Unlock()

	if snapshot != nil {
		t.onChange(*snapshot)
	}
	t.onActive(act)
}

func parseOnline(root gjson.Result) (bool, bool) {
	v := lenient.First(root, "isOnline", "online")
	switch v.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	}
	if s := lenient.String(root, "status"); s != "" {
		return strings.EqualFold(s, "online"), true
	}
	return false, false
}
