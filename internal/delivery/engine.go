package delivery

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/matheus3301/huddle/internal/conn"
	"github.com/matheus3301/huddle/internal/lenient"
)

// Socket is the part of the shared connection the engine needs.
type Socket interface {
	Subscribe(event string, fn conn.Handler) func()
	Emit(event string, payload any) error
}

const (
	eventJoin       = "join-chat"
	eventSend       = "send-message"
	eventNewMessage = "new-message"
)

// DefaultSendTimeout is how long a send waits for its echo before failing.
const DefaultSendTimeout = 10 * time.Second

// Options configure an Engine.
type Options struct {
	UserID      string
	SendTimeout time.Duration
	// OnChange is called after each log mutation, outside the engine lock.
	OnChange func(Change)
	Now      func() time.Time
}

// Engine sends messages optimistically and reconciles server echoes into
// per-conversation ordered logs. It is the only writer of those logs.
type Engine struct {
	sock    Socket
	userID  string
	timeout time.Duration
	notify  func(Change)
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	closed  bool
	rooms   map[string]*room
	logs    map[string]*messageLog
	pending map[string]*pendingSend
}

type room struct {
	conversationID string
	peerID         string
	unsubscribe    []func()
}

// New creates an engine bound to sock.
func New(sock Socket, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnChange == nil {
		opts.OnChange = func(Change) {}
	}
	return &Engine{
		sock:    sock,
		userID:  opts.UserID,
		timeout: opts.SendTimeout,
		notify:  opts.OnChange,
		now:     opts.Now,
		logger:  logger.Named("delivery"),
		rooms:   make(map[string]*room),
		logs:    make(map[string]*messageLog),
		pending: make(map[string]*pendingSend),
	}
}

// Join subscribes to the pair room of conversationID with peerID and asks the
// backend to route its messages here. Joining twice is a no-op.
func (e *Engine) Join(conversationID, peerID string) error {
	if conversationID == "" || peerID == "" {
		return fmt.Errorf("join: conversation and peer are required")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if _, ok := e.rooms[conversationID]; ok {
		e.mu.Unlock()
		return nil
	}
	r := &room{conversationID: conversationID, peerID: peerID}
	e.rooms[conversationID] = r
	e.logFor(conversationID)
	r.unsubscribe = []func(){
		e.sock.Subscribe(eventNewMessage, func(data json.RawMessage) { e.onNewMessage(r, data) }),
		// The backend forgets rooms across reconnects.
		e.sock.Subscribe(conn.EventConnect, func(json.RawMessage) { e.rejoin(r) }),
	}
	e.mu.Unlock()

	e.emit(eventJoin, joinPayload{UserID: e.userID, RecipientID: peerID})
	e.logger.Debug("joined", zap.String("conversation", conversationID), zap.String("peer", peerID))
	return nil
}

// Leave drops the room's subscriptions. The log is kept so a later Join
// resumes where it left off. Events arriving afterwards are ignored.
func (e *Engine) Leave(conversationID string) error {
	e.mu.Lock()
	r, ok := e.rooms[conversationID]
	if ok {
		delete(e.rooms, conversationID)
	}
	e.mu.Unlock()
	if !ok {
		return ErrNotJoined
	}
	for _, unsub := range r.unsubscribe {
		unsub()
	}
	e.logger.Debug("left", zap.String("conversation", conversationID))
	return nil
}

// Joined reports whether conversationID currently has a room.
func (e *Engine) Joined(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.rooms[conversationID]
	return ok
}

// Send appends a pending message, emits it and returns its localId without
// waiting for the backend.
func (e *Engine) Send(conversationID, content, attachmentRef string) (string, error) {
	if strings.TrimSpace(content) == "" && attachmentRef == "" {
		return "", ErrEmptyMessage
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	r, ok := e.rooms[conversationID]
	if !ok {
		e.mu.Unlock()
		return "", ErrNotJoined
	}

	now := e.now()
	msg := Message{
		LocalID:        NewLocalID(),
		ConversationID: conversationID,
		SenderID:       e.userID,
		Content:        content,
		AttachmentRef:  attachmentRef,
		CreatedAt:      now,
		State:          Pending,
	}
	e.logFor(conversationID).insert(msg)

	ps := &pendingSend{
		localID:        msg.LocalID,
		conversationID: conversationID,
		fingerprint:    fingerprint(content, attachmentRef),
		sentAt:         now,
		payload: sendPayload{
			ConversationID: conversationID,
			SenderID:       e.userID,
			RecipientID:    r.peerID,
			Content:        content,
			AttachmentRef:  attachmentRef,
			LocalID:        msg.LocalID,
		},
	}
	e.pending[msg.LocalID] = ps
	e.armLocked(ps)
	payload := ps.payload
	e.mu.Unlock()

	e.notify(Change{Kind: KindAppended, Message: msg, PeerID: r.peerID})
	e.emit(eventSend, payload)
	return msg.LocalID, nil
}

// Retry re-emits a failed message with the same localId.
func (e *Engine) Retry(localID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	ps, ok := e.pending[localID]
	if !ok {
		known := e.findLocked(localID)
		e.mu.Unlock()
		if known {
			return ErrNotRetriable
		}
		return ErrUnknownMessage
	}
	if !ps.failed {
		e.mu.Unlock()
		return ErrNotRetriable
	}
	r, joined := e.rooms[ps.conversationID]
	if !joined {
		e.mu.Unlock()
		return ErrNotJoined
	}

	ps.failed = false
	ps.sentAt = e.now()
	ps.payload.RecipientID = r.peerID
	msg, _ := e.logFor(ps.conversationID).update(localID, func(m *Message) {
		m.State = Pending
		m.FailReason = ""
	})
	e.armLocked(ps)
	payload := ps.payload
	e.mu.Unlock()

	e.notify(Change{Kind: KindRetried, Message: msg, PeerID: r.peerID})
	e.emit(eventSend, payload)
	return nil
}

// Log returns a copy of the conversation's ordered messages.
func (e *Engine) Log(conversationID string) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.logs[conversationID]
	if !ok {
		return nil
	}
	return l.snapshot()
}

// PendingCount reports sends still waiting for their echo.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ps := range e.pending {
		if !ps.failed {
			n++
		}
	}
	return n
}

// Restore seeds logs from a local cache. Own messages that never got an echo
// come back as failed so they can be retried. Messages already present are skipped.
func (e *Engine) Restore(msgs []Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range msgs {
		if m.LocalID == "" || m.ConversationID == "" {
			continue
		}
		l := e.logFor(m.ConversationID)
		if l.indexLocal(m.LocalID) >= 0 || l.hasServer(m.ServerID) {
			continue
		}
		if m.SenderID == e.userID && m.State != Confirmed {
			m.State = Failed
			if m.FailReason == "" {
				m.FailReason = failRestart
			}
			e.pending[m.LocalID] = &pendingSend{
				localID:        m.LocalID,
				conversationID: m.ConversationID,
				fingerprint:    fingerprint(m.Content, m.AttachmentRef),
				sentAt:         m.CreatedAt,
				failed:         true,
				payload: sendPayload{
					ConversationID: m.ConversationID,
					SenderID:       m.SenderID,
					Content:        m.Content,
					AttachmentRef:  m.AttachmentRef,
					LocalID:        m.LocalID,
				},
			}
		}
		l.insert(m)
	}
}

// Close leaves every room and stops all send timers.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	rooms := e.rooms
	e.rooms = make(map[string]*room)
	for _, ps := range e.pending {
		if ps.timer != nil {
			ps.timer.Stop()
		}
	}
	e.mu.Unlock()

	for _, r := range rooms {
		for _, unsub := range r.unsubscribe {
			unsub()
		}
	}
}

func (e *Engine) rejoin(r *room) {
	e.mu.Lock()
	current, ok := e.rooms[r.conversationID]
	e.mu.Unlock()
	if !ok || current != r {
		return
	}
	e.emit(eventJoin, joinPayload{UserID: e.userID, RecipientID: r.peerID})
}

func (e *Engine) onNewMessage(r *room, data json.RawMessage) {
	in, ok := parseInbound(data)
	if !ok {
		e.logger.Debug("ignoring new-message without sender or content")
		return
	}

	e.mu.Lock()
	if current, joined := e.rooms[r.conversationID]; !joined || current != r {
		e.mu.Unlock()
		return
	}
	// Every room's handler sees every new-message; only the owner acts on it.
	owner := e.ownerLocked(in)
	if owner != r {
		orphan := owner == nil && in.SenderID == e.userID && e.firstRoomLocked() == r
		e.mu.Unlock()
		if orphan {
			e.logger.Warn("own message matches no joined conversation, dropping",
				zap.String("local_id", in.LocalID),
				zap.String("server_id", in.ServerID),
			)
		}
		return
	}
	change, ok := e.reconcileLocked(r, in)
	change.PeerID = r.peerID
	e.mu.Unlock()

	if ok {
		e.notify(change)
	}
}

// ownerLocked attributes an inbound message to at most one joined room.
func (e *Engine) ownerLocked(in inbound) *room {
	if r, ok := e.rooms[in.ConversationID]; ok {
		return r
	}
	if in.SenderID != e.userID {
		return e.roomForPeerLocked(in.SenderID)
	}
	if ps := e.matchPendingLocked(in); ps != nil {
		return e.rooms[ps.conversationID]
	}
	if r := e.roomHoldingLocked(in); r != nil {
		return r
	}
	if in.RecipientID != "" {
		return e.roomForPeerLocked(in.RecipientID)
	}
	// The bare echo names neither room nor recipient. With a single room
	// there is only one place it can go.
	if len(e.rooms) == 1 {
		return e.firstRoomLocked()
	}
	return nil
}

func (e *Engine) roomForPeerLocked(peerID string) *room {
	if peerID == "" {
		return nil
	}
	for _, r := range e.rooms {
		if r.peerID == peerID {
			return r
		}
	}
	return nil
}

// roomHoldingLocked finds the joined room whose log already has the message,
// so duplicate echoes land where the original is.
func (e *Engine) roomHoldingLocked(in inbound) *room {
	for id, r := range e.rooms {
		l := e.logs[id]
		if l == nil {
			continue
		}
		if (in.LocalID != "" && l.indexLocal(in.LocalID) >= 0) || l.hasServer(in.ServerID) {
			return r
		}
	}
	return nil
}

// firstRoomLocked returns the room with the smallest conversation id.
func (e *Engine) firstRoomLocked() *room {
	var first *room
	for id, r := range e.rooms {
		if first == nil || id < first.conversationID {
			first = r
		}
	}
	return first
}

func (e *Engine) reconcileLocked(r *room, in inbound) (Change, bool) {
	l := e.logFor(r.conversationID)
	own := in.SenderID == e.userID

	if own {
		if ps := e.matchPendingLocked(in); ps != nil && ps.conversationID == r.conversationID {
			return e.confirmLocked(l, ps, in), true
		}
	}

	if l.hasServer(in.ServerID) {
		return Change{}, false
	}
	if own && in.LocalID != "" {
		if l.indexLocal(in.LocalID) >= 0 {
			return Change{}, false
		}
		e.logger.Warn("echo for unknown localId, appending as new",
			zap.String("conversation", r.conversationID),
			zap.String("local_id", in.LocalID),
			zap.String("server_id", in.ServerID),
		)
	}

	msg := Message{
		LocalID:        NewLocalID(),
		ServerID:       in.ServerID,
		ConversationID: r.conversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		AttachmentRef:  in.AttachmentRef,
		CreatedAt:      in.CreatedAt,
		State:          Confirmed,
	}
	if own && in.LocalID != "" {
		msg.LocalID = in.LocalID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = e.now()
	}
	l.insert(msg)
	return Change{Kind: KindAppended, Message: msg}, true
}

// matchPendingLocked finds the send an own echo confirms: by localId, or for
// echoes stripped of it, the oldest pending send with the same payload across
// all conversations.
func (e *Engine) matchPendingLocked(in inbound) *pendingSend {
	if in.LocalID != "" {
		return e.pending[in.LocalID]
	}
	fp := fingerprint(in.Content, in.AttachmentRef)
	var oldest *pendingSend
	for _, ps := range e.pending {
		if ps.fingerprint != fp {
			continue
		}
		if oldest == nil || ps.sentAt.Before(oldest.sentAt) {
			oldest = ps
		}
	}
	return oldest
}

func (e *Engine) confirmLocked(l *messageLog, ps *pendingSend, in inbound) Change {
	if ps.timer != nil {
		ps.timer.Stop()
	}
	delete(e.pending, ps.localID)
	msg, _ := l.update(ps.localID, func(m *Message) {
		m.State = Confirmed
		m.FailReason = ""
		if in.ServerID != "" {
			m.ServerID = in.ServerID
		}
		if !in.CreatedAt.IsZero() {
			m.CreatedAt = in.CreatedAt
		}
	})
	return Change{Kind: KindConfirmed, Message: msg}
}

// armLocked starts a fresh timeout for ps. Timers from earlier attempts see a
// different attempt number and do nothing.
func (e *Engine) armLocked(ps *pendingSend) {
	if ps.timer != nil {
		ps.timer.Stop()
	}
	ps.attempt++
	attempt := ps.attempt
	localID := ps.localID
	ps.timer = time.AfterFunc(e.timeout, func() { e.expire(localID, attempt) })
}

func (e *Engine) expire(localID string, attempt int) {
	e.mu.Lock()
	ps, ok := e.pending[localID]
	if e.closed || !ok || ps.attempt != attempt || ps.failed {
		e.mu.Unlock()
		return
	}
	ps.failed = true
	var peerID string
	if r, ok := e.rooms[ps.conversationID]; ok {
		peerID = r.peerID
	}
	msg, found := e.logFor(ps.conversationID).update(localID, func(m *Message) {
		m.State = Failed
		m.FailReason = failTimeout
	})
	e.mu.Unlock()

	if found {
		e.logger.Info("send timed out", zap.String("local_id", localID))
		e.notify(Change{Kind: KindFailed, Message: msg, PeerID: peerID})
	}
}

func (e *Engine) findLocked(localID string) bool {
	for _, l := range e.logs {
		if l.indexLocal(localID) >= 0 {
			return true
		}
	}
	return false
}

func (e *Engine) logFor(conversationID string) *messageLog {
	l, ok := e.logs[conversationID]
	if !ok {
		l = &messageLog{}
		e.logs[conversationID] = l
	}
	return l
}

// emit is fire-and-forget; a dropped frame surfaces later as a send timeout.
func (e *Engine) emit(event string, payload any) {
	if err := e.sock.Emit(event, payload); err != nil {
		e.logger.Debug("emit failed", zap.String("event", event), zap.Error(err))
	}
}

// inbound is a decoded new-message event.
type inbound struct {
	SenderID       string
	RecipientID    string
	ConversationID string
	LocalID        string
	ServerID       string
	Content        string
	AttachmentRef  string
	CreatedAt      time.Time
}

func parseInbound(data json.RawMessage) (inbound, bool) {
	root := gjson.ParseBytes(data)
	msg := lenient.First(root, "message")
	if !msg.IsObject() {
		msg = root
	}
	in := inbound{
		SenderID:       lenient.ID(root, "sender", "message.sender", "senderId", "message.senderId"),
		RecipientID:    lenient.ID(root, "recipientId", "message.recipientId", "message.receiver", "receiver"),
		ConversationID: lenient.String(root, "conversationId", "message.conversationId", "message.chatId", "chatId"),
		LocalID:        lenient.String(root, "message.localId", "localId"),
		ServerID:       lenient.String(msg, "serverId", "_id", "id"),
		Content:        lenient.First(msg, "content", "text").String(),
		AttachmentRef:  lenient.String(msg, "attachmentRef", "attachment", "image"),
	}
	if in.Content == "" && root.Get("message").Type == gjson.String {
		in.Content = root.Get("message").Str
	}
	if t, ok := lenient.Time(msg, "createdAt", "timestamp"); ok {
		in.CreatedAt = t
	}
	if in.SenderID == "" || (strings.TrimSpace(in.Content) == "" && in.AttachmentRef == "") {
		return inbound{}, false
	}
	return in, true
}
