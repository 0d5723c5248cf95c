package conversation

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults for Options.
const (
	DefaultPageSize       = 20
	DefaultSearchDebounce = 300 * time.Millisecond
	markReadTimeout       = 15 * time.Second
)

// Options configure an Aggregator.
type Options struct {
	PageSize       int
	SearchDebounce time.Duration
	// OnChange is called with each updated summary, outside the lock.
	OnChange func(Conversation)
	Now      func() time.Time
}

// Aggregator keeps the ordered conversation list: REST pages merged in
// backend order, live updates applied on top, unread counts per conversation.
type Aggregator struct {
	api      Backend
	pageSize int
	debounce time.Duration
	notify   func(Conversation)
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	order   []string
	byID    map[string]*entry
	focused string

	searchSeq    uint64
	searchCancel context.CancelFunc

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New creates an empty aggregator.
func New(api Backend, opts Options, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = DefaultSearchDebounce
	}
	if opts.OnChange == nil {
		opts.OnChange = func(Conversation) {}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Aggregator{
		api:      api,
		pageSize: opts.PageSize,
		debounce: opts.SearchDebounce,
		notify:   opts.OnChange,
		now:      opts.Now,
		logger:   logger.Named("conversation"),
		byID:     make(map[string]*entry),
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// ListPage fetches one page and merges it. On failure the known list is left
// untouched and the backend error is returned.
func (a *Aggregator) ListPage(ctx context.Context, page, pageSize int) (PageResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = a.pageSize
	}
	p, err := a.api.ListChats(ctx, page, pageSize)
	if err != nil {
		a.logger.Warn("list page failed", zap.Int("page", page), zap.Error(err))
		return PageResult{}, err
	}

	a.mu.Lock()
	merged := make([]Conversation, 0, len(p.Chats))
	for _, c := range p.Chats {
		if c.ID == "" {
			continue
		}
		merged = append(merged, a.mergeLocked(fromChat(c)))
	}
	a.mu.Unlock()

	for _, c := range merged {
		a.notify(c)
	}
	return PageResult{Conversations: merged, Page: page, HasNextPage: p.HasNextPage}, nil
}

// mergeLocked overwrites a known entry in place, keeping live state that is
// newer than what the backend returned. Unknown entries are appended.
func (a *Aggregator) mergeLocked(in Conversation) Conversation {
	e, ok := a.byID[in.ID]
	if !ok {
		e = a.adoptPlaceholderLocked(in)
	}
	if e == nil {
		e = &entry{Conversation: in}
		a.byID[in.ID] = e
		a.order = append(a.order, in.ID)
	}
	a.absorbPlaceholdersLocked(e, in.ParticipantID)

	e.ParticipantID = in.ParticipantID
	e.ParticipantDisplay = in.ParticipantDisplay
	e.Pinned = in.Pinned
	e.Placeholder = false
	if !e.LastMessageAt.After(in.LastMessageAt) {
		e.LastMessagePreview = in.LastMessagePreview
		e.LastMessageAt = in.LastMessageAt
		e.UnreadCount = in.UnreadCount
	}
	a.clampUnreadLocked(e)
	return e.Conversation
}

// adoptPlaceholderLocked re-keys a placeholder created for the same peer.
func (a *Aggregator) adoptPlaceholderLocked(in Conversation) *entry {
	if in.ParticipantID == "" {
		return nil
	}
	for _, id := range a.order {
		e := a.byID[id]
		if !e.Placeholder || e.ParticipantID != in.ParticipantID {
			continue
		}
		a.rekeyLocked(e, in.ID)
		return e
	}
	return nil
}

// absorbPlaceholdersLocked folds other placeholders for peerID into e. They
// were created before the conversation id was known.
func (a *Aggregator) absorbPlaceholdersLocked(e *entry, peerID string) {
	if peerID == "" {
		return
	}
	kept := a.order[:0]
	for _, id := range a.order {
		p := a.byID[id]
		if p == e || !p.Placeholder || p.ParticipantID != peerID {
			kept = append(kept, id)
			continue
		}
		delete(a.byID, id)
		if p.LastMessageAt.After(e.LastMessageAt) {
			e.LastMessageAt = p.LastMessageAt
			e.LastMessagePreview = p.LastMessagePreview
		}
		e.UnreadCount += p.UnreadCount
		if a.focused == id {
			a.focused = e.ID
		}
	}
	a.order = kept
}

func (a *Aggregator) rekeyLocked(e *entry, id string) {
	old := e.ID
	if old == id {
		return
	}
	delete(a.byID, old)
	e.ID = id
	a.byID[id] = e
	if i := slices.Index(a.order, old); i >= 0 {
		a.order[i] = id
	}
	if a.focused == old {
		a.focused = id
	}
}

func (a *Aggregator) clampUnreadLocked(e *entry) {
	if e.ID == a.focused {
		e.UnreadCount = 0
		return
	}
	if !e.readAt.IsZero() && !e.LastMessageAt.After(e.readAt) {
		e.UnreadCount = 0
	}
}

// ApplyLiveUpdate bumps preview, time and unread count without a fetch.
// Unknown conversations get a placeholder at the top of the list.
func (a *Aggregator) ApplyLiveUpdate(u LiveUpdate) {
	if u.ConversationID == "" && u.PeerID == "" {
		return
	}
	if u.At.IsZero() {
		u.At = a.now()
	}

	a.mu.Lock()
	e := a.lookupLocked(u.ConversationID, u.PeerID)
	if e == nil {
		id := u.ConversationID
		if id == "" {
			id = u.PeerID
		}
		e = &entry{Conversation: Conversation{
			ID:                 id,
			ParticipantID:      u.PeerID,
			ParticipantDisplay: u.PeerID,
			Placeholder:        true,
		}}
		a.byID[id] = e
		a.order = slices.Insert(a.order, 0, id)
	}
	if e.Placeholder {
		if e.ParticipantID == "" {
			e.ParticipantID = u.PeerID
			e.ParticipantDisplay = u.PeerID
		}
		if u.ConversationID != "" {
			a.rekeyLocked(e, u.ConversationID)
		}
	}
	if !u.At.Before(e.LastMessageAt) {
		e.LastMessageAt = u.At
		if u.Preview != "" {
			e.LastMessagePreview = u.Preview
		}
	}
	if u.Inbound && e.ID != a.focused {
		e.UnreadCount++
	}
	c := e.Conversation
	a.mu.Unlock()

	a.notify(c)
}

func (a *Aggregator) lookupLocked(conversationID, peerID string) *entry {
	if e, ok := a.byID[conversationID]; ok {
		return e
	}
	if peerID == "" {
		return nil
	}
	if e, ok := a.byID[peerID]; ok && e.Placeholder {
		return e
	}
	for _, id := range a.order {
		if e := a.byID[id]; e.ParticipantID == peerID {
			return e
		}
	}
	return nil
}

// Focus marks id as the open conversation: its unread count drops to zero
// at once and a mark-read call goes to the backend in the background.
func (a *Aggregator) Focus(id string) error {
	a.mu.Lock()
	e, ok := a.byID[id]
	if !ok {
		a.mu.Unlock()
		return ErrUnknownConversation
	}
	a.focused = id
	e.UnreadCount = 0
	e.readAt = a.now()
	c := e.Conversation
	a.mu.Unlock()

	a.notify(c)
	if !c.Placeholder {
		a.markRead(id)
	}
	return nil
}

// Blur clears focus if id is focused. An empty id clears any focus.
func (a *Aggregator) Blur(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == "" || a.focused == id {
		a.focused = ""
	}
}

// Focused returns the focused conversation id, if any.
func (a *Aggregator) Focused() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.focused
}

func (a *Aggregator) markRead(id string) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ctx, cancel := context.WithTimeout(a.bgCtx, markReadTimeout)
		defer cancel()
		if err := a.api.UpdateChat(ctx, id, "read", true); err != nil {
			a.logger.Warn("mark read failed", zap.String("conversation", id), zap.Error(err))
		}
	}()
}

// Pin changes the pinned flag once the backend accepts it.
func (a *Aggregator) Pin(ctx context.Context, id string, value bool) (Conversation, error) {
	a.mu.Lock()
	_, ok := a.byID[id]
	a.mu.Unlock()
	if !ok {
		return Conversation{}, ErrUnknownConversation
	}

	if err := a.api.UpdateChat(ctx, id, "pin", value); err != nil {
		return Conversation{}, err
	}

	a.mu.Lock()
	e, ok := a.byID[id]
	if !ok {
		a.mu.Unlock()
		return Conversation{}, ErrUnknownConversation
	}
	e.Pinned = value
	c := e.Conversation
	a.mu.Unlock()

	a.notify(c)
	return c, nil
}

// Snapshot returns the whole list in display order.
func (a *Aggregator) Snapshot() []Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() []Conversation {
	out := make([]Conversation, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.byID[id].Conversation)
	}
	return out
}

// Get returns one conversation.
func (a *Aggregator) Get(id string) (Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.byID[id]
	if !ok {
		return Conversation{}, false
	}
	return e.Conversation, true
}

// Hydrate seeds the list from a local cache. Known conversations are left alone.
func (a *Aggregator) Hydrate(convs []Conversation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range convs {
		if c.ID == "" {
			continue
		}
		if _, ok := a.byID[c.ID]; ok {
			continue
		}
		a.byID[c.ID] = &entry{Conversation: c}
		a.order = append(a.order, c.ID)
	}
}

// Close cancels any search and waits for background mark-read calls.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.searchCancel != nil {
		a.searchCancel()
		a.searchCancel = nil
	}
	a.mu.Unlock()
	a.bgCancel()
	a.bg.Wait()
}
