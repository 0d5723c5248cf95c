package unread

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/conversation"
)

// Source is the conversation state unread totals derive from.
type Source interface {
	Snapshot() []conversation.Conversation
	Get(id string) (conversation.Conversation, bool)
	Focus(id string) error
}

// Fetcher returns the backend's own totals.
type Fetcher interface {
	UnreadCount(ctx context.Context) (backend.UnreadTotals, error)
}

// Totals are unread messages across all conversations and the number of
// conversations with at least one.
type Totals struct {
	Messages int `json:"messages"`
	Chats    int `json:"chats"`
}

// ServerTotals is the last backend answer and when it arrived.
type ServerTotals struct {
	Totals
	SyncedAt time.Time `json:"syncedAt"`
}

// Counter derives unread numbers from the aggregator. It holds no counts of
// its own apart from the last backend sync.
type Counter struct {
	src   Source
	fetch Fetcher

	mu     sync.Mutex
	server ServerTotals
}

// New creates a counter. fetch may be nil when no backend is wired.
func New(src Source, fetch Fetcher) *Counter {
	return &Counter{src: src, fetch: fetch}
}

// For returns the unread count of one conversation.
func (c *Counter) For(conversationID string) int {
	conv, ok := c.src.Get(conversationID)
	if !ok {
		return 0
	}
	return conv.UnreadCount
}

// Totals sums the local per-conversation counts.
func (c *Counter) Totals() Totals {
	var t Totals
	for _, conv := range c.src.Snapshot() {
		if conv.UnreadCount > 0 {
			t.Messages += conv.UnreadCount
			t.Chats++
		}
	}
	return t
}

// Focus clears a conversation's count.
func (c *Counter) Focus(conversationID string) error {
	return c.src.Focus(conversationID)
}

// Sync asks the backend for its totals, which correct drift after a reload.
func (c *Counter) Sync(ctx context.Context) (Totals, error) {
	if c.fetch == nil {
		return Totals{}, nil
	}
	got, err := c.fetch.UnreadCount(ctx)
	if err != nil {
		return Totals{}, err
	}
	t := Totals{Messages: got.Messages, Chats: got.Chats}
	c.mu.Lock()
	c.server = ServerTotals{Totals: t, SyncedAt: time.Now()}
	c.mu.Unlock()
	return t, nil
}

// Server returns the last synced backend totals; SyncedAt is zero if never synced.
func (c *Counter) Server() ServerTotals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}
