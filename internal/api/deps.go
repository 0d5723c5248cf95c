package api

import (
	"context"
	"time"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/conversation"
	"github.com/matheus3301/huddle/internal/delivery"
	"github.com/matheus3301/huddle/internal/presence"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/store"
	"github.com/matheus3301/huddle/internal/unread"
)

// Connection reports the shared socket's health.
type Connection interface {
	State() status.State
	LastError() error
	ConnectedAt() time.Time
}

// Conversations is the conversation list surface.
type Conversations interface {
	ListPage(ctx context.Context, page, pageSize int) (conversation.PageResult, error)
	Search(ctx context.Context, query string) ([]conversation.Conversation, error)
	Blur(id string)
	Pin(ctx context.Context, id string, value bool) (conversation.Conversation, error)
	Snapshot() []conversation.Conversation
}

// Unread is the unread counter surface.
type Unread interface {
	For(conversationID string) int
	Totals() unread.Totals
	Focus(conversationID string) error
	Sync(ctx context.Context) (unread.Totals, error)
	Server() unread.ServerTotals
}

// Delivery is the message engine surface.
type Delivery interface {
	Join(conversationID, peerID string) error
	Leave(conversationID string) error
	Send(conversationID, content, attachmentRef string) (string, error)
	Retry(localID string) error
	Log(conversationID string) []delivery.Message
	PendingCount() int
}

// Events reports on the daemon's event bus.
type Events interface {
	Stats() bus.Stats
}

// Cache reports on the local cache.
type Cache interface {
	Stats() (store.Stats, error)
}

// Presence is the presence tracker surface.
type Presence interface {
	Watch(peerID string)
	Unwatch(peerID string)
	Status(peerID string) presence.Status
}
