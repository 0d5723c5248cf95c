package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/huddle/internal/backend"
)

var (
	ErrSearchSuperseded    = errors.New("search superseded by a newer query")
	ErrUnknownConversation = errors.New("unknown conversation")
)

// Conversation is the list-view summary of one conversation.
// Placeholder entries were created from a live update before any page
// fetch returned them.
type Conversation struct {
	ID                 string    `json:"conversationId"`
	ParticipantID      string    `json:"participantId"`
	ParticipantDisplay string    `json:"participantDisplay"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	UnreadCount        int       `json:"unreadCount"`
	Pinned             bool      `json:"pinned"`
	Placeholder        bool      `json:"placeholder,omitempty"`
}

// PageResult is what ListPage returns: the page's conversations after merging.
type PageResult struct {
	Conversations []Conversation `json:"conversations"`
	Page          int            `json:"page"`
	HasNextPage   bool           `json:"hasNextPage"`
}

// LiveUpdate is a pushed "something happened in this conversation" signal.
// Either ConversationID or PeerID identifies the conversation.
type LiveUpdate struct {
	ConversationID string
	PeerID         string
	Preview        string
	At             time.Time
	Inbound        bool
}

// Backend is the REST surface the aggregator uses.
type Backend interface {
	ListChats(ctx context.Context, page, limit int) (backend.Page, error)
	SearchChats(ctx context.Context, query string) ([]backend.Chat, error)
	UpdateChat(ctx context.Context, id, action string, value any) error
}

// entry is a Conversation plus local bookkeeping.
type entry struct {
	Conversation
	// readAt is when the conversation was last focused locally; backend
	// unread counts older than this are stale.
	readAt time.Time
}

func fromChat(c backend.Chat) Conversation {
	return Conversation{
		ID:                 c.ID,
		ParticipantID:      c.ParticipantID,
		ParticipantDisplay: c.ParticipantDisplay,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt,
		UnreadCount:        c.UnreadCount,
		Pinned:             c.Pinned,
	}
}
