package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/conversation"
	"github.com/matheus3301/huddle/internal/delivery"
	"github.com/matheus3301/huddle/internal/presence"
	"github.com/matheus3301/huddle/internal/store"
	"github.com/matheus3301/huddle/internal/unread"
)

// Empty is the request or response of calls that carry nothing.
type Empty struct{}

type GetStatusRequest struct{}

type GetStatusResponse struct {
	Profile       string       `json:"profile"`
	UserID        string       `json:"userId"`
	InstanceID    string       `json:"instanceId"`
	State         string       `json:"state"`
	UptimeMs      int64        `json:"uptimeMs"`
	ConnectedAt   time.Time    `json:"connectedAt,omitzero"`
	Conversations int          `json:"conversations"`
	PendingSends  int          `json:"pendingSends"`
	LastError     string       `json:"lastError,omitempty"`
	Events        bus.Stats    `json:"events"`
	Cache         *store.Stats `json:"cache,omitempty"`
}

type ListConversationsRequest struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type ListConversationsResponse struct {
	Conversations []conversation.Conversation `json:"conversations"`
	Page          int                         `json:"page"`
	HasNextPage   bool                        `json:"hasNextPage"`
}

type SearchRequest struct {
	Query string `json:"query"`
}

type SearchResponse struct {
	Conversations []conversation.Conversation `json:"conversations"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type PinRequest struct {
	ConversationID string `json:"conversationId"`
	Value          bool   `json:"value"`
}

type PinResponse struct {
	Conversation conversation.Conversation `json:"conversation"`
}

type UnreadRequest struct {
	Sync           bool   `json:"sync"`
	ConversationID string `json:"conversationId,omitempty"`
}

type UnreadResponse struct {
	Totals         unread.Totals        `json:"totals"`
	Server         *unread.ServerTotals `json:"server,omitempty"`
	ConversationID string               `json:"conversationId,omitempty"`
	Conversation   *int                 `json:"conversation,omitempty"`
}

type JoinRequest struct {
	ConversationID string `json:"conversationId"`
	PeerID         string `json:"peerId"`
}

type SendRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	AttachmentRef  string `json:"attachmentRef,omitempty"`
}

type SendResponse struct {
	LocalID string `json:"localId"`
}

type RetryRequest struct {
	LocalID string `json:"localId"`
}

type HistoryResponse struct {
	Messages []delivery.Message `json:"messages"`
}

type WatchEventsRequest struct {
	Prefix string `json:"prefix"`
}

// EventEnvelope wraps one bus event on a WatchEvents stream.
type EventEnvelope struct {
	EventID    string          `json:"eventId"`
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type PeerRequest struct {
	PeerID string `json:"peerId"`
}

type PresenceResponse struct {
	Status presence.Status `json:"status"`
}
