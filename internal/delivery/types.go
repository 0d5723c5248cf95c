package delivery

import (
	"errors"
	"time"
)

var (
	ErrNotJoined      = errors.New("conversation not joined")
	ErrEmptyMessage   = errors.New("message has neither content nor attachment")
	ErrUnknownMessage = errors.New("unknown message")
	ErrNotRetriable   = errors.New("message is not in a retriable state")
	ErrClosed         = errors.New("delivery engine closed")
)

// State is the delivery state of one message.
type State string

const (
	Pending   State = "pending"
	Confirmed State = "confirmed"
	Failed    State = "failed"
)

// Message is one entry of a conversation log. LocalID is stable for the
// lifetime of the message; ServerID is set once the backend echoes it.
type Message struct {
	LocalID        string    `json:"localId"`
	ServerID       string    `json:"serverId,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	AttachmentRef  string    `json:"attachmentRef,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	State          State     `json:"state"`
	FailReason     string    `json:"failReason,omitempty"`
}

// ChangeKind names what happened to a message.
type ChangeKind string

const (
	KindAppended  ChangeKind = "appended"
	KindConfirmed ChangeKind = "confirmed"
	KindFailed    ChangeKind = "failed"
	KindRetried   ChangeKind = "retried"
)

// Change is reported to the observer after every log mutation.
type Change struct {
	Kind    ChangeKind
	Message Message
	// PeerID is the other participant of the message's room, when joined.
	PeerID string
}

const failTimeout = "send timeout"

// failRestart marks own messages that were in flight when the daemon stopped.
const failRestart = "not confirmed before restart"

// pendingSend correlates an optimistic message with its server echo.
type pendingSend struct {
	localID        string
	conversationID string
	fingerprint    string
	sentAt         time.Time
	attempt        int
	failed         bool
	timer          *time.Timer
	payload        sendPayload
}

// sendPayload is the send-message frame body.
type sendPayload struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	RecipientID    string `json:"recipientId"`
	Content        string `json:"content"`
	AttachmentRef  string `json:"attachmentRef,omitempty"`
	LocalID        string `json:"localId"`
}

type joinPayload struct {
	UserID      string `json:"userId"`
	RecipientID string `json:"recipientId"`
}
