package store

// Conversation is a cached conversation summary.
type Conversation struct {
	ID                 string
	ParticipantID      string
	ParticipantDisplay string
	LastMessagePreview string
	LastMessageAt      int64
	UnreadCount        int
	Pinned             bool
	Placeholder        bool
}

// Message is a cached log entry, keyed by its client-side local id.
type Message struct {
	LocalID        string
	ServerID       string
	ConversationID string
	SenderID       string
	Content        string
	AttachmentRef  string
	CreatedAt      int64
	State          string
	FailReason     string
}
