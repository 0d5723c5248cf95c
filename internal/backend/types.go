package backend

import (
	"fmt"
	"time"
)

// Chat is one conversation summary as the backend reports it.
type Chat struct {
	ID                 string
	ParticipantID      string
	ParticipantDisplay string
	LastMessagePreview string
	LastMessageAt      time.Time
	UnreadCount        int
	Pinned             bool
}

// Page is one page of the conversation list.
type Page struct {
	Chats       []Chat
	Page        int
	TotalPages  int
	HasNextPage bool
}

// UnreadTotals are the backend's global unread counters.
type UnreadTotals struct {
	Messages int
	Chats    int
}

// FetchError is any failed REST call: transport, non-2xx, success:false or
// an undecodable body. Status is zero when no response arrived.
type FetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
