package journal

import (
	"fmt"

	"github.com/matheus3301/huddle/internal/conversation"
	"github.com/matheus3301/huddle/internal/delivery"
)

// Hydrator receives cached conversations at startup.
type Hydrator interface {
	Hydrate(convs []conversation.Conversation)
}

// Restorer receives cached message logs at startup.
type Restorer interface {
	Restore(msgs []delivery.Message)
}

// Counts reports how much a Load restored.
type Counts struct {
	Conversations int
	Messages      int
}

// Load reads the cache back into the aggregator and the delivery engine.
// Each conversation restores at most perConversation of its newest messages.
func (j *Journal) Load(h Hydrator, r Restorer, limit, perConversation int) (Counts, error) {
	rows, err := j.db.ListConversations(limit)
	if err != nil {
		return Counts{}, fmt.Errorf("list conversations: %w", err)
	}

	convs := make([]conversation.Conversation, 0, len(rows))
	var msgs []delivery.Message
	for _, row := range rows {
		convs = append(convs, conversation.Conversation{
			ID:                 row.ID,
			ParticipantID:      row.ParticipantID,
			ParticipantDisplay: row.ParticipantDisplay,
			LastMessagePreview: row.LastMessagePreview,
			LastMessageAt:      fromMillis(row.LastMessageAt),
			UnreadCount:        row.UnreadCount,
			Pinned:             row.Pinned,
			Placeholder:        row.Placeholder,
		})

		cached, err := j.db.ListMessages(row.ID, perConversation)
		if err != nil {
			return Counts{}, fmt.Errorf("list messages %s: %w", row.ID, err)
		}
		for _, m := range cached {
			msgs = append(msgs, delivery.Message{
				LocalID:        m.LocalID,
				ServerID:       m.ServerID,
				ConversationID: m.ConversationID,
				SenderID:       m.SenderID,
				Content:        m.Content,
				AttachmentRef:  m.AttachmentRef,
				CreatedAt:      fromMillis(m.CreatedAt),
				State:          delivery.State(m.State),
				FailReason:     m.FailReason,
			})
		}
	}

	if h != nil {
		h.Hydrate(convs)
	}
	if r != nil {
		r.Restore(msgs)
	}
	return Counts{Conversations: len(convs), Messages: len(msgs)}, nil
}
