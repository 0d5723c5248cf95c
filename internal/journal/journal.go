package journal

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/conversation"
	"github.com/matheus3301/huddle/internal/delivery"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/zap"
)

// Journal mirrors message and conversation changes into the local cache.
// It subscribes to "message." and "conversation." events on the bus.
type Journal struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a journal writing to db.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{db: db, bus: b, logger: logger}
}

// Start subscribes to the bus and writes events until Stop is called.
func (j *Journal) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	msgs, unsubMsgs := j.bus.Subscribe("message.", 256)
	convs, unsubConvs := j.bus.Subscribe("conversation.", 256)

	go func() {
		defer close(j.done)
		defer unsubMsgs()
		defer unsubConvs()
		for {
			select {
			case evt := <-msgs:
				j.handleEvent(evt)
			case evt := <-convs:
				j.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the journal and waits for the writer to exit.
func (j *Journal) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
}

func (j *Journal) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case delivery.Message:
		if err := j.RecordMessage(p); err != nil {
			j.logger.Error("failed to journal message", zap.Error(err), zap.String("local_id", p.LocalID))
		}
	case conversation.Conversation:
		if err := j.RecordConversation(p); err != nil {
			j.logger.Error("failed to journal conversation", zap.Error(err), zap.String("conversation_id", p.ID))
		}
	}
}

// RecordMessage upserts one message (idempotent on local id).
func (j *Journal) RecordMessage(m delivery.Message) error {
	if m.LocalID == "" || m.ConversationID == "" {
		return nil
	}
	if err := j.db.UpsertMessage(&store.Message{
		LocalID:        m.LocalID,
		ServerID:       m.ServerID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		AttachmentRef:  m.AttachmentRef,
		CreatedAt:      millis(m.CreatedAt),
		State:          string(m.State),
		FailReason:     m.FailReason,
	}); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// RecordConversation upserts one conversation summary.
func (j *Journal) RecordConversation(c conversation.Conversation) error {
	if c.ID == "" {
		return nil
	}
	if err := j.db.UpsertConversation(&store.Conversation{
		ID:                 c.ID,
		ParticipantID:      c.ParticipantID,
		ParticipantDisplay: c.ParticipantDisplay,
		LastMessagePreview: truncate(c.LastMessagePreview, 200),
		LastMessageAt:      millis(c.LastMessageAt),
		UnreadCount:        c.UnreadCount,
		Pinned:             c.Pinned,
		Placeholder:        c.Placeholder,
	}); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
