package daemon

import (
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/conversation"
	"github.com/matheus3301/huddle/internal/delivery"
	"github.com/matheus3301/huddle/internal/presence"
)

// LiveUpdater is the aggregator surface the observers feed.
type LiveUpdater interface {
	ApplyLiveUpdate(u conversation.LiveUpdate)
}

var changeKinds = map[delivery.ChangeKind]string{
	delivery.KindAppended:  bus.MessageAppended,
	delivery.KindConfirmed: bus.MessageConfirmed,
	delivery.KindFailed:    bus.MessageFailed,
	delivery.KindRetried:   bus.MessageRetried,
}

// deliveryObserver publishes log changes and reports own sends to the
// conversation list. Inbound counts come only from last-seen.
func deliveryObserver(b *bus.Bus, agg LiveUpdater, self string) func(delivery.Change) {
	return func(c delivery.Change) {
		if kind, ok := changeKinds[c.Kind]; ok {
			b.Publish(bus.NewEvent(kind, c.Message))
		}
		if c.Kind == delivery.KindAppended && c.Message.SenderID == self {
			agg.ApplyLiveUpdate(conversation.LiveUpdate{
				ConversationID: c.Message.ConversationID,
				PeerID:         c.PeerID,
				Preview:        c.Message.Content,
				At:             c.Message.CreatedAt,
			})
		}
	}
}

func conversationObserver(b *bus.Bus) func(conversation.Conversation) {
	return func(c conversation.Conversation) {
		b.Publish(bus.NewEvent(bus.ConversationUpdated, c))
	}
}

func presenceObserver(b *bus.Bus) func(presence.Record) {
	return func(r presence.Record) {
		b.Publish(bus.NewEvent(bus.PresenceChanged, r))
	}
}

// activityObserver turns last-seen notifications into inbound live updates.
func activityObserver(agg LiveUpdater) func(presence.Activity) {
	return func(a presence.Activity) {
		agg.ApplyLiveUpdate(conversation.LiveUpdate{
			PeerID:  a.PeerID,
			Preview: a.Message,
			At:      a.At,
			Inbound: true,
		})
	}
}
