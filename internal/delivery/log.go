package delivery

import (
	"slices"
	"sort"
)

// messageLog is one conversation's messages ordered by CreatedAt.
// Equal timestamps keep arrival order.
type messageLog struct {
	msgs []Message
}

func (l *messageLog) insert(m Message) {
	i := sort.Search(len(l.msgs), func(i int) bool {
		return l.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	l.msgs = slices.Insert(l.msgs, i, m)
}

func (l *messageLog) indexLocal(localID string) int {
	if localID == "" {
		return -1
	}
	return slices.IndexFunc(l.msgs, func(m Message) bool { return m.LocalID == localID })
}

func (l *messageLog) hasServer(serverID string) bool {
	if serverID == "" {
		return false
	}
	return slices.ContainsFunc(l.msgs, func(m Message) bool { return m.ServerID == serverID })
}

// update applies fn to the message with localID and re-positions it if its
// timestamp moved. Returns the updated copy.
func (l *messageLog) update(localID string, fn func(*Message)) (Message, bool) {
	i := l.indexLocal(localID)
	if i < 0 {
		return Message{}, false
	}
	m := l.msgs[i]
	before := m.CreatedAt
	fn(&m)
	if m.CreatedAt.Equal(before) {
		l.msgs[i] = m
		return m, true
	}
	l.msgs = slices.Delete(l.msgs, i, i+1)
	l.insert(m)
	return m, true
}

func (l *messageLog) snapshot() []Message {
	return slices.Clone(l.msgs)
}
