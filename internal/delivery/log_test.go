package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogUpdateRepositions(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	l := &messageLog{}
	l.insert(Message{LocalID: "a", CreatedAt: base})
	l.insert(Message{LocalID: "b", CreatedAt: base.Add(time.Second)})
	l.insert(Message{LocalID: "c", CreatedAt: base.Add(2 * time.Second)})

	m, ok := l.update("a", func(m *Message) { m.CreatedAt = base.Add(3 * time.Second) })
	assert.True(t, ok)
	assert.Equal(t, "a", m.LocalID)

	var order []string
	for _, m := range l.snapshot() {
		order = append(order, m.LocalID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, order)

	_, ok = l.update("zzz", func(*Message) {})
	assert.False(t, ok)
}

func TestLogLookups(t *testing.T) {
	l := &messageLog{}
	l.insert(Message{LocalID: "a", ServerID: "s1"})
	assert.Equal(t, 0, l.indexLocal("a"))
	assert.Equal(t, -1, l.indexLocal(""))
	assert.True(t, l.hasServer("s1"))
	assert.False(t, l.hasServer(""))
}

func TestFingerprintDistinguishesAttachment(t *testing.T) {
	assert.Equal(t, fingerprint("hi", ""), fingerprint("hi", ""))
	assert.NotEqual(t, fingerprint("hi", ""), fingerprint("hi", "img"))
	assert.NotEqual(t, fingerprint("a\x00b", ""), fingerprint("a", "b"))
}
