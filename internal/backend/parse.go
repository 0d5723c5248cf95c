package backend

import (
	"github.com/tidwall/gjson"

	"github.com/matheus3301/huddle/internal/lenient"
)

// parseChat reads one element of chats[]. self is skipped when the
// counterpart has to be picked out of participants[].
func parseChat(r gjson.Result, self string) (Chat, bool) {
	c := Chat{ID: lenient.String(r, "_id", "id", "conversationId")}
	if c.ID == "" {
		return Chat{}, false
	}

	who := lenient.First(r, "participant", "otherUser")
	if !who.Exists() {
		for _, p := range r.Get("participants").Array() {
			id := lenient.ID(p, "@this")
			if id != "" && id != self {
				who = p
				break
			}
		}
	}
	if who.IsObject() {
		c.ParticipantID = lenient.String(who, "_id", "id")
		c.ParticipantDisplay = lenient.String(who, "name", "username", "fullName")
	} else {
		c.ParticipantID = lenient.String(who, "@this")
	}
	if c.ParticipantDisplay == "" {
		c.ParticipantDisplay = lenient.String(r, "name", "username", "fullName")
	}
	if c.ParticipantDisplay == "" {
		c.ParticipantDisplay = c.ParticipantID
	}

	last := lenient.First(r, "lastMessage")
	if last.IsObject() {
		c.LastMessagePreview = lenient.String(last, "content", "text")
	} else {
		c.LastMessagePreview = last.String()
	}
	if t, ok := lenient.Time(r, "lastMessage.createdAt", "lastMessageAt", "updatedAt"); ok {
		c.LastMessageAt = t
	}
	c.UnreadCount = int(lenient.First(r, "unreadCount", "unread").Int())
	c.Pinned = lenient.First(r, "isPinned", "pinned").Bool()
	return c, true
}

func parseChats(arr gjson.Result, self string) []Chat {
	out := make([]Chat, 0, len(arr.Array()))
	for _, item := range arr.Array() {
		if c, ok := parseChat(item, self); ok {
			out = append(out, c)
		}
	}
	return out
}

func chatsOf(body gjson.Result) gjson.Result {
	return lenient.First(body, "chats", "data.chats", "results")
}

func parsePage(body gjson.Result, self string, requested int) Page {
	p := Page{
		Chats: parseChats(chatsOf(body), self),
		Page:  requested,
	}
	pg := lenient.First(body, "pagination", "data.pagination")
	if v := lenient.First(pg, "currentPage", "page"); v.Exists() {
		p.Page = int(v.Int())
	}
	p.TotalPages = int(lenient.First(pg, "totalPages", "pages").Int())
	if v := lenient.First(pg, "hasNextPage", "hasNext"); v.Exists() {
		p.HasNextPage = v.Bool()
	} else {
		p.HasNextPage = p.Page < p.TotalPages
	}
	return p
}

func parseUnread(body gjson.Result) UnreadTotals {
	return UnreadTotals{
		Messages: int(lenient.First(body, "totalUnreadMessages", "data.totalUnreadMessages").Int()),
		Chats:    int(lenient.First(body, "unreadChatsCount", "data.unreadChatsCount").Int()),
	}
}
