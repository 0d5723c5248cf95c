package conversation

import (
	"context"
	"strings"
	"time"
)

// Search runs a debounced server-side search. A newer call supersedes an
// older one, which then returns ErrSearchSuperseded. An empty query cancels
// any in-flight search and returns the paginated list without a request.
func (a *Aggregator) Search(ctx context.Context, query string) ([]Conversation, error) {
	q := strings.TrimSpace(query)

	a.mu.Lock()
	a.searchSeq++
	seq := a.searchSeq
	if a.searchCancel != nil {
		a.searchCancel()
		a.searchCancel = nil
	}
	if q == "" {
		snap := a.snapshotLocked()
		a.mu.Unlock()
		return snap, nil
	}
	sctx, cancel := context.WithCancel(ctx)
	a.searchCancel = cancel
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.searchSeq == seq {
			a.searchCancel = nil
		}
		a.mu.Unlock()
		cancel()
	}()

	timer := time.NewTimer(a.debounce)
	select {
	case <-sctx.Done():
		timer.Stop()
		return nil, a.searchErr(ctx)
	case <-timer.C:
	}

	chats, err := a.api.SearchChats(sctx, q)
	if !a.currentSearch(seq) {
		return nil, ErrSearchSuperseded
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Conversation, 0, len(chats))
	for _, c := range chats {
		conv := fromChat(c)
		// Prefer what live updates taught us since the backend indexed it.
		if e, ok := a.byID[conv.ID]; ok && e.LastMessageAt.After(conv.LastMessageAt) {
			conv.LastMessagePreview = e.LastMessagePreview
			conv.LastMessageAt = e.LastMessageAt
			conv.UnreadCount = e.UnreadCount
		}
		if conv.ID == a.focused {
			conv.UnreadCount = 0
		}
		out = append(out, conv)
	}
	return out, nil
}

func (a *Aggregator) currentSearch(seq uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.searchSeq == seq
}

func (a *Aggregator) searchErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrSearchSuperseded
}
