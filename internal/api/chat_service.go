package api

import (
	"context"
)

// ChatService exposes the conversation list and unread counts.
type ChatService struct {
	convs  Conversations
	unread Unread
}

// NewChatService creates a new chat service.
func NewChatService(convs Conversations, u Unread) *ChatService {
	return &ChatService{convs: convs, unread: u}
}

func (s *ChatService) ListConversations(ctx context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	res, err := s.convs.ListPage(ctx, page, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListConversationsResponse{
		Conversations: res.Conversations,
		Page:          res.Page,
		HasNextPage:   res.HasNextPage,
	}, nil
}

func (s *ChatService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	convs, err := s.convs.Search(ctx, req.Query)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SearchResponse{Conversations: convs}, nil
}

func (s *ChatService) Focus(_ context.Context, req *ConversationRequest) (*Empty, error) {
	if err := required("conversationId", req.ConversationID); err != nil {
		return nil, err
	}
	if err := s.unread.Focus(req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) Blur(_ context.Context, req *ConversationRequest) (*Empty, error) {
	s.convs.Blur(req.ConversationID)
	return &Empty{}, nil
}

func (s *ChatService) Pin(ctx context.Context, req *PinRequest) (*PinResponse, error) {
	if err := required("conversationId", req.ConversationID); err != nil {
		return nil, err
	}
	c, err := s.convs.Pin(ctx, req.ConversationID, req.Value)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PinResponse{Conversation: c}, nil
}

func (s *ChatService) Unread(ctx context.Context, req *UnreadRequest) (*UnreadResponse, error) {
	if req.Sync {
		if _, err := s.unread.Sync(ctx); err != nil {
			return nil, toStatus(err)
		}
	}
	resp := &UnreadResponse{Totals: s.unread.Totals()}
	if server := s.unread.Server(); !server.SyncedAt.IsZero() {
		resp.Server = &server
	}
	if req.ConversationID != "" {
		n := s.unread.For(req.ConversationID)
		resp.ConversationID = req.ConversationID
		resp.Conversation = &n
	}
	return resp, nil
}
