package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/huddle/internal/bus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// MessageService exposes conversation rooms, sends and the event stream.
type MessageService struct {
	delivery Delivery
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(d Delivery, b *bus.Bus, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{delivery: d, bus: b, logger: logger}
}

func (s *MessageService) Join(_ context.Context, req *JoinRequest) (*Empty, error) {
	if err := required("conversationId", req.ConversationID); err != nil {
		return nil, err
	}
	if err := required("peerId", req.PeerID); err != nil {
		return nil, err
	}
	if err := s.delivery.Join(req.ConversationID, req.PeerID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *MessageService) Leave(_ context.Context, req *ConversationRequest) (*Empty, error) {
	if err := s.delivery.Leave(req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *MessageService) Send(_ context.Context, req *SendRequest) (*SendResponse, error) {
	if err := required("conversationId", req.ConversationID); err != nil {
		return nil, err
	}
	id, err := s.delivery.Send(req.ConversationID, req.Content, req.AttachmentRef)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendResponse{LocalID: id}, nil
}

func (s *MessageService) Retry(_ context.Context, req *RetryRequest) (*Empty, error) {
	if err := required("localId", req.LocalID); err != nil {
		return nil, err
	}
	if err := s.delivery.Retry(req.LocalID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *MessageService) History(_ context.Context, req *ConversationRequest) (*HistoryResponse, error) {
	if err := required("conversationId", req.ConversationID); err != nil {
		return nil, err
	}
	return &HistoryResponse{Messages: s.delivery.Log(req.ConversationID)}, nil
}

// WatchEvents streams bus events whose kind starts with the requested prefix.
func (s *MessageService) WatchEvents(req *WatchEventsRequest, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := envelope(evt)
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func envelope(evt bus.Event) (*EventEnvelope, error) {
	env := &EventEnvelope{
		EventID:    uuid.New().String(),
		Kind:       evt.Kind,
		OccurredAt: evt.Timestamp,
	}
	if evt.Payload != nil {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		env.Payload = data
	}
	return env, nil
}
