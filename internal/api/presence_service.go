package api

import "context"

// PresenceService exposes peer status.
type PresenceService struct {
	presence Presence
}

// NewPresenceService creates a new presence service.
func NewPresenceService(p Presence) *PresenceService {
	return &PresenceService{presence: p}
}

func (s *PresenceService) Watch(_ context.Context, req *PeerRequest) (*PresenceResponse, error) {
	if err := required("peerId", req.PeerID); err != nil {
		return nil, err
	}
	s.presence.Watch(req.PeerID)
	return &PresenceResponse{Status: s.presence.Status(req.PeerID)}, nil
}

func (s *PresenceService) Unwatch(_ context.Context, req *PeerRequest) (*Empty, error) {
	s.presence.Unwatch(req.PeerID)
	return &Empty{}, nil
}

func (s *PresenceService) Status(_ context.Context, req *PeerRequest) (*PresenceResponse, error) {
	if err := required("peerId", req.PeerID); err != nil {
		return nil, err
	}
	return &PresenceResponse{Status: s.presence.Status(req.PeerID)}, nil
}
