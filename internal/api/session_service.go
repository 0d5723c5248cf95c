package api

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SessionService reports daemon and connection status.
type SessionService struct {
	profile    string
	userID     string
	instanceID string
	startedAt  time.Time
	conn       Connection
	convs      Conversations
	delivery   Delivery
	events     Events
	cache      Cache
	logger     *zap.Logger
}

// SessionDeps are the components GetStatus reports on. Nil fields are skipped.
type SessionDeps struct {
	Conn          Connection
	Conversations Conversations
	Delivery      Delivery
	Events        Events
	Cache         Cache
}

// NewSessionService creates a new session service.
func NewSessionService(profile, userID, instanceID string, deps SessionDeps, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		profile:    profile,
		userID:     userID,
		instanceID: instanceID,
		startedAt:  time.Now(),
		conn:       deps.Conn,
		convs:      deps.Conversations,
		delivery:   deps.Delivery,
		events:     deps.Events,
		cache:      deps.Cache,
		logger:     logger,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *GetStatusRequest) (*GetStatusResponse, error) {
	resp := &GetStatusResponse{
		Profile:    s.profile,
		UserID:     s.userID,
		InstanceID: s.instanceID,
		UptimeMs:   time.Since(s.startedAt).Milliseconds(),
	}
	if s.conn != nil {
		resp.State = string(s.conn.State())
		resp.ConnectedAt = s.conn.ConnectedAt()
		if err := s.conn.LastError(); err != nil {
			resp.LastError = err.Error()
		}
	}
	if s.convs != nil {
		resp.Conversations = len(s.convs.Snapshot())
	}
	if s.delivery != nil {
		resp.PendingSends = s.delivery.PendingCount()
	}
	if s.events != nil {
		resp.Events = s.events.Stats()
	}
	if s.cache != nil {
		// Cache errors are logged and the field left out.
		if st, err := s.cache.Stats(); err != nil {
			s.logger.Warn("cache stats unavailable", zap.Error(err))
		} else {
			resp.Cache = &st
		}
	}
	return resp, nil
}
