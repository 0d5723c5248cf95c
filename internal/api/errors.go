package api

import (
	"context"
	"errors"

	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/conn"
	"github.com/matheus3301/huddle/internal/conversation"
	"github.com/matheus3301/huddle/internal/delivery"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var fetchErr *backend.FetchError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	case errors.Is(err, delivery.ErrEmptyMessage):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, delivery.ErrUnknownMessage),
		errors.Is(err, conversation.ErrUnknownConversation):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, delivery.ErrNotJoined),
		errors.Is(err, delivery.ErrNotRetriable):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, conversation.ErrSearchSuperseded):
		return grpcstatus.Error(codes.Aborted, err.Error())
	case errors.Is(err, delivery.ErrClosed),
		errors.Is(err, conn.ErrClosed),
		errors.Is(err, conn.ErrNotConnected),
		errors.As(err, &fetchErr):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

func required(field, value string) error {
	if value == "" {
		return grpcstatus.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	return nil
}
