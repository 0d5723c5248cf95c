package api

import (
	"context"

	"google.golang.org/grpc"
)

const (
	SessionServiceName  = "huddle.v1.SessionService"
	ChatServiceName     = "huddle.v1.ChatService"
	MessageServiceName  = "huddle.v1.MessageService"
	PresenceServiceName = "huddle.v1.PresenceService"
)

// handlerType accepts any implementation; methods are bound by closure.
var handlerType = (*any)(nil)

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// unary builds a method descriptor around a typed handler.
func unary[Req, Resp any](service, method string, fn func(context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(service, method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(ctx, req.(*Req))
			})
		},
	}
}

// SessionServiceDesc describes SessionService.
func SessionServiceDesc(s *SessionService) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: SessionServiceName,
		HandlerType: handlerType,
		Methods: []grpc.MethodDesc{
			unary(SessionServiceName, "GetStatus", s.GetStatus),
		},
	}
}

// ChatServiceDesc describes ChatService.
func ChatServiceDesc(s *ChatService) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: ChatServiceName,
		HandlerType: handlerType,
		Methods: []grpc.MethodDesc{
			unary(ChatServiceName, "ListConversations", s.ListConversations),
			unary(ChatServiceName, "Search", s.Search),
			unary(ChatServiceName, "Focus", s.Focus),
			unary(ChatServiceName, "Blur", s.Blur),
			unary(ChatServiceName, "Pin", s.Pin),
			unary(ChatServiceName, "Unread", s.Unread),
		},
	}
}

var watchEventsStream = grpc.StreamDesc{
	StreamName:    "WatchEvents",
	ServerStreams: true,
}

// MessageServiceDesc describes MessageService.
func MessageServiceDesc(s *MessageService) *grpc.ServiceDesc {
	stream := watchEventsStream
	stream.Handler = func(_ any, ss grpc.ServerStream) error {
		in := new(WatchEventsRequest)
		if err := ss.RecvMsg(in); err != nil {
			return err
		}
		return s.WatchEvents(in, ss)
	}
	return &grpc.ServiceDesc{
		ServiceName: MessageServiceName,
		HandlerType: handlerType,
		Methods: []grpc.MethodDesc{
			unary(MessageServiceName, "Join", s.Join),
			unary(MessageServiceName, "Leave", s.Leave),
			unary(MessageServiceName, "Send", s.Send),
			unary(MessageServiceName, "Retry", s.Retry),
			unary(MessageServiceName, "History", s.History),
		},
		Streams: []grpc.StreamDesc{stream},
	}
}

// PresenceServiceDesc describes PresenceService.
func PresenceServiceDesc(s *PresenceService) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: PresenceServiceName,
		HandlerType: handlerType,
		Methods: []grpc.MethodDesc{
			unary(PresenceServiceName, "Watch", s.Watch),
			unary(PresenceServiceName, "Unwatch", s.Unwatch),
			unary(PresenceServiceName, "Status", s.Status),
		},
	}
}

// Register adds every service to srv.
func Register(srv grpc.ServiceRegistrar, session *SessionService, chat *ChatService, msg *MessageService, pres *PresenceService) {
	srv.RegisterService(SessionServiceDesc(session), session)
	srv.RegisterService(ChatServiceDesc(chat), chat)
	srv.RegisterService(MessageServiceDesc(msg), msg)
	srv.RegisterService(PresenceServiceDesc(pres), pres)
}
