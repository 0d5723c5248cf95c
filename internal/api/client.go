package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client wraps the gRPC connection to a daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket. The connection is lazy;
// the first call does the actual dial.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Healthy runs a standard health check against the daemon.
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func invoke[Resp any](ctx context.Context, c *Client, service, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(service, method), req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*GetStatusResponse, error) {
	return invoke[GetStatusResponse](ctx, c, SessionServiceName, "GetStatus", &GetStatusRequest{})
}

func (c *Client) ListConversations(ctx context.Context, page, limit int) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c, ChatServiceName, "ListConversations", &ListConversationsRequest{Page: page, Limit: limit})
}

func (c *Client) Search(ctx context.Context, query string) (*SearchResponse, error) {
	return invoke[SearchResponse](ctx, c, ChatServiceName, "Search", &SearchRequest{Query: query})
}

func (c *Client) Focus(ctx context.Context, conversationID string) error {
	_, err := invoke[Empty](ctx, c, ChatServiceName, "Focus", &ConversationRequest{ConversationID: conversationID})
	return err
}

func (c *Client) Blur(ctx context.Context, conversationID string) error {
	_, err := invoke[Empty](ctx, c, ChatServiceName, "Blur", &ConversationRequest{ConversationID: conversationID})
	return err
}

func (c *Client) Pin(ctx context.Context, conversationID string, value bool) (*PinResponse, error) {
	return invoke[PinResponse](ctx, c, ChatServiceName, "Pin", &PinRequest{ConversationID: conversationID, Value: value})
}

// Unread returns global totals, plus conversationID's count when it is set.
func (c *Client) Unread(ctx context.Context, sync bool, conversationID string) (*UnreadResponse, error) {
	return invoke[UnreadResponse](ctx, c, ChatServiceName, "Unread", &UnreadRequest{Sync: sync, ConversationID: conversationID})
}

func (c *Client) Join(ctx context.Context, conversationID, peerID string) error {
	_, err := invoke[Empty](ctx, c, MessageServiceName, "Join", &JoinRequest{ConversationID: conversationID, PeerID: peerID})
	return err
}

func (c *Client) Leave(ctx context.Context, conversationID string) error {
	_, err := invoke[Empty](ctx, c, MessageServiceName, "Leave", &ConversationRequest{ConversationID: conversationID})
	return err
}

func (c *Client) Send(ctx context.Context, conversationID, content, attachmentRef string) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c, MessageServiceName, "Send", &SendRequest{
		ConversationID: conversationID,
		Content:        content,
		AttachmentRef:  attachmentRef,
	})
}

func (c *Client) Retry(ctx context.Context, localID string) error {
	_, err := invoke[Empty](ctx, c, MessageServiceName, "Retry", &RetryRequest{LocalID: localID})
	return err
}

func (c *Client) History(ctx context.Context, conversationID string) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, c, MessageServiceName, "History", &ConversationRequest{ConversationID: conversationID})
}

func (c *Client) Watch(ctx context.Context, peerID string) (*PresenceResponse, error) {
	return invoke[PresenceResponse](ctx, c, PresenceServiceName, "Watch", &PeerRequest{PeerID: peerID})
}

func (c *Client) Unwatch(ctx context.Context, peerID string) error {
	_, err := invoke[Empty](ctx, c, PresenceServiceName, "Unwatch", &PeerRequest{PeerID: peerID})
	return err
}

func (c *Client) Presence(ctx context.Context, peerID string) (*PresenceResponse, error) {
	return invoke[PresenceResponse](ctx, c, PresenceServiceName, "Status", &PeerRequest{PeerID: peerID})
}

// WatchEvents calls fn for every streamed event until ctx ends, the stream
// closes or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, prefix string, fn func(*EventEnvelope) error) error {
	stream, err := c.conn.NewStream(ctx, &watchEventsStream,
		fullMethod(MessageServiceName, watchEventsStream.StreamName),
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&WatchEventsRequest{Prefix: prefix}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		env := new(EventEnvelope)
		if err := stream.RecvMsg(env); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
