package grpc

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"zenj-service/internal/models"
	"zenj-service/internal/responder"
)

const (
	responderService      = "zenj.responder.v1.Responder"
	responderGenerateRPC  = "/" + responderService + "/Generate"
	responderHistoryLimit = 20
)

// ResponderClient calls a remote responder over gRPC. Requests and replies
// are google.protobuf.Struct documents, so no generated stubs are needed.
type ResponderClient struct {
	conn grpc.ClientConnInterface
}

// NewResponderClient wraps an existing connection.
func NewResponderClient(conn grpc.ClientConnInterface) *ResponderClient {
	return &ResponderClient{conn: conn}
}

// DialResponder opens an instrumented, insecure connection to addr.
func DialResponder(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial responder %s: %w", addr, err)
	}
	return conn, nil
}

// Respond implements responder.Responder.
func (c *ResponderClient) Respond(ctx context.Context, req responder.Request) (responder.Reply, error) {
	in, err := encodeRequest(req)
	if err != nil {
		return responder.Reply{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, responderGenerateRPC, in, out); err != nil {
		return responder.Reply{}, err
	}
	content := out.GetFields()["content"].GetStringValue()
	if content == "" {
		return responder.Reply{}, errors.New("responder returned an empty reply")
	}
	return responder.Reply{Content: content}, nil
}

func encodeRequest(req responder.Request) (*structpb.Struct, error) {
	history := req.History
	if len(history) > responderHistoryLimit {
		history = history[len(history)-responderHistoryLimit:]
	}
	turns := make([]any, 0, len(history))
	for _, m := range history {
		turns = append(turns, map[string]any{
			"sender_id":   m.SenderID,
			"sender_name": m.SenderName,
			"content":     m.Content,
			"type":        string(m.Type),
		})
	}
	in, err := structpb.NewStruct(map[string]any{
		"conversation_id": req.ConversationID,
		"content":         req.Content,
		"persona":         req.Persona,
		"media_ref":       req.MediaRef,
		"media_type":      string(req.MediaType),
		"history":         turns,
	})
	if err != nil {
		return nil, fmt.Errorf("encode responder request: %w", err)
	}
	return in, nil
}

func decodeRequest(in *structpb.Struct) responder.Request {
	f := in.GetFields()
	req := responder.Request{
		ConversationID: f["conversation_id"].GetStringValue(),
		Content:        f["content"].GetStringValue(),
		Persona:        f["persona"].GetStringValue(),
		MediaRef:       f["media_ref"].GetStringValue(),
		MediaType:      models.MessageType(f["media_type"].GetStringValue()),
	}
	for _, v := range f["history"].GetListValue().GetValues() {
		turn := v.GetStructValue().GetFields()
		req.History = append(req.History, models.Message{
			SenderID:   turn["sender_id"].GetStringValue(),
			SenderName: turn["sender_name"].GetStringValue(),
			Content:    turn["content"].GetStringValue(),
			Type:       models.MessageType(turn["type"].GetStringValue()),
		})
	}
	return req
}
