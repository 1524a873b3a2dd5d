package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"sysaccess.org/internal/access"
)

const decideMethod = "/sysaccess.v1.Decisions/Decide"

// Client wraps the Decisions gRPC service.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// Dial creates a new client authenticating with token (insecure transport unless opts say otherwise).
func Dial(ctx context.Context, target, token string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, token: strings.TrimSpace(token)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Decision is the server's view of an entry after a call.
type Decision struct {
	EntryID       string
	Stage         access.Stage
	Kind          access.DecisionKind
	StageStatus   access.Status
	RequestStatus access.RequestStatus
	Version       int64
}

func (c *Client) Decide(ctx context.Context, in access.DecisionInput) (Decision, error) {
	fields := map[string]any{
		"entry_id": in.EntryID,
		"action":   string(in.Action),
		"comment":  in.Comment,
	}
	if in.Version != 0 {
		fields["version"] = float64(in.Version)
	}
	return c.call(ctx, fields)
}

func (c *Client) Override(ctx context.Context, in access.OverrideInput) (Decision, error) {
	return c.call(ctx, map[string]any{
		"mode":     "override",
		"entry_id": in.EntryID,
		"stage":    string(in.Stage),
		"status":   string(in.Status),
		"comment":  in.Comment,
	})
}

func (c *Client) Revoke(ctx context.Context, in access.RevokeInput) (Decision, error) {
	return c.call(ctx, map[string]any{"mode": "revoke", "entry_id": in.EntryID, "comment": in.Comment})
}

// Healthy reports whether the server's Decisions service is SERVING.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "sysaccess.v1.Decisions"})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) call(ctx context.Context, fields map[string]any) (Decision, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return Decision{}, err
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, decideMethod, in, out); err != nil {
		return Decision{}, mapDecisionError(err)
	}
	return fromStruct(out), nil
}

func fromStruct(s *structpb.Struct) Decision {
	f := s.GetFields()
	str := func(k string) string { return f[k].GetStringValue() }
	return Decision{
		EntryID:       str("entry_id"),
		Stage:         access.Stage(str("stage")),
		Kind:          access.DecisionKind(str("kind")),
		StageStatus:   access.Status(str("stage_status")),
		RequestStatus: access.RequestStatus(str("request_status")),
		Version:       int64(f["version"].GetNumberValue()),
	}
}

// mapDecisionError turns status codes back into the access sentinels.
func mapDecisionError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = access.ErrValidation
	case codes.PermissionDenied:
		sentinel = access.ErrAuthorization
	case codes.FailedPrecondition:
		sentinel = access.ErrState
	case codes.NotFound:
		sentinel = access.ErrNotFound
	default:
		return err
	}
	msg := st.Message()
	if prefix := sentinel.Error() + ": "; strings.HasPrefix(msg, prefix) {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// WithTimeout returns a context with default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
