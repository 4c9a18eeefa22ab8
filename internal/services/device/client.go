package device

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

// Client calls a remote SchedulerService.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial connects to addr without transport security; the service runs on the farm LAN.
func Dial(addr string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// FieldSummary is the client-side view of a field after a valve change.
type FieldSummary struct {
	ID        string
	Name      string
	ValveMode entities.ValveMode
	Schedule  string
}

func (c *Client) SetValve(ctx context.Context, fieldID string, mode entities.ValveMode) (FieldSummary, error) {
	out, err := c.call(ctx, "SetValve", map[string]any{"field_id": fieldID, "mode": string(mode)})
	if err != nil {
		return FieldSummary{}, err
	}
	fs := FieldSummary{
		ID:        str(out, "id"),
		Name:      str(out, "name"),
		ValveMode: entities.ValveMode(str(out, "valve_mode")),
	}
	if sc := out.GetFields()["schedule"].GetStructValue(); sc != nil {
		fs.Schedule = str(sc, "start") + "-" + str(sc, "end")
	}
	return fs, nil
}

// SetSchedule installs a schedule; an empty fieldID targets the global schedule.
func (c *Client) SetSchedule(ctx context.Context, fieldID string, s entities.Schedule) ([]EventSummary, error) {
	in := scheduleStruct(s)
	in["field_id"] = fieldID
	out, err := c.call(ctx, "SetSchedule", in)
	if err != nil {
		return nil, err
	}
	return eventsFrom(out), replyErr(out)
}

func (c *Client) CancelSchedule(ctx context.Context, fieldID string) ([]EventSummary, error) {
	out, err := c.call(ctx, "CancelSchedule", map[string]any{"field_id": fieldID})
	if err != nil {
		return nil, err
	}
	return eventsFrom(out), replyErr(out)
}

func (c *Client) Tick(ctx context.Context) ([]EventSummary, error) {
	out, err := c.call(ctx, "Tick", map[string]any{})
	if err != nil {
		return nil, err
	}
	return eventsFrom(out), replyErr(out)
}

// replyErr surfaces per-field failures reported alongside a successful reply.
func replyErr(out *structpb.Struct) error {
	if msg := str(out, "error"); msg != "" {
		return fmt.Errorf("remote: %s", msg)
	}
	return nil
}
