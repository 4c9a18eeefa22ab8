// Package device exposes scheduling operations to field controllers and
// operator tooling over gRPC.
package device

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/observability/metrics"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/scheduler"
)

const ServiceName = "irrigation.v1.SchedulerService"

// Scheduler is the engine surface served over gRPC.
type Scheduler interface {
	EvaluateTick(ctx context.Context) ([]messages.Event, error)
	RequestManualValve(ctx context.Context, fieldID string, mode entities.ValveMode) (entities.Field, error)
	SetSchedule(ctx context.Context, fieldID string, s entities.Schedule) ([]messages.Event, error)
	CancelSchedule(ctx context.Context, fieldID string) ([]messages.Event, error)
}

// SchedulerServer is the service contract registered with grpc.Server.
type SchedulerServer interface {
	SetValve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SetSchedule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CancelSchedule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Tick(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// GrpcHandler implements SchedulerServer on top of the engine.
type GrpcHandler struct {
	engine Scheduler
	log    *slog.Logger
}

var _ SchedulerServer = (*GrpcHandler)(nil)

func NewGrpcHandler(engine Scheduler, log *slog.Logger) *GrpcHandler {
	return &GrpcHandler{engine: engine, log: logging.OrDiscard(log)}
}

// toStatus maps engine errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, scheduler.ErrScheduleConflict):
		code = codes.FailedPrecondition
	case errors.Is(err, scheduler.ErrFieldNotFound):
		code = codes.NotFound
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		code = codes.InvalidArgument
	case errors.Is(err, scheduler.ErrPersistence):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}

func (h *GrpcHandler) SetValve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fieldID := strings.TrimSpace(str(in, "field_id"))
	if fieldID == "" {
		return nil, status.Error(codes.InvalidArgument, "field_id is required")
	}
	mode, err := entities.ParseValveMode(str(in, "mode"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	f, err := h.engine.RequestManualValve(ctx, fieldID, mode)
	if err != nil {
		h.log.Info("grpc: valve request refused", "field_id", fieldID, "mode", mode, "error", err)
		return nil, toStatus(err)
	}
	return fieldStruct(f)
}

func (h *GrpcHandler) SetSchedule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sc, err := scheduleFrom(in)
	if err != nil {
		return nil, toStatus(err)
	}
	events, err := h.engine.SetSchedule(ctx, strings.TrimSpace(str(in, "field_id")), sc)
	if err != nil && len(events) == 0 {
		return nil, toStatus(err)
	}
	return eventsStruct(events, err)
}

func (h *GrpcHandler) CancelSchedule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	events, err := h.engine.CancelSchedule(ctx, strings.TrimSpace(str(in, "field_id")))
	if err != nil && len(events) == 0 {
		return nil, toStatus(err)
	}
	return eventsStruct(events, err)
}

func (h *GrpcHandler) Tick(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	events, err := h.engine.EvaluateTick(ctx)
	if err != nil && len(events) == 0 && errors.Is(err, scheduler.ErrPersistence) {
		return nil, toStatus(err)
	}
	return eventsStruct(events, err)
}

func unary(method string, call func(SchedulerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SchedulerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SchedulerServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SetValve", SchedulerServer.SetValve),
		unary("SetSchedule", SchedulerServer.SetSchedule),
		unary("CancelSchedule", SchedulerServer.CancelSchedule),
		unary("Tick", SchedulerServer.Tick),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "irrigation/v1/scheduler.proto",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv SchedulerServer) {
	s.RegisterService(&serviceDesc, srv)
}

// MetricsInterceptor counts calls by method and status code.
func MetricsInterceptor(m *metrics.TransportMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		m.GRPCRequest(info.FullMethod, status.Code(err).String())
		return resp, err
	}
}
