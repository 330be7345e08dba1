package tuned

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/looptune/looptune/pkg/logger"
)

// ServiceName is the fully qualified gRPC service name. Every method takes
// and returns a google.protobuf.Struct shaped like the HTTP JSON bodies.
const ServiceName = "looptune.v1.TuningService"

// TuningServiceServer is the server API of the tuning service.
type TuningServiceServer interface {
	CreateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReport(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type serverMethod func(TuningServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call serverMethod) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TuningServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TuningServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// TuningServiceDesc describes the service for grpc.ServiceRegistrar.
var TuningServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TuningServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateSession", TuningServiceServer.CreateSession),
		unaryHandler("StartSession", TuningServiceServer.StartSession),
		unaryHandler("StopSession", TuningServiceServer.StopSession),
		unaryHandler("GetSession", TuningServiceServer.GetSession),
		unaryHandler("ListSessions", TuningServiceServer.ListSessions),
		unaryHandler("GetReport", TuningServiceServer.GetReport),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "looptune/v1/tuning.proto",
}

func RegisterTuningServiceServer(s grpc.ServiceRegistrar, srv TuningServiceServer) {
	s.RegisterService(&TuningServiceDesc, srv)
}

// TuningServiceClient calls the tuning service.
type TuningServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTuningServiceClient(cc grpc.ClientConnInterface) *TuningServiceClient {
	return &TuningServiceClient{cc: cc}
}

// Call invokes method with a request built from req.
func (c *TuningServiceClient) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// GRPCServer implements TuningServiceServer on top of an Executor.
type GRPCServer struct {
	store    *SessionStore
	Executor *Executor
	logger   *slog.Logger
}

func NewGRPCServer(executor *Executor) *GRPCServer {
	return &GRPCServer{
		store:    executor.Store(),
		Executor: executor,
		logger:   logger.Default,
	}
}

// SetLogger sets the logger for request logging.
func (s *GRPCServer) SetLogger(l *slog.Logger) {
	s.logger = l
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func sessionID(req *structpb.Struct) (string, error) {
	id := req.GetFields()["session_id"].GetStringValue()
	if id == "" {
		return "", status.Error(codes.InvalidArgument, ErrSessionIDMissing.Error())
	}
	return id, nil
}

func executorStatus(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrSessionTerminal):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrSessionIDMissing), errors.Is(err, ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func (s *GRPCServer) CreateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	data, err := req.MarshalJSON()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	var cr createRequest
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := s.Executor.Create(cr.SessionID, cr.Input)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, executorStatus(err)
		}
		return nil, status.Error(codes.AlreadyExists, err.Error())
	}
	if cr.Start {
		if rec, err = s.Executor.Start(rec.ID); err != nil {
			return nil, executorStatus(err)
		}
	}
	s.logger.Info("Session created (gRPC)", "session_id", rec.ID)
	return reply(map[string]any{"session": sessionJSON(rec)})
}

func (s *GRPCServer) StartSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	updated, err := s.Executor.Start(id)
	if err != nil {
		return nil, executorStatus(err)
	}
	return reply(map[string]any{"session": sessionJSON(updated)})
}

func (s *GRPCServer) StopSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	updated, err := s.Executor.Stop(id)
	if err != nil {
		return nil, executorStatus(err)
	}
	return reply(map[string]any{"session": sessionJSON(updated)})
}

func (s *GRPCServer) GetSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	rec, ok := s.store.Get(id)
	if !ok {
		return nil, status.Error(codes.NotFound, ErrSessionNotFound.Error())
	}
	return reply(map[string]any{"session": sessionJSON(rec)})
}

func (s *GRPCServer) ListSessions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	limit := int(fields["limit"].GetNumberValue())
	offset := int(fields["offset"].GetNumberValue())
	if offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "offset must be non-negative")
	}
	var filter *Status
	if name := fields["status"].GetStringValue(); name != "" {
		st, ok := ParseStatus(name)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown status %s", name)
		}
		filter = &st
	}

	recs := s.store.List(limit, offset, filter)
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, sessionJSON(rec))
	}
	return reply(map[string]any{"sessions": out})
}

func (s *GRPCServer) GetReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	rec, ok := s.store.Get(id)
	if !ok {
		return nil, status.Error(codes.NotFound, ErrSessionNotFound.Error())
	}
	if rec.Report == nil {
		return nil, status.Error(codes.FailedPrecondition, "report not available")
	}
	rep, err := reportJSON(rec.Report)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return reply(map[string]any{"report": rep})
}
