package proto

import (
	"context"

	"google.golang.org/grpc"

	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "fathom.RuntimeService"

// RuntimeServiceServer is the server contract for the runtime surface.
type RuntimeServiceServer interface {
	UpsertProfile(ctx context.Context, req *UpsertProfileRequest) (*UpsertProfileResponse, error)
	GetProfile(ctx context.Context, req *GetProfileRequest) (*GetProfileResponse, error)
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error)
	DestroySession(ctx context.Context, req *DestroySessionRequest) (*DestroySessionResponse, error)
	ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error)
	GetSession(ctx context.Context, req *GetSessionRequest) (*GetSessionResponse, error)
	EnqueueTrigger(ctx context.Context, req *EnqueueTriggerRequest) (*EnqueueTriggerResponse, error)
	ListTasks(ctx context.Context, req *ListTasksRequest) (*ListTasksResponse, error)
	CancelTask(ctx context.Context, req *CancelTaskRequest) (*CancelTaskResponse, error)
	SubscribeEvents(req *SubscribeEventsRequest, stream RuntimeService_SubscribeEventsServer) error
}

// RuntimeService_SubscribeEventsServer is the server side of the event
// stream.
type RuntimeService_SubscribeEventsServer interface {
	Send(event *models.SessionEvent) error
	grpc.ServerStream
}

type subscribeEventsServer struct {
	grpc.ServerStream
}

func (s *subscribeEventsServer) Send(event *models.SessionEvent) error {
	return s.ServerStream.SendMsg(event)
}

// RegisterRuntimeServiceServer wires an implementation into a gRPC server.
func RegisterRuntimeServiceServer(registrar grpc.ServiceRegistrar, server RuntimeServiceServer) {
	registrar.RegisterService(&runtimeServiceDesc, server)
}

func unaryHandler[Req any, Resp any](
	method string,
	invoke func(RuntimeServiceServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return invoke(srv.(RuntimeServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return invoke(srv.(RuntimeServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var runtimeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuntimeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "UpsertProfile", Handler: unaryHandler("UpsertProfile", RuntimeServiceServer.UpsertProfile)},
		{MethodName: "GetProfile", Handler: unaryHandler("GetProfile", RuntimeServiceServer.GetProfile)},
		{MethodName: "CreateSession", Handler: unaryHandler("CreateSession", RuntimeServiceServer.CreateSession)},
		{MethodName: "DestroySession", Handler: unaryHandler("DestroySession", RuntimeServiceServer.DestroySession)},
		{MethodName: "ListSessions", Handler: unaryHandler("ListSessions", RuntimeServiceServer.ListSessions)},
		{MethodName: "GetSession", Handler: unaryHandler("GetSession", RuntimeServiceServer.GetSession)},
		{MethodName: "EnqueueTrigger", Handler: unaryHandler("EnqueueTrigger", RuntimeServiceServer.EnqueueTrigger)},
		{MethodName: "ListTasks", Handler: unaryHandler("ListTasks", RuntimeServiceServer.ListTasks)},
		{MethodName: "CancelTask", Handler: unaryHandler("CancelTask", RuntimeServiceServer.CancelTask)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeEvents",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := new(SubscribeEventsRequest)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(RuntimeServiceServer).SubscribeEvents(req, &subscribeEventsServer{stream})
			},
		},
	},
	Metadata: "fathom/runtime_service",
}

// RuntimeServiceClient is the client contract for the runtime surface.
type RuntimeServiceClient interface {
	UpsertProfile(ctx context.Context, req *UpsertProfileRequest, opts ...grpc.CallOption) (*UpsertProfileResponse, error)
	GetProfile(ctx context.Context, req *GetProfileRequest, opts ...grpc.CallOption) (*GetProfileResponse, error)
	CreateSession(ctx context.Context, req *CreateSessionRequest, opts ...grpc.CallOption) (*CreateSessionResponse, error)
	DestroySession(ctx context.Context, req *DestroySessionRequest, opts ...grpc.CallOption) (*DestroySessionResponse, error)
	ListSessions(ctx context.Context, req *ListSessionsRequest, opts ...grpc.CallOption) (*ListSessionsResponse, error)
	GetSession(ctx context.Context, req *GetSessionRequest, opts ...grpc.CallOption) (*GetSessionResponse, error)
	EnqueueTrigger(ctx context.Context, req *EnqueueTriggerRequest, opts ...grpc.CallOption) (*EnqueueTriggerResponse, error)
	ListTasks(ctx context.Context, req *ListTasksRequest, opts ...grpc.CallOption) (*ListTasksResponse, error)
	CancelTask(ctx context.Context, req *CancelTaskRequest, opts ...grpc.CallOption) (*CancelTaskResponse, error)
	SubscribeEvents(ctx context.Context, req *SubscribeEventsRequest, opts ...grpc.CallOption) (RuntimeService_SubscribeEventsClient, error)
}

// RuntimeService_SubscribeEventsClient is the client side of the event
// stream.
type RuntimeService_SubscribeEventsClient interface {
	Recv() (*models.SessionEvent, error)
	grpc.ClientStream
}

type subscribeEventsClient struct {
	grpc.ClientStream
}

func (c *subscribeEventsClient) Recv() (*models.SessionEvent, error) {
	event := new(models.SessionEvent)
	if err := c.ClientStream.RecvMsg(event); err != nil {
		return nil, err
	}
	return event, nil
}

type runtimeServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRuntimeServiceClient creates a client that speaks the JSON codec.
func NewRuntimeServiceClient(cc grpc.ClientConnInterface) RuntimeServiceClient {
	return &runtimeServiceClient{cc: cc}
}

func invokeUnary[Req any, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *runtimeServiceClient) UpsertProfile(ctx context.Context, req *UpsertProfileRequest, opts ...grpc.CallOption) (*UpsertProfileResponse, error) {
	return invokeUnary[UpsertProfileRequest, UpsertProfileResponse](ctx, c.cc, "UpsertProfile", req, opts)
}

func (c *runtimeServiceClient) GetProfile(ctx context.Context, req *GetProfileRequest, opts ...grpc.CallOption) (*GetProfileResponse, error) {
	return invokeUnary[GetProfileRequest, GetProfileResponse](ctx, c.cc, "GetProfile", req, opts)
}

func (c *runtimeServiceClient) CreateSession(ctx context.Context, req *CreateSessionRequest, opts ...grpc.CallOption) (*CreateSessionResponse, error) {
	return invokeUnary[CreateSessionRequest, CreateSessionResponse](ctx, c.cc, "CreateSession", req, opts)
}

func (c *runtimeServiceClient) DestroySession(ctx context.Context, req *DestroySessionRequest, opts ...grpc.CallOption) (*DestroySessionResponse, error) {
	return invokeUnary[DestroySessionRequest, DestroySessionResponse](ctx, c.cc, "DestroySession", req, opts)
}

func (c *runtimeServiceClient) ListSessions(ctx context.Context, req *ListSessionsRequest, opts ...grpc.CallOption) (*ListSessionsResponse, error) {
	return invokeUnary[ListSessionsRequest, ListSessionsResponse](ctx, c.cc, "ListSessions", req, opts)
}

func (c *runtimeServiceClient) GetSession(ctx context.Context, req *GetSessionRequest, opts ...grpc.CallOption) (*GetSessionResponse, error) {
	return invokeUnary[GetSessionRequest, GetSessionResponse](ctx, c.cc, "GetSession", req, opts)
}

func (c *runtimeServiceClient) EnqueueTrigger(ctx context.Context, req *EnqueueTriggerRequest, opts ...grpc.CallOption) (*EnqueueTriggerResponse, error) {
	return invokeUnary[EnqueueTriggerRequest, EnqueueTriggerResponse](ctx, c.cc, "EnqueueTrigger", req, opts)
}

func (c *runtimeServiceClient) ListTasks(ctx context.Context, req *ListTasksRequest, opts ...grpc.CallOption) (*ListTasksResponse, error) {
	return invokeUnary[ListTasksRequest, ListTasksResponse](ctx, c.cc, "ListTasks", req, opts)
}

func (c *runtimeServiceClient) CancelTask(ctx context.Context, req *CancelTaskRequest, opts ...grpc.CallOption) (*CancelTaskResponse, error) {
	return invokeUnary[CancelTaskRequest, CancelTaskResponse](ctx, c.cc, "CancelTask", req, opts)
}

func (c *runtimeServiceClient) SubscribeEvents(ctx context.Context, req *SubscribeEventsRequest, opts ...grpc.CallOption) (RuntimeService_SubscribeEventsClient, error) {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	stream, err := c.cc.NewStream(ctx, &runtimeServiceDesc.Streams[0], "/"+ServiceName+"/SubscribeEvents", opts...)
	if err != nil {
		return nil, err
	}
	wrapped := &subscribeEventsClient{stream}
	if err := wrapped.SendMsg(req); err != nil {
		return nil, err
	}
	if err := wrapped.CloseSend(); err != nil {
		return nil, err
	}
	return wrapped, nil
}
