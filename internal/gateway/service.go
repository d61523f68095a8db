package gateway

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AcrylicShrimp/fathom/internal/events"
	"github.com/AcrylicShrimp/fathom/internal/profile"
	"github.com/AcrylicShrimp/fathom/internal/runtime"
	"github.com/AcrylicShrimp/fathom/proto"
)

// service adapts the runtime facade onto the RPC surface.
type service struct {
	runtime *runtime.Runtime
}

func newService(rt *runtime.Runtime) proto.RuntimeServiceServer {
	return &service{runtime: rt}
}

func (s *service) UpsertProfile(ctx context.Context, req *proto.UpsertProfileRequest) (*proto.UpsertProfileResponse, error) {
	switch {
	case req.Profile.Agent != nil:
		stored, err := s.runtime.Profiles().UpsertAgent(req.Profile.Agent)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return &proto.UpsertProfileResponse{ID: stored.ID}, nil
	case req.Profile.User != nil:
		stored, err := s.runtime.Profiles().UpsertUser(req.Profile.User)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return &proto.UpsertProfileResponse{ID: stored.ID}, nil
	default:
		return nil, status.Error(codes.InvalidArgument, "profile requires an agent or user record")
	}
}

func (s *service) GetProfile(ctx context.Context, req *proto.GetProfileRequest) (*proto.GetProfileResponse, error) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	if req.Kind == proto.ProfileKindAgent || req.Kind == "" {
		if agent, err := s.runtime.Profiles().GetAgent(req.ID); err == nil {
			return &proto.GetProfileResponse{Profile: proto.Profile{Agent: agent}}, nil
		} else if req.Kind == proto.ProfileKindAgent {
			return nil, mapError(err)
		}
	}
	user, err := s.runtime.Profiles().GetUser(req.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &proto.GetProfileResponse{Profile: proto.Profile{User: user}}, nil
}

func (s *service) CreateSession(ctx context.Context, req *proto.CreateSessionRequest) (*proto.CreateSessionResponse, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, status.Error(codes.InvalidArgument, "agent_id is required")
	}
	summary, err := s.runtime.CreateSession(req.AgentID, req.UserIDs)
	if err != nil {
		return nil, mapError(err)
	}
	return &proto.CreateSessionResponse{Session: summary}, nil
}

func (s *service) DestroySession(ctx context.Context, req *proto.DestroySessionRequest) (*proto.DestroySessionResponse, error) {
	if err := s.runtime.DestroySession(req.SessionID); err != nil {
		return nil, mapError(err)
	}
	return &proto.DestroySessionResponse{}, nil
}

func (s *service) ListSessions(ctx context.Context, req *proto.ListSessionsRequest) (*proto.ListSessionsResponse, error) {
	return &proto.ListSessionsResponse{Sessions: s.runtime.ListSessions()}, nil
}

func (s *service) GetSession(ctx context.Context, req *proto.GetSessionRequest) (*proto.GetSessionResponse, error) {
	summary, err := s.runtime.GetSession(req.SessionID)
	if err != nil {
		return nil, mapError(err)
	}
	return &proto.GetSessionResponse{Session: summary}, nil
}

func (s *service) EnqueueTrigger(ctx context.Context, req *proto.EnqueueTriggerRequest) (*proto.EnqueueTriggerResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	if err := req.Trigger.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	seq, depth, err := s.runtime.EnqueueTrigger(req.SessionID, req.Trigger)
	if err != nil {
		return nil, mapError(err)
	}
	return &proto.EnqueueTriggerResponse{
		AcceptedEventSeq: seq,
		QueueDepth:       depth,
		TriggerID:        req.Trigger.ID,
	}, nil
}

func (s *service) ListTasks(ctx context.Context, req *proto.ListTasksRequest) (*proto.ListTasksResponse, error) {
	tasks, err := s.runtime.ListTasks(req.SessionID)
	if err != nil {
		return nil, mapError(err)
	}
	return &proto.ListTasksResponse{Tasks: tasks}, nil
}

func (s *service) CancelTask(ctx context.Context, req *proto.CancelTaskRequest) (*proto.CancelTaskResponse, error) {
	task, applied, err := s.runtime.CancelTask(req.SessionID, req.TaskID)
	if err != nil {
		return nil, mapError(err)
	}
	return &proto.CancelTaskResponse{Canceled: applied, Task: task}, nil
}

func (s *service) SubscribeEvents(req *proto.SubscribeEventsRequest, stream proto.RuntimeService_SubscribeEventsServer) error {
	sub, err := s.runtime.Subscribe(req.SessionID, req.FromEventSeq)
	if err != nil {
		return mapError(err)
	}
	defer sub.Cancel()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.C:
			if !ok {
				if errors.Is(sub.Err(), events.ErrSubscriberLagged) {
					return status.Error(codes.ResourceExhausted, "subscriber lagged behind the event stream")
				}
				return nil
			}
			if err := stream.Send(&event); err != nil {
				return err
			}
		}
	}
}

// mapError translates runtime errors onto gRPC status codes.
func mapError(err error) error {
	switch {
	case errors.Is(err, runtime.ErrUnknownSession):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, runtime.ErrUnknownTask):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, profile.ErrUnknownProfile):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, events.ErrEventsExpired):
		return status.Error(codes.FailedPrecondition, "requested events expired beyond retention")
	case errors.Is(err, events.ErrBusClosed):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
