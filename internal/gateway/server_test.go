package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/AcrylicShrimp/fathom/internal/config"
	"github.com/AcrylicShrimp/fathom/internal/orchestrator"
	"github.com/AcrylicShrimp/fathom/internal/runtime"
	"github.com/AcrylicShrimp/fathom/pkg/models"
	"github.com/AcrylicShrimp/fathom/proto"
)

type idleRunner struct{}

func (idleRunner) Run(ctx context.Context, bundle orchestrator.Bundle) <-chan orchestrator.Event {
	out := make(chan orchestrator.Event, 1)
	out <- orchestrator.Event{Type: orchestrator.EventDone, Text: "noted"}
	close(out)
	return out
}

func startServer(t *testing.T) proto.RuntimeServiceClient {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace.Root = t.TempDir()
	rt, err := runtime.New(runtime.Options{Config: cfg, Model: idleRunner{}})
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}

	server := NewServer("bufconn", rt, nil)
	listener := bufconn.Listen(1 << 20)
	go func() { _ = server.grpc.Serve(listener) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		_ = rt.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return proto.NewRuntimeServiceClient(conn)
}

func seedProfiles(t *testing.T, client proto.RuntimeServiceClient) {
	t.Helper()
	ctx := context.Background()
	if _, err := client.UpsertProfile(ctx, &proto.UpsertProfileRequest{Profile: proto.Profile{
		Agent: &models.AgentProfile{ID: "a1", Name: "Agent", Fields: map[string]string{models.AgentFieldSoul: "s"}},
	}}); err != nil {
		t.Fatalf("upsert agent: %v", err)
	}
	if _, err := client.UpsertProfile(ctx, &proto.UpsertProfileRequest{Profile: proto.Profile{
		User: &models.UserProfile{ID: "u1", Name: "User", Fields: map[string]string{models.UserFieldUser: "u"}},
	}}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
}

func TestProfileRoundTripOverWire(t *testing.T) {
	client := startServer(t)
	seedProfiles(t, client)

	resp, err := client.GetProfile(context.Background(), &proto.GetProfileRequest{ID: "a1", Kind: proto.ProfileKindAgent})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.Profile.Agent == nil || resp.Profile.Agent.Name != "Agent" {
		t.Errorf("profile = %+v", resp.Profile)
	}

	_, err = client.GetProfile(context.Background(), &proto.GetProfileRequest{ID: "missing"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("missing profile: got %v, want NotFound", err)
	}
}

func TestSessionLifecycleOverWire(t *testing.T) {
	client := startServer(t)
	seedProfiles(t, client)
	ctx := context.Background()

	created, err := client.CreateSession(ctx, &proto.CreateSessionRequest{AgentID: "a1", UserIDs: []string{"u1"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sessionID := created.Session.SessionID

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := client.SubscribeEvents(streamCtx, &proto.SubscribeEventsRequest{SessionID: sessionID})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	enq, err := client.EnqueueTrigger(ctx, &proto.EnqueueTriggerRequest{
		SessionID: sessionID,
		Trigger: models.Trigger{
			Kind:        models.TriggerUserMessage,
			UserMessage: &models.UserMessagePayload{UserID: "u1", Text: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enq.AcceptedEventSeq == 0 || enq.QueueDepth != 1 || enq.TriggerID == "" {
		t.Errorf("enqueue ack = %+v", enq)
	}

	var sawAccepted, sawEnded bool
	deadline := time.Now().Add(5 * time.Second)
	for !sawEnded && time.Now().Before(deadline) {
		event, err := stream.Recv()
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		switch event.Type {
		case models.EventTriggerAccepted:
			sawAccepted = true
		case models.EventTurnEnded:
			sawEnded = true
		}
	}
	if !sawAccepted || !sawEnded {
		t.Fatalf("accepted=%v ended=%v", sawAccepted, sawEnded)
	}

	sessions, err := client.ListSessions(ctx, &proto.ListSessionsRequest{})
	if err != nil || len(sessions.Sessions) != 1 {
		t.Fatalf("list sessions: %v %+v", err, sessions)
	}

	if _, err := client.DestroySession(ctx, &proto.DestroySessionRequest{SessionID: sessionID}); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	_, err = client.GetSession(ctx, &proto.GetSessionRequest{SessionID: sessionID})
	if status.Code(err) != codes.NotFound {
		t.Errorf("get after destroy: %v", err)
	}
}

func TestEnqueueUnknownSessionOverWire(t *testing.T) {
	client := startServer(t)
	_, err := client.EnqueueTrigger(context.Background(), &proto.EnqueueTriggerRequest{
		SessionID: "session-nope",
		Trigger:   models.Trigger{Kind: models.TriggerHeartbeat},
	})
	if status.Code(err) != codes.NotFound {
		t.Errorf("got %v, want NotFound", err)
	}
}

func TestSubscribeReplayOverWire(t *testing.T) {
	client := startServer(t)
	seedProfiles(t, client)
	ctx := context.Background()

	created, err := client.CreateSession(ctx, &proto.CreateSessionRequest{AgentID: "a1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := client.EnqueueTrigger(ctx, &proto.EnqueueTriggerRequest{
		SessionID: created.Session.SessionID,
		Trigger:   models.Trigger{Kind: models.TriggerHeartbeat},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Give the turn a moment to run, then replay from the beginning.
	time.Sleep(200 * time.Millisecond)
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := client.SubscribeEvents(streamCtx, &proto.SubscribeEventsRequest{
		SessionID:    created.Session.SessionID,
		FromEventSeq: 1,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	event, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if event.Seq != 1 {
		t.Errorf("replay started at seq %d, want 1", event.Seq)
	}
}
