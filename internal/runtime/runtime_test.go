package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AcrylicShrimp/fathom/internal/config"
	"github.com/AcrylicShrimp/fathom/internal/orchestrator"
	"github.com/AcrylicShrimp/fathom/internal/profile"
	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// idleRunner ends every turn immediately with no output.
type idleRunner struct{}

func (idleRunner) Run(ctx context.Context, bundle orchestrator.Bundle) <-chan orchestrator.Event {
	out := make(chan orchestrator.Event, 1)
	out <- orchestrator.Event{Type: orchestrator.EventDone}
	close(out)
	return out
}

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace.Root = t.TempDir()
	r, err := New(Options{Config: cfg, Model: idleRunner{}})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})

	if _, err := r.Profiles().UpsertAgent(&models.AgentProfile{
		ID:     "a1",
		Name:   "Agent",
		Fields: map[string]string{models.AgentFieldSoul: "s"},
	}); err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	if _, err := r.Profiles().UpsertUser(&models.UserProfile{
		ID:     "u1",
		Name:   "User",
		Fields: map[string]string{models.UserFieldUser: "u"},
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return r
}

func TestCreateSessionUnknownProfile(t *testing.T) {
	r := newRuntime(t)

	if _, err := r.CreateSession("missing", nil); !errors.Is(err, profile.ErrUnknownProfile) {
		t.Errorf("unknown agent: got %v", err)
	}
	if _, err := r.CreateSession("a1", []string{"missing"}); !errors.Is(err, profile.ErrUnknownProfile) {
		t.Errorf("unknown user: got %v", err)
	}
}

func TestCreateEnqueueSubscribeRoundTrip(t *testing.T) {
	r := newRuntime(t)

	summary, err := r.CreateSession("a1", []string{"u1", "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(summary.ParticipantUserIDs) != 1 {
		t.Errorf("duplicate user ids not collapsed: %v", summary.ParticipantUserIDs)
	}

	sub, err := r.Subscribe(summary.SessionID, 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	seq, depth, err := r.EnqueueTrigger(summary.SessionID, models.Trigger{
		Kind:        models.TriggerUserMessage,
		UserMessage: &models.UserMessagePayload{UserID: "u1", Text: "hello"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if seq == 0 || depth != 1 {
		t.Errorf("seq=%d depth=%d", seq, depth)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case event := <-sub.C:
			if event.Type == models.EventTurnEnded {
				sub.Cancel()
				return
			}
		case <-deadline:
			t.Fatal("never saw TurnEnded")
		}
	}
}

func TestEnqueueUnknownSession(t *testing.T) {
	r := newRuntime(t)
	_, _, err := r.EnqueueTrigger("session-nope", models.Trigger{Kind: models.TriggerHeartbeat})
	if !errors.Is(err, ErrUnknownSession) {
		t.Errorf("got %v, want ErrUnknownSession", err)
	}
}

func TestResubscribeWithinRetention(t *testing.T) {
	r := newRuntime(t)
	summary, err := r.CreateSession("a1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, _, err := r.EnqueueTrigger(summary.SessionID, models.Trigger{Kind: models.TriggerHeartbeat}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := r.Subscribe(summary.SessionID, 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var seen []uint64
	deadline := time.After(3 * time.Second)
	for len(seen) < 3 {
		select {
		case event := <-first.C:
			seen = append(seen, event.Seq)
		case <-deadline:
			t.Fatalf("only saw %v", seen)
		}
	}
	first.Cancel()

	// Re-subscribing from seq 2 replays exactly [2..] in order.
	second, err := r.Subscribe(summary.SessionID, 2)
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	event := <-second.C
	if event.Seq != 2 {
		t.Errorf("replay started at %d, want 2", event.Seq)
	}
	second.Cancel()
}

func TestDestroySessionRemovesRegistration(t *testing.T) {
	r := newRuntime(t)
	summary, _ := r.CreateSession("a1", nil)

	if err := r.DestroySession(summary.SessionID); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := r.DestroySession(summary.SessionID); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("second destroy: got %v", err)
	}
	if _, _, err := r.EnqueueTrigger(summary.SessionID, models.Trigger{Kind: models.TriggerHeartbeat}); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("enqueue after destroy: got %v", err)
	}
}

func TestSessionsForAgent(t *testing.T) {
	r := newRuntime(t)
	s1, _ := r.CreateSession("a1", nil)
	s2, _ := r.CreateSession("a1", nil)

	ids := r.SessionsForAgent("a1")
	if len(ids) != 2 {
		t.Fatalf("ids = %v", ids)
	}
	_ = s1
	_ = s2
	if len(r.SessionsForAgent("other")) != 0 {
		t.Error("unexpected sessions for unknown agent")
	}
}
