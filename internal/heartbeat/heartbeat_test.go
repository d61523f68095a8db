package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AcrylicShrimp/fathom/pkg/models"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	fired []models.Trigger
}

func (f *fakeEnqueuer) SessionIDs() []string { return []string{"s1", "s2"} }

func (f *fakeEnqueuer) EnqueueTrigger(sessionID string, trigger models.Trigger) (uint64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, trigger)
	return 1, 1, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func TestRunnerFansOutToEverySession(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	runner := New(10*time.Millisecond, enqueuer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for enqueuer.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if enqueuer.count() < 2 {
		t.Fatalf("fired %d triggers, want one per session", enqueuer.count())
	}
	enqueuer.mu.Lock()
	defer enqueuer.mu.Unlock()
	for _, trigger := range enqueuer.fired {
		if trigger.Kind != models.TriggerHeartbeat {
			t.Errorf("fired %s, want heartbeat", trigger.Kind)
		}
	}
}
