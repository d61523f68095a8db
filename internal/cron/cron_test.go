package cron

import (
	"sync"
	"testing"
	"time"

	"github.com/AcrylicShrimp/fathom/internal/config"
	"github.com/AcrylicShrimp/fathom/pkg/models"
)

type fakeEnqueuer struct {
	mu       sync.Mutex
	sessions map[string]string // session id -> agent id
	fired    []models.Trigger
}

func (f *fakeEnqueuer) SessionIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.sessions {
		out = append(out, id)
	}
	return out
}

func (f *fakeEnqueuer) SessionsForAgent(agentID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id, agent := range f.sessions {
		if agent == agentID {
			out = append(out, id)
		}
	}
	return out
}

func (f *fakeEnqueuer) EnqueueTrigger(sessionID string, trigger models.Trigger) (uint64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, trigger)
	return 1, 1, nil
}

func (f *fakeEnqueuer) firedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func TestInvalidScheduleRejected(t *testing.T) {
	_, err := New([]config.CronRule{{ID: "r1", Schedule: "not a schedule"}}, &fakeEnqueuer{}, nil)
	if err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestRuleFiresCronTrigger(t *testing.T) {
	enqueuer := &fakeEnqueuer{sessions: map[string]string{"s1": "a1"}}
	source, err := New([]config.CronRule{{ID: "tick", Schedule: "* * * * * *", AgentID: "a1"}}, enqueuer, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	source.Start()
	defer source.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for enqueuer.firedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if enqueuer.firedCount() == 0 {
		t.Fatal("rule never fired")
	}

	enqueuer.mu.Lock()
	defer enqueuer.mu.Unlock()
	trigger := enqueuer.fired[0]
	if trigger.Kind != models.TriggerCron || trigger.Cron.RuleID != "tick" {
		t.Errorf("fired trigger = %+v", trigger)
	}
}

func TestRuleScopedToAgent(t *testing.T) {
	enqueuer := &fakeEnqueuer{sessions: map[string]string{"s1": "other"}}
	source, err := New([]config.CronRule{{ID: "tick", Schedule: "* * * * * *", AgentID: "a1"}}, enqueuer, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	source.Start()
	defer source.Stop()

	time.Sleep(1200 * time.Millisecond)
	if n := enqueuer.firedCount(); n != 0 {
		t.Errorf("rule fired %d times for a foreign agent", n)
	}
}
