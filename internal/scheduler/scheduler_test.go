package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// blockingExecutor holds every task until released, recording peak
// concurrency.
type blockingExecutor struct {
	mu      sync.Mutex
	active  int
	peak    int
	release chan struct{}
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{release: make(chan struct{})}
}

func (e *blockingExecutor) run(ctx context.Context, _ models.Task) models.TaskOutcome {
	e.mu.Lock()
	e.active++
	if e.active > e.peak {
		e.peak = e.active
	}
	e.mu.Unlock()

	select {
	case <-e.release:
	case <-ctx.Done():
	}

	e.mu.Lock()
	e.active--
	e.mu.Unlock()
	return models.TaskOutcome{Success: true, Result: json.RawMessage(`{}`)}
}

type recordedNotify struct {
	task models.Task
	done bool
}

type notifyLog struct {
	mu      sync.Mutex
	entries []recordedNotify
}

func (l *notifyLog) notify(task models.Task, done bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, recordedNotify{task, done})
}

func (l *notifyLog) snapshot() []recordedNotify {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedNotify(nil), l.entries...)
}

func newTask(id, session string) models.Task {
	return models.Task{ID: id, SessionID: session, TurnSeq: 1, ToolName: "fs_read", ToolArgs: json.RawMessage(`{}`)}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestAdmissionHonorsParallelismCap(t *testing.T) {
	exec := newBlockingExecutor()
	s := New(Options{Parallelism: 2, Executor: exec.run})
	log := &notifyLog{}
	s.Bind("s1", log.notify)

	states := make(map[string]models.TaskState)
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		admitted := s.Submit(newTask(id, "s1"))
		states[id] = admitted.State
	}

	if states["t1"] != models.TaskRunning || states["t2"] != models.TaskRunning {
		t.Errorf("first two should run immediately: %v", states)
	}
	if states["t3"] != models.TaskPending || states["t4"] != models.TaskPending {
		t.Errorf("overflow should be pending: %v", states)
	}
	if n := s.RunningCount(); n != 2 {
		t.Errorf("running = %d, want 2", n)
	}

	close(exec.release)
	s.Wait()
	waitFor(t, func() bool {
		done := 0
		for _, e := range log.snapshot() {
			if e.done {
				done++
			}
		}
		return done == 4
	})

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.peak > 2 {
		t.Errorf("peak concurrency %d exceeded W=2", exec.peak)
	}
}

func TestFIFOAdmissionOrder(t *testing.T) {
	exec := newBlockingExecutor()
	s := New(Options{Parallelism: 1, Executor: exec.run})
	log := &notifyLog{}
	s.Bind("s1", log.notify)

	s.Submit(newTask("t1", "s1"))
	s.Submit(newTask("t2", "s1"))
	s.Submit(newTask("t3", "s1"))

	close(exec.release)
	s.Wait()
	waitFor(t, func() bool {
		done := 0
		for _, e := range log.snapshot() {
			if e.done {
				done++
			}
		}
		return done == 3
	})

	var order []string
	for _, e := range log.snapshot() {
		if e.done {
			order = append(order, e.task.ID)
		}
	}
	if order[0] != "t1" || order[1] != "t2" || order[2] != "t3" {
		t.Errorf("completion order %v, want FIFO", order)
	}
}

func TestStateChangePrecedesDone(t *testing.T) {
	exec := newBlockingExecutor()
	s := New(Options{Parallelism: 1, Executor: exec.run})
	log := &notifyLog{}
	s.Bind("s1", log.notify)

	s.Submit(newTask("t1", "s1"))
	s.Submit(newTask("t2", "s1")) // pending; will get a start notification

	close(exec.release)
	s.Wait()
	waitFor(t, func() bool { return len(log.snapshot()) >= 3 })

	for _, e := range log.snapshot() {
		if e.task.ID == "t2" && !e.done && e.task.State != models.TaskRunning {
			t.Errorf("start notification carried state %s", e.task.State)
		}
	}
	// The pending task's start notification must precede its done.
	var sawStart bool
	for _, e := range log.snapshot() {
		if e.task.ID != "t2" {
			continue
		}
		if !e.done {
			sawStart = true
		} else if !sawStart {
			t.Error("done notification arrived before start")
		}
	}
}

func TestExplicitCancelNotifies(t *testing.T) {
	exec := newBlockingExecutor()
	s := New(Options{Parallelism: 1, Executor: exec.run})
	log := &notifyLog{}
	s.Bind("s1", log.notify)

	s.Submit(newTask("t1", "s1"))
	s.Submit(newTask("t2", "s1"))

	task, ok := s.Cancel("t2")
	if !ok || task.State != models.TaskCanceled {
		t.Fatalf("cancel pending: ok=%v state=%s", ok, task.State)
	}

	entries := log.snapshot()
	if len(entries) != 1 || !entries[0].done || entries[0].task.State != models.TaskCanceled {
		t.Errorf("expected one canceled done notification, got %+v", entries)
	}

	// Terminal cancel is a no-op.
	if _, ok := s.Cancel("t2"); ok {
		t.Error("canceling a terminal task should report false")
	}

	close(exec.release)
	s.Wait()
}

func TestSessionTeardownCancelsSilently(t *testing.T) {
	exec := newBlockingExecutor()
	s := New(Options{Parallelism: 1, Executor: exec.run})
	log := &notifyLog{}
	s.Bind("s1", log.notify)

	s.Submit(newTask("t1", "s1"))
	s.Submit(newTask("t2", "s1"))

	s.CancelSession("s1")

	if entries := log.snapshot(); len(entries) != 0 {
		t.Errorf("teardown must not notify, got %+v", entries)
	}
	for _, id := range []string{"t1", "t2"} {
		task, _ := s.Get(id)
		if task.State != models.TaskCanceled {
			t.Errorf("%s state = %s, want canceled", id, task.State)
		}
	}
	s.Wait()
}

func TestFreedSlotGoesToOtherSession(t *testing.T) {
	exec := newBlockingExecutor()
	s := New(Options{Parallelism: 1, Executor: exec.run})
	logA, logB := &notifyLog{}, &notifyLog{}
	s.Bind("sA", logA.notify)
	s.Bind("sB", logB.notify)

	s.Submit(newTask("a1", "sA"))
	s.Submit(newTask("b1", "sB"))

	s.CancelSession("sA")
	waitFor(t, func() bool {
		task, _ := s.Get("b1")
		return task.State == models.TaskRunning || task.State.Terminal()
	})

	close(exec.release)
	s.Wait()
}
