// Package scheduler implements the background task registry: admission under
// a process-wide parallelism cap, the task state machine, and completion
// notifications that couple finished tasks back into their sessions.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AcrylicShrimp/fathom/internal/observability"
	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// Executor runs one task to completion. It is invoked on a worker goroutine
// and must honor ctx cancellation.
type Executor func(ctx context.Context, task models.Task) models.TaskOutcome

// Notify delivers a task transition to the owning session's inbox. done is
// true for terminal transitions, which additionally produce a TaskDone
// trigger inside the session. Notifications for one task are delivered in
// transition order.
type Notify func(task models.Task, done bool)

// Options configures the scheduler.
type Options struct {
	// Parallelism is W: the process-wide cap on Running tasks.
	Parallelism int
	Executor    Executor
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Scheduler owns every task in the process. Sessions interact with it only
// through Submit, Cancel, and the bound notification callbacks.
type Scheduler struct {
	parallelism int
	executor    Executor
	logger      *slog.Logger
	metrics     *observability.Metrics

	mu       sync.Mutex
	tasks    map[string]*taskEntry
	pending  []string // FIFO of task ids awaiting a slot
	running  int
	sessions map[string]Notify
	wg       sync.WaitGroup
}

type taskEntry struct {
	task   models.Task
	cancel context.CancelFunc
}

// New creates a scheduler. The executor must be set before any Submit.
func New(opts Options) *Scheduler {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		parallelism: opts.Parallelism,
		executor:    opts.Executor,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tasks:       make(map[string]*taskEntry),
		sessions:    make(map[string]Notify),
	}
}

// Bind registers the notification sink for a session's tasks.
func (s *Scheduler) Bind(sessionID string, notify Notify) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = notify
}

// Unbind removes a session's sink. In-flight notifications for it are
// dropped.
func (s *Scheduler) Unbind(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Submit admits a new task: Running immediately when a slot is free,
// otherwise Pending in FIFO order. The returned snapshot reflects the
// admission state; the caller (the session actor) emits the corresponding
// TaskStateChanged event itself so it lands inside the spawning turn.
func (s *Scheduler) Submit(task models.Task) models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	task.CreatedAt = time.Now().UTC()
	entry := &taskEntry{task: task}

	if s.running < s.parallelism {
		s.startLocked(entry)
	} else {
		entry.task.State = models.TaskPending
		s.pending = append(s.pending, task.ID)
		if s.metrics != nil {
			s.metrics.TasksPending.Inc()
		}
	}
	s.tasks[task.ID] = entry
	return entry.task
}

// startLocked transitions an entry to Running and spawns its worker.
// Caller holds s.mu.
func (s *Scheduler) startLocked(entry *taskEntry) {
	ctx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel
	entry.task.State = models.TaskRunning
	entry.task.StartedAt = time.Now().UTC()
	s.running++
	if s.metrics != nil {
		s.metrics.TasksRunning.Inc()
	}

	task := entry.task
	s.wg.Add(1)
	go s.run(ctx, task)
}

func (s *Scheduler) run(ctx context.Context, task models.Task) {
	defer s.wg.Done()

	tracer := observability.Tracer()
	ctx, span := tracer.Start(ctx, "task.execute", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.tool", task.ToolName),
		attribute.String("session.id", task.SessionID),
	))
	outcome := s.executor(ctx, task)
	span.End()

	if ctx.Err() != nil {
		// Canceled mid-flight; the cancel path already settled the state.
		return
	}
	s.finish(task.ID, outcome)
}

// finish settles a Running task into Succeeded or Failed, notifies the
// session, and admits the next Pending task.
func (s *Scheduler) finish(taskID string, outcome models.TaskOutcome) {
	s.mu.Lock()
	entry, ok := s.tasks[taskID]
	if !ok || entry.task.State != models.TaskRunning {
		s.mu.Unlock()
		return
	}

	s.running--
	if s.metrics != nil {
		s.metrics.TasksRunning.Dec()
	}
	if outcome.Success {
		entry.task.State = models.TaskSucceeded
	} else {
		entry.task.State = models.TaskFailed
	}
	entry.task.FinishedAt = time.Now().UTC()
	entry.task.Outcome = outcome
	if s.metrics != nil {
		s.metrics.TasksTotal.WithLabelValues(string(entry.task.State)).Inc()
	}
	snapshot := entry.task
	notify := s.sessions[snapshot.SessionID]
	started := s.admitNextLocked()
	s.mu.Unlock()

	if notify != nil {
		notify(snapshot, true)
	}
	s.dispatchStarts(started)
}

// admitNextLocked pops Pending tasks into freed slots. Caller holds s.mu.
// Returns the snapshots of tasks that just started, for notification outside
// the lock.
func (s *Scheduler) admitNextLocked() []models.Task {
	var started []models.Task
	for s.running < s.parallelism && len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]
		entry, ok := s.tasks[id]
		if !ok || entry.task.State != models.TaskPending {
			continue
		}
		if s.metrics != nil {
			s.metrics.TasksPending.Dec()
		}
		s.startLocked(entry)
		started = append(started, entry.task)
	}
	return started
}

// dispatchStarts notifies sessions about Pending→Running transitions.
func (s *Scheduler) dispatchStarts(started []models.Task) {
	for _, task := range started {
		s.mu.Lock()
		notify := s.sessions[task.SessionID]
		s.mu.Unlock()
		if notify != nil {
			notify(task, false)
		}
	}
}

// Cancel terminates a Pending or Running task on explicit request. The
// session observes TaskStateChanged(Canceled) and a TaskDone trigger.
// Canceling a terminal task is a no-op returning false.
func (s *Scheduler) Cancel(taskID string) (models.Task, bool) {
	s.mu.Lock()
	entry, ok := s.tasks[taskID]
	if !ok || entry.task.State.Terminal() {
		var task models.Task
		if ok {
			task = entry.task
		}
		s.mu.Unlock()
		return task, false
	}

	s.cancelLocked(entry, "canceled by request")
	snapshot := entry.task
	notify := s.sessions[snapshot.SessionID]
	started := s.admitNextLocked()
	s.mu.Unlock()

	if notify != nil {
		notify(snapshot, true)
	}
	s.dispatchStarts(started)
	return snapshot, true
}

// cancelLocked settles an entry into Canceled. Caller holds s.mu.
func (s *Scheduler) cancelLocked(entry *taskEntry, reason string) {
	if entry.task.State == models.TaskRunning {
		s.running--
		if s.metrics != nil {
			s.metrics.TasksRunning.Dec()
		}
		if entry.cancel != nil {
			entry.cancel()
		}
	} else if s.metrics != nil {
		s.metrics.TasksPending.Dec()
	}
	entry.task.State = models.TaskCanceled
	entry.task.FinishedAt = time.Now().UTC()
	entry.task.Outcome = models.TaskOutcome{ErrorKind: "canceled", Error: reason}
	if s.metrics != nil {
		s.metrics.TasksTotal.WithLabelValues(string(models.TaskCanceled)).Inc()
	}
}

// CancelSession cancels every non-terminal task of a torn-down session. No
// TaskDone triggers are produced: the session is going away.
func (s *Scheduler) CancelSession(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	for _, entry := range s.tasks {
		if entry.task.SessionID == sessionID && !entry.task.State.Terminal() {
			s.cancelLocked(entry, "session destroyed")
		}
	}
	started := s.admitNextLocked()
	s.mu.Unlock()
	s.dispatchStarts(started)
}

// Get returns a task snapshot.
func (s *Scheduler) Get(taskID string) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tasks[taskID]
	if !ok {
		return models.Task{}, false
	}
	return entry.task, true
}

// List returns snapshots of a session's tasks, ordered by creation time.
func (s *Scheduler) List(sessionID string) []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Task
	for _, entry := range s.tasks {
		if entry.task.SessionID == sessionID {
			out = append(out, entry.task)
		}
	}
	sortTasks(out)
	return out
}

// RunningCount reports the current number of Running tasks.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until every worker goroutine has returned. Used by shutdown and
// tests.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func sortTasks(tasks []models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
