// Package runtime implements the process-wide facade: the session registry,
// trigger routing, and profile passthrough. All session state lives behind
// each session's actor; the facade only routes.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/AcrylicShrimp/fathom/internal/config"
	"github.com/AcrylicShrimp/fathom/internal/events"
	"github.com/AcrylicShrimp/fathom/internal/observability"
	"github.com/AcrylicShrimp/fathom/internal/orchestrator"
	"github.com/AcrylicShrimp/fathom/internal/profile"
	"github.com/AcrylicShrimp/fathom/internal/scheduler"
	"github.com/AcrylicShrimp/fathom/internal/session"
	"github.com/AcrylicShrimp/fathom/internal/tools"
	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// ErrUnknownSession is returned when a session id is not registered.
var ErrUnknownSession = errors.New("unknown session")

// ErrUnknownTask is returned when a task id does not belong to the session.
var ErrUnknownTask = errors.New("unknown task")

// Options wires the runtime's collaborators. Model is injectable for tests;
// when nil, an OpenAI orchestrator is built from the config.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Model   session.ModelRunner
}

// Runtime is the registry of live sessions plus the shared stores.
type Runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	profiles *profile.Store
	registry *tools.Registry
	sched    *scheduler.Scheduler
	model    session.ModelRunner

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	session *session.Session
	bus     *events.Bus
	agentID string
}

// New builds the runtime. The tool registry and scheduler are created here;
// sessions are added through CreateSession.
func New(opts Options) (*Runtime, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	registry, err := tools.DefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}
	if opts.Model == nil {
		opts.Model, err = orchestrator.New(opts.Config.Model, registry, opts.Logger, opts.Metrics)
		if err != nil {
			return nil, err
		}
	}

	r := &Runtime{
		cfg:      opts.Config,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		profiles: profile.NewStore(),
		registry: registry,
		model:    opts.Model,
		sessions: make(map[string]*sessionEntry),
	}
	r.sched = scheduler.New(scheduler.Options{
		Parallelism: opts.Config.Tasks.Parallelism,
		Executor:    r.executeTask,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})
	return r, nil
}

// Profiles exposes the canonical profile store (RPC passthrough).
func (r *Runtime) Profiles() *profile.Store { return r.profiles }

// Tools exposes the static tool registry.
func (r *Runtime) Tools() *tools.Registry { return r.registry }

// Scheduler exposes the task scheduler for inspection endpoints.
func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.sched }

// CreateSession snapshots the named profiles into a new session and starts
// its actor loop.
func (r *Runtime) CreateSession(agentID string, userIDs []string) (models.SessionSummary, error) {
	agentCopy, err := r.profiles.GetAgent(agentID)
	if err != nil {
		return models.SessionSummary{}, err
	}
	userCopies := make(map[string]*models.UserProfile, len(userIDs))
	for _, userID := range dedup(userIDs) {
		userCopy, err := r.profiles.GetUser(userID)
		if err != nil {
			return models.SessionSummary{}, err
		}
		userCopies[userID] = userCopy
	}

	id := session.NewSessionID()
	bus := events.NewBus(id, r.cfg.Events.Retention, r.cfg.Events.SubscriberBuffer)
	sess := session.New(id, agentID, agentCopy, userCopies, session.Options{
		Config:      r.cfg.Session,
		Logger:      r.logger.With("session_id", id),
		Metrics:     r.metrics,
		Profiles:    r.profiles,
		Scheduler:   r.sched,
		Model:       r.model,
		Bus:         bus,
		TurnTimeout: r.cfg.Model.TurnTimeout,
	})

	r.mu.Lock()
	r.sessions[id] = &sessionEntry{session: sess, bus: bus, agentID: agentID}
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.SessionsActive.Inc()
	}
	r.logger.Info("session created", "session_id", id, "agent_id", agentID, "users", len(userCopies))

	return sess.Summary()
}

// DestroySession tears a session down: in-flight model call and tasks are
// canceled, the event log drains to subscribers, then the registration goes
// away.
func (r *Runtime) DestroySession(sessionID string) error {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	entry.session.Destroy()
	if r.metrics != nil {
		r.metrics.SessionsActive.Dec()
	}
	r.logger.Info("session destroyed", "session_id", sessionID)
	return nil
}

// EnqueueTrigger appends a trigger to the session's queue and returns the
// sequence of the TriggerAccepted event plus the queue depth.
func (r *Runtime) EnqueueTrigger(sessionID string, trigger models.Trigger) (uint64, int, error) {
	entry, err := r.get(sessionID)
	if err != nil {
		return 0, 0, err
	}
	return entry.session.Enqueue(trigger)
}

// Subscribe attaches an event subscriber; fromSeq > 0 replays backlog.
func (r *Runtime) Subscribe(sessionID string, fromSeq uint64) (*events.Subscription, error) {
	entry, err := r.get(sessionID)
	if err != nil {
		return nil, err
	}
	return entry.bus.Subscribe(fromSeq)
}

// GetSession returns a session's current summary.
func (r *Runtime) GetSession(sessionID string) (models.SessionSummary, error) {
	entry, err := r.get(sessionID)
	if err != nil {
		return models.SessionSummary{}, err
	}
	return entry.session.Summary()
}

// ListSessions summarizes every live session, ordered by id.
func (r *Runtime) ListSessions() []models.SessionSummary {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, entry := range r.sessions {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	summaries := make([]models.SessionSummary, 0, len(entries))
	for _, entry := range entries {
		if summary, err := entry.session.Summary(); err == nil {
			summaries = append(summaries, summary)
		}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].SessionID < summaries[j].SessionID })
	return summaries
}

// SessionsForAgent lists live session ids bound to an agent (cron routing).
func (r *Runtime) SessionsForAgent(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, entry := range r.sessions {
		if entry.agentID == agentID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// SessionIDs lists every live session id.
func (r *Runtime) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ListTasks returns the session's task snapshots.
func (r *Runtime) ListTasks(sessionID string) ([]models.Task, error) {
	if _, err := r.get(sessionID); err != nil {
		return nil, err
	}
	return r.sched.List(sessionID), nil
}

// CancelTask cancels one of the session's tasks on explicit request. The
// boolean reports whether the cancel took effect; it is false when the task
// was already terminal.
func (r *Runtime) CancelTask(sessionID, taskID string) (models.Task, bool, error) {
	if _, err := r.get(sessionID); err != nil {
		return models.Task{}, false, err
	}
	task, ok := r.sched.Get(taskID)
	if !ok || task.SessionID != sessionID {
		return models.Task{}, false, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	canceled, applied := r.sched.Cancel(taskID)
	if !applied {
		return task, false, nil
	}
	return canceled, true, nil
}

// Shutdown destroys every session and waits for task workers to drain.
func (r *Runtime) Shutdown(ctx context.Context) error {
	for _, id := range r.SessionIDs() {
		_ = r.DestroySession(id)
	}
	done := make(chan struct{})
	go func() {
		r.sched.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) get(sessionID string) (*sessionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return entry, nil
}

// executeTask is the scheduler's executor: it resolves the handler through
// the static registry and maps failures onto the task error taxonomy.
func (r *Runtime) executeTask(ctx context.Context, task models.Task) models.TaskOutcome {
	inv := tools.Invocation{
		SessionID:     task.SessionID,
		WorkspaceRoot: r.cfg.Workspace.Root,
		Profiles:      r.profiles,
		Enqueue: func(trigger models.Trigger) error {
			entry, err := r.get(task.SessionID)
			if err != nil {
				return err
			}
			return entry.session.EnqueueAsync(trigger)
		},
	}

	result, err := r.registry.Execute(ctx, inv, task.ToolName, task.ToolArgs)
	if err != nil {
		return models.TaskOutcome{
			ErrorKind: string(tools.KindOf(err)),
			Error:     err.Error(),
		}
	}
	return models.TaskOutcome{Success: true, Result: result}
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
