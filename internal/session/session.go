// Package session implements the per-session actor and its turn engine.
//
// The actor is a single-consumer cooperative loop: it owns all of the
// session's mutable state and every outside mutation arrives as a command on
// its inbox. While a turn streams, the actor keeps servicing the inbox
// between model events, so enqueues are acknowledged promptly and task
// notifications never block the scheduler; they simply land in the next
// turn's queue.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AcrylicShrimp/fathom/internal/config"
	"github.com/AcrylicShrimp/fathom/internal/events"
	"github.com/AcrylicShrimp/fathom/internal/observability"
	"github.com/AcrylicShrimp/fathom/internal/orchestrator"
	"github.com/AcrylicShrimp/fathom/internal/profile"
	"github.com/AcrylicShrimp/fathom/internal/scheduler"
	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// ErrSessionClosed is returned for operations on a destroyed session.
var ErrSessionClosed = errors.New("session closed")

// ModelRunner is the orchestrator contract the actor consumes. Faked in
// tests.
type ModelRunner interface {
	Run(ctx context.Context, bundle orchestrator.Bundle) <-chan orchestrator.Event
}

// Options wires a session's collaborators.
type Options struct {
	Config    config.SessionConfig
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Profiles  *profile.Store
	Scheduler *scheduler.Scheduler
	Model     ModelRunner
	Bus       *events.Bus
	// TurnTimeout is the per-turn deadline for the model call.
	TurnTimeout time.Duration
}

// Session is one live conversational unit, processed by a single actor
// goroutine.
type Session struct {
	id        string
	agentID   string
	userIDs   []string
	createdAt time.Time

	opts   Options
	inbox  chan command
	cancel context.CancelFunc
	done   chan struct{}

	// Actor-owned state; touched only by the actor goroutine.
	agentCopy  *models.AgentProfile
	userCopies map[string]*models.UserProfile
	queue      []models.Trigger
	history    []models.HistoryEntry
	turnSeq    uint64
	turnState  models.TurnState
}

type command struct {
	enqueue *enqueueCmd
	task    *taskCmd
	summary chan models.SessionSummary
}

type enqueueCmd struct {
	trigger models.Trigger
	reply   chan enqueueReply
}

type enqueueReply struct {
	eventSeq   uint64
	queueDepth int
}

type taskCmd struct {
	task models.Task
	done bool
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "session-" + uuid.NewString()
}

// New snapshots the given profiles into a session and starts its actor.
func New(id, agentID string, agentCopy *models.AgentProfile, userCopies map[string]*models.UserProfile, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 2 * time.Minute
	}
	if opts.Config.InboxBuffer <= 0 {
		opts.Config.InboxBuffer = 128
	}
	if opts.Config.HistoryWindow <= 0 {
		opts.Config.HistoryWindow = 80
	}

	userIDs := make([]string, 0, len(userCopies))
	for userID := range userCopies {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		agentID:    agentID,
		userIDs:    userIDs,
		createdAt:  time.Now().UTC(),
		opts:       opts,
		inbox:      make(chan command, opts.Config.InboxBuffer),
		cancel:     cancel,
		done:       make(chan struct{}),
		agentCopy:  agentCopy,
		userCopies: userCopies,
		turnState:  models.TurnIdle,
	}

	// Task transitions come back through the inbox: the notification and the
	// TaskDone trigger it implies are observed in order. A notification may
	// arrive mid-turn, but its TaskDone trigger always joins the queue for a
	// later turn, never the snapshot of the turn that spawned the task.
	opts.Scheduler.Bind(id, s.notifyTask)

	go s.loop(ctx)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Enqueue appends a trigger to the session's queue. It returns the sequence
// of the TriggerAccepted event and the post-append queue depth.
func (s *Session) Enqueue(trigger models.Trigger) (uint64, int, error) {
	if err := trigger.Validate(); err != nil {
		return 0, 0, err
	}
	if trigger.ID == "" {
		trigger.ID = models.NewTriggerID()
	}
	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	cmd := command{enqueue: &enqueueCmd{trigger: trigger, reply: make(chan enqueueReply, 1)}}
	select {
	case s.inbox <- cmd:
	case <-s.done:
		return 0, 0, ErrSessionClosed
	}
	select {
	case reply := <-cmd.enqueue.reply:
		return reply.eventSeq, reply.queueDepth, nil
	case <-s.done:
		return 0, 0, ErrSessionClosed
	}
}

// EnqueueAsync is Enqueue for callers that cannot block on the reply, such
// as delayed heartbeat timers.
func (s *Session) EnqueueAsync(trigger models.Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	if trigger.ID == "" {
		trigger.ID = models.NewTriggerID()
	}
	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	cmd := command{enqueue: &enqueueCmd{trigger: trigger, reply: make(chan enqueueReply, 1)}}
	select {
	case s.inbox <- cmd:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Summary returns a point-in-time snapshot of the session's state.
func (s *Session) Summary() (models.SessionSummary, error) {
	cmd := command{summary: make(chan models.SessionSummary, 1)}
	select {
	case s.inbox <- cmd:
	case <-s.done:
		return models.SessionSummary{}, ErrSessionClosed
	}
	select {
	case summary := <-cmd.summary:
		return summary, nil
	case <-s.done:
		return models.SessionSummary{}, ErrSessionClosed
	}
}

// Destroy tears the session down: the in-flight model call and all of the
// session's tasks are canceled, the event log is drained to subscribers, and
// no further events are emitted.
func (s *Session) Destroy() {
	s.cancel()
	<-s.done
}

// Done reports actor termination.
func (s *Session) Done() <-chan struct{} { return s.done }

// notifyTask is the scheduler's sink; it runs on scheduler goroutines.
func (s *Session) notifyTask(task models.Task, done bool) {
	select {
	case s.inbox <- command{task: &taskCmd{task: task, done: done}}:
	case <-s.done:
	}
}
