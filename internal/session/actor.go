package session

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AcrylicShrimp/fathom/internal/observability"
	"github.com/AcrylicShrimp/fathom/internal/orchestrator"
	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// loop is the actor body. It alternates between waiting on the inbox and
// draining the trigger queue one turn at a time.
func (s *Session) loop(ctx context.Context) {
	defer func() {
		s.opts.Scheduler.CancelSession(s.id)
		s.opts.Bus.Close()
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.inbox:
			s.handle(cmd)
		}

		for len(s.queue) > 0 && ctx.Err() == nil {
			s.runTurn(ctx)
		}
	}
}

// handle processes one inbox command outside of a turn.
func (s *Session) handle(cmd command) {
	switch {
	case cmd.enqueue != nil:
		s.acceptTrigger(cmd.enqueue)
	case cmd.task != nil:
		s.applyTaskUpdate(cmd.task)
	case cmd.summary != nil:
		cmd.summary <- s.summarize()
	}
}

// acceptTrigger appends to the queue and acknowledges synchronously.
func (s *Session) acceptTrigger(cmd *enqueueCmd) {
	s.queue = append(s.queue, cmd.trigger)
	seq := s.emit(models.SessionEvent{
		Type: models.EventTriggerAccepted,
		TriggerAccepted: &models.TriggerAcceptedPayload{
			Trigger:    cmd.trigger,
			QueueDepth: len(s.queue),
		},
	})
	cmd.reply <- enqueueReply{eventSeq: seq, queueDepth: len(s.queue)}
}

// applyTaskUpdate publishes a task transition and, for terminal states,
// enqueues the TaskDone trigger. Both land in arrival order because they
// share one inbox message.
func (s *Session) applyTaskUpdate(cmd *taskCmd) {
	s.emit(models.SessionEvent{
		Type:       models.EventTaskStateChanged,
		TaskChange: &models.TaskStateChangedPayload{Task: cmd.task},
	})
	if !cmd.done {
		return
	}
	trigger := models.Trigger{
		ID:        models.NewTriggerID(),
		Kind:      models.TriggerTaskDone,
		CreatedAt: time.Now().UTC(),
		TaskDone: &models.TaskDonePayload{
			TaskID:  cmd.task.ID,
			State:   cmd.task.State,
			Outcome: cmd.task.Outcome,
		},
	}
	s.queue = append(s.queue, trigger)
	s.emit(models.SessionEvent{
		Type: models.EventTriggerAccepted,
		TriggerAccepted: &models.TriggerAcceptedPayload{
			Trigger:    trigger,
			QueueDepth: len(s.queue),
		},
	})
}

// runTurn executes one full turn: snapshot cut, refresh handling, model
// invocation with immediate tool dispatch, and the atomic history commit.
func (s *Session) runTurn(ctx context.Context) {
	// Snapshot cut: later arrivals go to the next turn.
	snapshot := s.queue
	s.queue = nil
	s.turnSeq++
	s.turnState = models.TurnRunning

	tracer := observability.Tracer()
	ctx, span := tracer.Start(ctx, "session.turn", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.Int64("turn.seq", int64(s.turnSeq)),
		attribute.Int("trigger.count", len(snapshot)),
	))
	defer span.End()

	var agentTriggers []models.Trigger
	var assistantOutputs []models.AssistantOutputPayload

	// Refresh handling precedes everything else in the turn.
	for _, trigger := range snapshot {
		if trigger.Kind == models.TriggerRefreshProfile {
			s.applyRefresh(trigger.Refresh)
		} else {
			agentTriggers = append(agentTriggers, trigger)
		}
	}

	summary := make([]string, 0, len(snapshot))
	for _, trigger := range snapshot {
		summary = append(summary, trigger.Summary())
	}
	s.emit(models.SessionEvent{
		Type: models.EventTurnStarted,
		TurnStarted: &models.TurnStartedPayload{
			TriggerCount:    len(snapshot),
			SnapshotSummary: summary,
		},
	})

	callModel := len(agentTriggers) > 0 || (len(snapshot) > 0 && s.opts.Config.ModelCallOnRefreshOnly)
	if callModel {
		ok := s.streamModel(ctx, agentTriggers, &assistantOutputs)
		if !ok {
			// Turn failure: nothing is committed, the snapshot is dropped
			// (or re-queued ahead of later arrivals when configured).
			s.turnState = models.TurnIdle
			if s.opts.Config.RequeueOnFailure {
				s.queue = append(append([]models.Trigger{}, snapshot...), s.queue...)
			}
			if s.opts.Metrics != nil {
				s.opts.Metrics.TurnsTotal.WithLabelValues("failure").Inc()
			}
			return
		}
	} else if len(agentTriggers) == 0 && len(snapshot) > 0 {
		assistantOutputs = append(assistantOutputs, models.AssistantOutputPayload{
			Text: "profile copies refreshed",
		})
		s.emit(models.SessionEvent{
			Type:      models.EventAssistantOutput,
			Assistant: &assistantOutputs[len(assistantOutputs)-1],
		})
	}

	// Commit: the snapshot's triggers, then the assistant outputs, appended
	// as one group.
	s.turnState = models.TurnFinalizingCommit
	s.commit(snapshot, assistantOutputs)
	s.emit(models.SessionEvent{
		Type:     models.EventTurnEnded,
		TurnEnded: &models.TurnEndedPayload{HistorySize: len(s.history)},
	})
	s.turnState = models.TurnIdle
	if s.opts.Metrics != nil {
		s.opts.Metrics.TurnsTotal.WithLabelValues("success").Inc()
	}
}

// streamModel drives one model invocation, dispatching tool calls as tasks
// the moment they arrive and servicing the inbox between events. Returns
// false when the turn failed terminally.
func (s *Session) streamModel(ctx context.Context, agentTriggers []models.Trigger, outputs *[]models.AssistantOutputPayload) bool {
	turnCtx, cancel := context.WithTimeout(ctx, s.opts.TurnTimeout)
	defer cancel()

	bundle := orchestrator.Bundle{
		SessionID:     s.id,
		TurnSeq:       s.turnSeq,
		Agent:         s.agentCopy,
		Users:         s.orderedUserCopies(),
		RecentHistory: s.recentHistory(),
		Triggers:      agentTriggers,
	}
	stream := s.opts.Model.Run(turnCtx, bundle)

	for {
		select {
		case cmd := <-s.inbox:
			// The actor stays responsive mid-turn; new triggers go to the
			// next turn's queue.
			s.handle(cmd)

		case event, ok := <-stream:
			if !ok {
				// Defensive: a well-behaved runner ends with Done or Error.
				return true
			}
			switch event.Type {
			case orchestrator.EventNote:
				s.emit(models.SessionEvent{
					Type:   models.EventAgentStream,
					Stream: &models.AgentStreamPayload{Phase: event.Note},
				})
			case orchestrator.EventTextFragment:
				s.emit(models.SessionEvent{
					Type:   models.EventAgentStream,
					Stream: &models.AgentStreamPayload{Delta: event.Delta},
				})
			case orchestrator.EventToolCall:
				s.dispatchToolCall(event.ToolCall, outputs)
			case orchestrator.EventDone:
				if event.Text != "" {
					output := models.AssistantOutputPayload{Text: event.Text}
					*outputs = append(*outputs, output)
					s.emit(models.SessionEvent{
						Type:      models.EventAssistantOutput,
						Assistant: &output,
					})
				}
				return true
			case orchestrator.EventError:
				s.emit(models.SessionEvent{
					Type: models.EventTurnFailure,
					TurnFailure: &models.TurnFailurePayload{
						Kind:    string(event.Err.Kind),
						Message: event.Err.Message,
					},
				})
				return false
			}

		case <-ctx.Done():
			// Session destroyed mid-turn: stop quietly, no further events.
			cancel()
			for range stream {
			}
			return false
		}
	}
}

// dispatchToolCall turns a model tool call into a background task
// immediately; dispatch is not delayed until end-of-stream.
func (s *Session) dispatchToolCall(call *orchestrator.ToolCall, outputs *[]models.AssistantOutputPayload) {
	task := models.Task{
		ID:        models.NewTaskID(),
		SessionID: s.id,
		TurnSeq:   s.turnSeq,
		ToolName:  call.Name,
		ToolArgs:  call.Args,
	}
	admitted := s.opts.Scheduler.Submit(task)
	s.emit(models.SessionEvent{
		Type:       models.EventTaskStateChanged,
		TaskChange: &models.TaskStateChangedPayload{Task: admitted},
	})

	output := models.AssistantOutputPayload{
		ToolCall: &models.ToolCallRecord{
			CallID:   call.CallID,
			TaskID:   admitted.ID,
			ToolName: call.Name,
			Args:     string(call.Args),
		},
	}
	*outputs = append(*outputs, output)
	s.emit(models.SessionEvent{
		Type:      models.EventAssistantOutput,
		Assistant: &output,
	})
}

// applyRefresh replaces the relevant profile copies from the canonical store.
func (s *Session) applyRefresh(refresh *models.RefreshProfilePayload) {
	payload := &models.ProfileRefreshedPayload{Scope: refresh.Scope}

	if refresh.Scope == models.RefreshAgent || refresh.Scope == models.RefreshAll {
		if agent, err := s.opts.Profiles.GetAgent(s.agentID); err == nil {
			s.agentCopy = agent
			payload.AgentRefreshed = true
		} else {
			s.opts.Logger.Warn("agent profile refresh failed", "session_id", s.id, "error", err)
		}
	}

	switch {
	case refresh.Scope == models.RefreshUser:
		if _, participant := s.userCopies[refresh.UserID]; participant {
			if user, err := s.opts.Profiles.GetUser(refresh.UserID); err == nil {
				s.userCopies[refresh.UserID] = user
				payload.UserIDs = append(payload.UserIDs, refresh.UserID)
			}
		}
	case refresh.Scope == models.RefreshAll:
		for _, userID := range s.userIDs {
			if user, err := s.opts.Profiles.GetUser(userID); err == nil {
				s.userCopies[userID] = user
				payload.UserIDs = append(payload.UserIDs, userID)
			}
		}
	}

	s.emit(models.SessionEvent{
		Type:             models.EventProfileRefreshed,
		ProfileRefreshed: payload,
	})
}

// commit appends the turn's records to history as one group: trigger records
// in snapshot order, then assistant outputs in stream order. TaskDone
// triggers are recorded as tool results.
func (s *Session) commit(snapshot []models.Trigger, outputs []models.AssistantOutputPayload) {
	now := time.Now().UTC()
	entries := make([]models.HistoryEntry, 0, len(snapshot)+len(outputs))
	for _, trigger := range snapshot {
		if trigger.Kind == models.TriggerTaskDone {
			entries = append(entries, models.HistoryEntry{
				Type:       models.HistoryToolResult,
				Time:       now,
				ToolResult: trigger.TaskDone,
			})
			continue
		}
		trigger := trigger
		entries = append(entries, models.HistoryEntry{
			Type:    models.HistoryTrigger,
			Time:    now,
			Trigger: &trigger,
		})
	}
	for _, output := range outputs {
		output := output
		entries = append(entries, models.HistoryEntry{
			Type:      models.HistoryAssistantOutput,
			Time:      now,
			Assistant: &output,
		})
	}
	s.history = append(s.history, entries...)
}

// recentHistory renders the configured window of history entries.
func (s *Session) recentHistory() []string {
	start := 0
	if len(s.history) > s.opts.Config.HistoryWindow {
		start = len(s.history) - s.opts.Config.HistoryWindow
	}
	lines := make([]string, 0, len(s.history)-start)
	for i := start; i < len(s.history); i++ {
		lines = append(lines, s.history[i].Render())
	}
	return lines
}

// orderedUserCopies returns the participant copies in stable id order.
func (s *Session) orderedUserCopies() []*models.UserProfile {
	out := make([]*models.UserProfile, 0, len(s.userIDs))
	for _, userID := range s.userIDs {
		if profileCopy, ok := s.userCopies[userID]; ok {
			out = append(out, profileCopy)
		}
	}
	return out
}

func (s *Session) summarize() models.SessionSummary {
	pending, running := 0, 0
	for _, task := range s.opts.Scheduler.List(s.id) {
		switch task.State {
		case models.TaskPending:
			pending++
		case models.TaskRunning:
			running++
		}
	}
	return models.SessionSummary{
		SessionID:          s.id,
		AgentID:            s.agentID,
		ParticipantUserIDs: append([]string{}, s.userIDs...),
		CreatedAt:          s.createdAt,
		TurnSeq:            s.turnSeq,
		TurnState:          s.turnState,
		QueuedTriggers:     len(s.queue),
		HistorySize:        len(s.history),
		PendingTasks:       pending,
		RunningTasks:       running,
	}
}

// emit stamps the current turn sequence and publishes on the session bus.
func (s *Session) emit(event models.SessionEvent) uint64 {
	event.TurnSeq = s.turnSeq
	seq := s.opts.Bus.Publish(event)
	if s.opts.Metrics != nil {
		s.opts.Metrics.EventsPublished.Inc()
	}
	return seq
}
