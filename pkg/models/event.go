package models

import (
	"time"
)

// SessionEventType identifies the kind of session event.
type SessionEventType string

const (
	EventTriggerAccepted  SessionEventType = "trigger.accepted"
	EventTurnStarted      SessionEventType = "turn.started"
	EventTurnEnded        SessionEventType = "turn.ended"
	EventTurnFailure      SessionEventType = "turn.failure"
	EventAgentStream      SessionEventType = "agent.stream"
	EventAssistantOutput  SessionEventType = "assistant.output"
	EventTaskStateChanged SessionEventType = "task.state_changed"
	EventProfileRefreshed SessionEventType = "profile.refreshed"
)

// SessionEvent is the unified event model observed by subscribers.
//
// Events are ordered per session: Seq is strictly increasing within a session,
// and every event emitted during a turn carries that turn's TurnSeq. Ordering
// across sessions is unspecified.
type SessionEvent struct {
	SessionID string           `json:"session_id"`
	Seq       uint64           `json:"seq"`
	TurnSeq   uint64           `json:"turn_seq,omitempty"`
	Time      time.Time        `json:"time"`
	Type      SessionEventType `json:"type"`

	// Exactly one payload is non-nil for a given Type.
	TriggerAccepted  *TriggerAcceptedPayload  `json:"trigger_accepted,omitempty"`
	TurnStarted      *TurnStartedPayload      `json:"turn_started,omitempty"`
	TurnEnded        *TurnEndedPayload        `json:"turn_ended,omitempty"`
	TurnFailure      *TurnFailurePayload      `json:"turn_failure,omitempty"`
	Stream           *AgentStreamPayload      `json:"stream,omitempty"`
	Assistant        *AssistantOutputPayload  `json:"assistant,omitempty"`
	TaskChange       *TaskStateChangedPayload `json:"task_change,omitempty"`
	ProfileRefreshed *ProfileRefreshedPayload `json:"profile_refreshed,omitempty"`
}

// TriggerAcceptedPayload acknowledges an enqueued trigger.
type TriggerAcceptedPayload struct {
	Trigger    Trigger `json:"trigger"`
	QueueDepth int     `json:"queue_depth"`
}

// TurnStartedPayload announces a new turn and summarizes its snapshot.
type TurnStartedPayload struct {
	TriggerCount    int      `json:"trigger_count"`
	SnapshotSummary []string `json:"snapshot_summary"`
}

// TurnEndedPayload marks a successful commit.
type TurnEndedPayload struct {
	HistorySize int `json:"history_size"`
}

// TurnFailurePayload reports a terminal turn error. The turn's snapshot
// triggers were consumed but nothing was committed to history.
type TurnFailurePayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// AgentStreamPayload carries a streaming fragment from the model. Fragments
// are informational; only tool calls are actionable under the tool-only
// policy.
type AgentStreamPayload struct {
	Phase string `json:"phase,omitempty"`
	Delta string `json:"delta,omitempty"`
}

// AssistantOutputPayload is a finalized assistant fragment: either completed
// text or a tool-call record.
type AssistantOutputPayload struct {
	Text     string          `json:"text,omitempty"`
	ToolCall *ToolCallRecord `json:"tool_call,omitempty"`
}

// ToolCallRecord ties a model tool call to the task it spawned.
type ToolCallRecord struct {
	CallID   string `json:"call_id,omitempty"`
	TaskID   string `json:"task_id"`
	ToolName string `json:"tool_name"`
	Args     string `json:"args"`
}

// TaskStateChangedPayload carries a snapshot of the task after a transition.
type TaskStateChangedPayload struct {
	Task Task `json:"task"`
}

// ProfileRefreshedPayload reports which profile copies were replaced.
type ProfileRefreshedPayload struct {
	Scope RefreshScope `json:"scope"`
	// UserIDs lists the user copies that were refreshed.
	UserIDs []string `json:"user_ids,omitempty"`
	// AgentRefreshed reports whether the agent copy was replaced.
	AgentRefreshed bool `json:"agent_refreshed,omitempty"`
}
