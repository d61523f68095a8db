package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskState is the lifecycle state of a background tool job.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCanceled  TaskState = "canceled"
)

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// Task is a background job produced by a model tool call. Tasks belong to
// exactly one session and are mutated only by the scheduler.
type Task struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	// TurnSeq is the turn that spawned the task.
	TurnSeq  uint64          `json:"turn_seq"`
	ToolName string          `json:"tool_name"`
	ToolArgs json.RawMessage `json:"tool_args"`
	State    TaskState       `json:"state"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	// Outcome is set once the task reaches a terminal state.
	Outcome TaskOutcome `json:"outcome"`
}

// TaskOutcome is the structured result or error description of a task.
type TaskOutcome struct {
	Success bool `json:"success"`
	// Result holds the handler's JSON result on success.
	Result json.RawMessage `json:"result,omitempty"`
	// ErrorKind is a stable error code (tool_exec_failed, path_escape,
	// already_exists, not_found, ...) on failure.
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Summary renders the outcome for history and prompt rendering.
func (o TaskOutcome) Summary() string {
	if o.Success {
		if len(o.Result) > 0 {
			return string(o.Result)
		}
		return "ok"
	}
	if o.ErrorKind != "" {
		return "[" + o.ErrorKind + "] " + o.Error
	}
	return o.Error
}

// NewTaskID returns a fresh task identifier.
func NewTaskID() string {
	return "task-" + uuid.NewString()
}
