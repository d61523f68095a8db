// Package models provides domain types for the Fathom session runtime.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TriggerKind identifies the kind of trigger.
type TriggerKind string

const (
	TriggerUserMessage    TriggerKind = "user_message"
	TriggerTaskDone       TriggerKind = "task_done"
	TriggerHeartbeat      TriggerKind = "heartbeat"
	TriggerCron           TriggerKind = "cron"
	TriggerRefreshProfile TriggerKind = "refresh_profile"
)

// RefreshScope selects which profile copies a RefreshProfile trigger replaces.
type RefreshScope string

const (
	RefreshAgent RefreshScope = "agent"
	RefreshUser  RefreshScope = "user"
	RefreshAll   RefreshScope = "all"
)

// Trigger is an input event delivered to a session. Triggers are appended to
// the session's queue and consumed exactly once when a turn snapshot includes
// them.
//
// Exactly one payload pointer is non-nil for kinds that carry one; Heartbeat
// has no payload.
type Trigger struct {
	ID        string      `json:"id"`
	Kind      TriggerKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`

	UserMessage *UserMessagePayload    `json:"user_message,omitempty"`
	TaskDone    *TaskDonePayload       `json:"task_done,omitempty"`
	Cron        *CronPayload           `json:"cron,omitempty"`
	Refresh     *RefreshProfilePayload `json:"refresh,omitempty"`
}

// UserMessagePayload carries a message from a participant user.
type UserMessagePayload struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// TaskDonePayload couples a completed background task back into its session.
type TaskDonePayload struct {
	TaskID  string      `json:"task_id"`
	State   TaskState   `json:"state"`
	Outcome TaskOutcome `json:"outcome"`
}

// CronPayload identifies the schedule rule that fired.
type CronPayload struct {
	RuleID string `json:"rule_id"`
}

// RefreshProfilePayload requests replacement of session-local profile copies
// at the next turn boundary.
type RefreshProfilePayload struct {
	Scope RefreshScope `json:"scope"`
	// UserID names the user when Scope is RefreshUser.
	UserID string `json:"user_id,omitempty"`
}

// NewTriggerID returns a fresh trigger identifier.
func NewTriggerID() string {
	return "trigger-" + uuid.NewString()
}

// Validate checks that the trigger kind and payload are consistent.
func (t *Trigger) Validate() error {
	switch t.Kind {
	case TriggerUserMessage:
		if t.UserMessage == nil || strings.TrimSpace(t.UserMessage.UserID) == "" {
			return fmt.Errorf("user_message trigger requires user_id")
		}
	case TriggerTaskDone:
		if t.TaskDone == nil || t.TaskDone.TaskID == "" {
			return fmt.Errorf("task_done trigger requires task_id")
		}
	case TriggerHeartbeat:
	case TriggerCron:
		if t.Cron == nil || strings.TrimSpace(t.Cron.RuleID) == "" {
			return fmt.Errorf("cron trigger requires rule_id")
		}
	case TriggerRefreshProfile:
		if t.Refresh == nil {
			return fmt.Errorf("refresh_profile trigger requires a scope")
		}
		switch t.Refresh.Scope {
		case RefreshAgent, RefreshAll:
		case RefreshUser:
			if strings.TrimSpace(t.Refresh.UserID) == "" {
				return fmt.Errorf("refresh_profile scope=user requires user_id")
			}
		default:
			return fmt.Errorf("unknown refresh scope %q", t.Refresh.Scope)
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	return nil
}

// Summary renders a single-line description used in turn summaries, history
// records, and the prompt bundle. The format is stable across retries of the
// same turn.
func (t *Trigger) Summary() string {
	switch t.Kind {
	case TriggerUserMessage:
		return fmt.Sprintf("user_message user=%s text=%s", t.UserMessage.UserID, t.UserMessage.Text)
	case TriggerTaskDone:
		return fmt.Sprintf("task_done task=%s state=%s result=%s",
			t.TaskDone.TaskID, t.TaskDone.State, t.TaskDone.Outcome.Summary())
	case TriggerHeartbeat:
		return "heartbeat"
	case TriggerCron:
		return "cron rule=" + t.Cron.RuleID
	case TriggerRefreshProfile:
		if t.Refresh.UserID != "" {
			return fmt.Sprintf("refresh_profile scope=%s user=%s", t.Refresh.Scope, t.Refresh.UserID)
		}
		return "refresh_profile scope=" + string(t.Refresh.Scope)
	default:
		return "unknown_trigger"
	}
}
