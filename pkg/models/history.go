package models

import (
	"fmt"
	"time"
)

// HistoryEntryType identifies the kind of history entry.
type HistoryEntryType string

const (
	HistoryTrigger         HistoryEntryType = "trigger"
	HistoryAssistantOutput HistoryEntryType = "assistant"
	HistoryToolResult      HistoryEntryType = "tool_result"
)

// HistoryEntry is one element of a session's append-only history. Entries are
// appended as a group, atomically, at turn commit; a failed turn appends
// nothing.
type HistoryEntry struct {
	Type HistoryEntryType `json:"type"`
	Time time.Time        `json:"time"`

	Trigger    *Trigger                `json:"trigger,omitempty"`
	Assistant  *AssistantOutputPayload `json:"assistant,omitempty"`
	ToolResult *TaskDonePayload        `json:"tool_result,omitempty"`
}

// Render returns the single-line form used by the prompt's recent-history
// window.
func (e *HistoryEntry) Render() string {
	switch e.Type {
	case HistoryTrigger:
		return "trigger " + e.Trigger.Summary()
	case HistoryAssistantOutput:
		if e.Assistant.ToolCall != nil {
			tc := e.Assistant.ToolCall
			return fmt.Sprintf("assistant tool_call name=%s task=%s args=%s", tc.ToolName, tc.TaskID, tc.Args)
		}
		return "assistant " + e.Assistant.Text
	case HistoryToolResult:
		return fmt.Sprintf("tool_result task=%s state=%s %s",
			e.ToolResult.TaskID, e.ToolResult.State, e.ToolResult.Outcome.Summary())
	default:
		return "unknown"
	}
}
