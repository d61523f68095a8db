package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// ScheduleHeartbeatTool schedules a delayed Heartbeat trigger for the calling
// session. The tool-only prompt offers it as the explicit no-op action: the
// agent wakes itself up later instead of emitting text.
type ScheduleHeartbeatTool struct{}

func (t *ScheduleHeartbeatTool) Name() string { return "schedule_heartbeat" }

func (t *ScheduleHeartbeatTool) Description() string {
	return "Schedule a delayed heartbeat trigger for the current session."
}

func (t *ScheduleHeartbeatTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"delay_ms": {"type": "integer", "minimum": 0, "description": "Delay before the heartbeat fires, in milliseconds."}
		},
		"required": ["delay_ms"],
		"additionalProperties": false
	}`)
}

func (t *ScheduleHeartbeatTool) Execute(ctx context.Context, inv Invocation, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		DelayMs int64 `json:"delay_ms"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, Errorf(ErrInvalidArgs, "decode arguments: %v", err)
	}
	if inv.Enqueue == nil {
		return nil, Errorf(ErrToolExecFailed, "session enqueue is not available")
	}

	delay := time.Duration(input.DelayMs) * time.Millisecond
	trigger := models.Trigger{
		ID:        models.NewTriggerID(),
		Kind:      models.TriggerHeartbeat,
		CreatedAt: time.Now().UTC(),
	}
	if delay == 0 {
		if err := inv.Enqueue(trigger); err != nil {
			return nil, Errorf(ErrToolExecFailed, "enqueue heartbeat: %v", err)
		}
	} else {
		enqueue := inv.Enqueue
		// The session may be gone by the time the timer fires; the enqueue
		// error is intentionally dropped.
		time.AfterFunc(delay, func() { _ = enqueue(trigger) })
	}

	return mustJSON(map[string]any{
		"scheduled":  true,
		"delay_ms":   input.DelayMs,
		"trigger_id": trigger.ID,
	}), nil
}
