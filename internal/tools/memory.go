package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/AcrylicShrimp/fathom/internal/profile"
)

// MemoryAppendTool appends a durable note to agent or user long-term memory
// through the canonical profile store. The session observes the write only
// after a RefreshProfile trigger.
type MemoryAppendTool struct{}

func (t *MemoryAppendTool) Name() string { return "memory_append" }

func (t *MemoryAppendTool) Description() string {
	return "Append a durable note to agent or user long-term memory."
}

func (t *MemoryAppendTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"target": {"type": "string", "enum": ["agent", "user"], "description": "Which profile kind to append to."},
			"target_id": {"type": "string", "minLength": 1, "description": "Profile id."},
			"note": {"type": "string", "minLength": 1, "description": "Note to append."}
		},
		"required": ["target", "target_id", "note"],
		"additionalProperties": false
	}`)
}

func (t *MemoryAppendTool) Execute(ctx context.Context, inv Invocation, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Target   string `json:"target"`
		TargetID string `json:"target_id"`
		Note     string `json:"note"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, Errorf(ErrInvalidArgs, "decode arguments: %v", err)
	}

	var err error
	if input.Target == "agent" {
		err = inv.Profiles.AppendAgentMemory(input.TargetID, input.Note)
	} else {
		err = inv.Profiles.AppendUserMemory(input.TargetID, input.Note)
	}
	if err != nil {
		if errors.Is(err, profile.ErrUnknownProfile) {
			return nil, Errorf(ErrNotFound, "%v", err)
		}
		return nil, Errorf(ErrToolExecFailed, "%v", err)
	}
	return mustJSON(map[string]any{
		"target":    input.Target,
		"target_id": input.TargetID,
		"appended":  len(input.Note),
	}), nil
}
