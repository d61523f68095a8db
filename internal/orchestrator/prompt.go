package orchestrator

import (
	"fmt"
	"strings"

	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// Bundle is the immutable input for one turn's model invocation: the session's
// profile copies, a recent-history window, and the trigger snapshot. Its
// rendering is stable across retries of the same turn.
type Bundle struct {
	SessionID     string
	TurnSeq       uint64
	Agent         *models.AgentProfile
	Users         []*models.UserProfile
	RecentHistory []string
	Triggers      []models.Trigger
}

// BuildPrompt renders the bundle into the system prompt. The prompt steers
// the model toward tool calls; free-form text is tolerated but not
// actionable.
func BuildPrompt(b Bundle) string {
	var sb strings.Builder

	sb.WriteString("You are the session agent of a background runtime.\n")
	sb.WriteString("Respond with tool calls; they are dispatched as background jobs.\n")
	sb.WriteString("Plain text is shown to observers but performs no action.\n")
	sb.WriteString("If nothing needs doing, call schedule_heartbeat with a short delay.\n")
	sb.WriteString("Task results arrive later as task_done triggers.\n")
	sb.WriteString("Use fs_list/fs_read/fs_write/fs_replace for managed:// and fs:// paths.\n\n")

	sb.WriteString("## Session\n")
	fmt.Fprintf(&sb, "session_id: %s\nturn_seq: %d\n\n", b.SessionID, b.TurnSeq)

	sb.WriteString("## Agent Profile Copy\n")
	if b.Agent != nil {
		fmt.Fprintf(&sb, "id: %s\nname: %s\n", b.Agent.ID, b.Agent.Name)
		for _, field := range models.AgentFields {
			fmt.Fprintf(&sb, "%s:\n%s\n", field, b.Agent.Fields[field])
		}
		fmt.Fprintf(&sb, "memory:\n%s\n", b.Agent.Memory)
	}
	sb.WriteString("\n## Participant User Profiles\n")
	if len(b.Users) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, user := range b.Users {
		fmt.Fprintf(&sb, "- id: %s\n  name: %s\n", user.ID, user.Name)
		for _, field := range models.UserFields {
			fmt.Fprintf(&sb, "  %s:\n%s\n", field, user.Fields[field])
		}
		fmt.Fprintf(&sb, "  preferences: %s\n  memory:\n%s\n", user.Preferences, user.Memory)
	}

	sb.WriteString("\n## Recent History\n")
	if len(b.RecentHistory) == 0 {
		sb.WriteString("(empty)\n")
	}
	for _, line := range b.RecentHistory {
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Trigger Snapshot For This Turn\n")
	for _, trigger := range b.Triggers {
		sb.WriteString("- ")
		sb.WriteString(trigger.Summary())
		sb.WriteString("\n")
	}

	return sb.String()
}
