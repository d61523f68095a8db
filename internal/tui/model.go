package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AcrylicShrimp/fathom/pkg/models"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	eventStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	streamStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	taskStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	turnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
)

// eventMsg delivers one session event through the bubbletea loop.
type eventMsg struct {
	event models.SessionEvent
}

// streamClosedMsg reports the end of the event stream.
type streamClosedMsg struct {
	err error
}

// sendResultMsg reports the outcome of an asynchronous enqueue.
type sendResultMsg struct {
	err error
}

// statusMsg replaces the status line with informational text.
type statusMsg struct {
	text string
}

// Model is the terminal client: an event pane over an input line bound to
// one session.
type Model struct {
	client    *Client
	sessionID string

	viewport viewport.Model
	input    textinput.Model
	lines    []string
	status   string
	ready    bool
	quitting bool
}

// NewModel builds the initial model for a connected client.
func NewModel(client *Client, sessionID string) Model {
	input := textinput.New()
	input.Placeholder = "message the agent (ctrl+c quits, /heartbeat, /refresh, /tasks)"
	input.Focus()

	return Model{
		client:    client,
		sessionID: sessionID,
		input:     input,
		status:    "connected to session " + sessionID,
	}
}

// Init starts listening for session events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.client.waitForEvent())
}

// Update routes messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		inputHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - inputHeight
		}
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if text == "" {
				return m, nil
			}
			return m, m.submit(text)
		}

	case eventMsg:
		m.appendEvent(msg.event)
		m.refreshViewport()
		return m, m.client.waitForEvent()

	case streamClosedMsg:
		if msg.err != nil {
			m.status = errorStyle.Render("stream closed: " + msg.err.Error())
		} else {
			m.status = statusStyle.Render("stream closed")
		}
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			m.status = errorStyle.Render("send failed: " + msg.err.Error())
		}
		return m, nil

	case statusMsg:
		m.status = statusStyle.Render(msg.text)
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// View renders the event pane, the status line, and the input.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "connecting..."
	}
	return fmt.Sprintf("%s\n%s\n%s",
		m.viewport.View(),
		m.status,
		m.input.View(),
	)
}

func (m *Model) submit(text string) tea.Cmd {
	switch text {
	case "/quit":
		m.quitting = true
		return tea.Quit
	case "/heartbeat":
		m.status = statusStyle.Render("heartbeat enqueued")
		return m.client.sendHeartbeat(m.sessionID)
	case "/refresh":
		m.status = statusStyle.Render("profile refresh enqueued")
		return m.client.sendRefresh(m.sessionID)
	case "/tasks":
		return m.client.requestTasks(m.sessionID)
	default:
		m.status = statusStyle.Render("message sent")
		return m.client.sendUserMessage(m.sessionID, text)
	}
}

func (m *Model) appendEvent(event models.SessionEvent) {
	line := renderEvent(event)
	if line == "" {
		return
	}
	m.lines = append(m.lines, line)
	const maxLines = 2000
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func renderEvent(event models.SessionEvent) string {
	prefix := fmt.Sprintf("[%3d t%d] ", event.Seq, event.TurnSeq)
	switch event.Type {
	case models.EventTriggerAccepted:
		return prefix + eventStyle.Render("accepted "+event.TriggerAccepted.Trigger.Summary())
	case models.EventTurnStarted:
		return prefix + turnStyle.Render(fmt.Sprintf("turn started (%d trigger(s))", event.TurnStarted.TriggerCount))
	case models.EventTurnEnded:
		return prefix + turnStyle.Render(fmt.Sprintf("turn ended (history=%d)", event.TurnEnded.HistorySize))
	case models.EventTurnFailure:
		return prefix + errorStyle.Render(fmt.Sprintf("turn failed [%s] %s", event.TurnFailure.Kind, event.TurnFailure.Message))
	case models.EventAgentStream:
		if event.Stream.Delta != "" {
			return prefix + streamStyle.Render("… "+event.Stream.Delta)
		}
		return prefix + streamStyle.Render(event.Stream.Phase)
	case models.EventAssistantOutput:
		if event.Assistant.ToolCall != nil {
			tc := event.Assistant.ToolCall
			return prefix + taskStyle.Render(fmt.Sprintf("tool %s -> %s %s", tc.ToolName, tc.TaskID, tc.Args))
		}
		return prefix + eventStyle.Render("assistant: "+event.Assistant.Text)
	case models.EventTaskStateChanged:
		task := event.TaskChange.Task
		return prefix + taskStyle.Render(fmt.Sprintf("task %s %s (%s)", task.ID, task.State, task.ToolName))
	case models.EventProfileRefreshed:
		return prefix + eventStyle.Render(fmt.Sprintf("profiles refreshed scope=%s users=%v",
			event.ProfileRefreshed.Scope, event.ProfileRefreshed.UserIDs))
	default:
		return prefix + eventStyle.Render(string(event.Type))
	}
}
