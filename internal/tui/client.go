// Package tui implements the terminal client: it seeds sample profiles,
// creates a session, subscribes to its events, and turns typed lines into
// triggers.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AcrylicShrimp/fathom/pkg/models"
	"github.com/AcrylicShrimp/fathom/proto"
)

// Demo identities the client upserts on startup (replacing any existing
// records with these ids) and binds its session to.
const (
	demoAgentID = "agent-demo"
	demoUserID  = "user-demo"
)

// Client wraps the RPC connection and the event stream feeding the model.
type Client struct {
	conn   *grpc.ClientConn
	rpc    proto.RuntimeServiceClient
	events chan models.SessionEvent
	closed chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// Run connects to the server and drives the TUI until the user quits.
func Run(serverAddr string) error {
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", serverAddr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &Client{
		conn:   conn,
		rpc:    proto.NewRuntimeServiceClient(conn),
		events: make(chan models.SessionEvent, 64),
		closed: make(chan error, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	sessionID, err := client.bootstrap(ctx)
	if err != nil {
		return err
	}

	program := tea.NewProgram(NewModel(client, sessionID), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// bootstrap upserts the demo profiles, creates a session over them, and
// starts the event stream.
func (c *Client) bootstrap(ctx context.Context) (string, error) {
	if _, err := c.rpc.UpsertProfile(ctx, &proto.UpsertProfileRequest{Profile: proto.Profile{
		Agent: &models.AgentProfile{
			ID:   demoAgentID,
			Name: "Demo Agent",
			Fields: map[string]string{
				models.AgentFieldAgents:   "Act on triggers with tool calls.",
				models.AgentFieldSoul:     "Curious and concise.",
				models.AgentFieldIdentity: "The resident demo agent.",
			},
		},
	}}); err != nil {
		return "", fmt.Errorf("upsert agent profile: %w", err)
	}
	if _, err := c.rpc.UpsertProfile(ctx, &proto.UpsertProfileRequest{Profile: proto.Profile{
		User: &models.UserProfile{
			ID:     demoUserID,
			Name:   "Demo User",
			Fields: map[string]string{models.UserFieldUser: "Evaluating the runtime."},
		},
	}}); err != nil {
		return "", fmt.Errorf("upsert user profile: %w", err)
	}

	created, err := c.rpc.CreateSession(ctx, &proto.CreateSessionRequest{
		AgentID: demoAgentID,
		UserIDs: []string{demoUserID},
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	sessionID := created.Session.SessionID

	stream, err := c.rpc.SubscribeEvents(c.ctx, &proto.SubscribeEventsRequest{SessionID: sessionID})
	if err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	go c.pump(stream)
	return sessionID, nil
}

// pump copies stream events into the model's channel.
func (c *Client) pump(stream proto.RuntimeService_SubscribeEventsClient) {
	for {
		event, err := stream.Recv()
		if err != nil {
			c.closed <- err
			close(c.events)
			return
		}
		select {
		case c.events <- *event:
		case <-c.ctx.Done():
			return
		}
	}
}

// waitForEvent yields the next session event as a bubbletea message.
func (c *Client) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-c.events
		if !ok {
			return streamClosedMsg{err: <-c.closed}
		}
		return eventMsg{event: event}
	}
}

func (c *Client) sendUserMessage(sessionID, text string) tea.Cmd {
	return c.enqueue(sessionID, models.Trigger{
		Kind:        models.TriggerUserMessage,
		UserMessage: &models.UserMessagePayload{UserID: demoUserID, Text: text},
	})
}

func (c *Client) sendHeartbeat(sessionID string) tea.Cmd {
	return c.enqueue(sessionID, models.Trigger{Kind: models.TriggerHeartbeat})
}

func (c *Client) sendRefresh(sessionID string) tea.Cmd {
	return c.enqueue(sessionID, models.Trigger{
		Kind:    models.TriggerRefreshProfile,
		Refresh: &models.RefreshProfilePayload{Scope: models.RefreshAll},
	})
}

func (c *Client) enqueue(sessionID string, trigger models.Trigger) tea.Cmd {
	return func() tea.Msg {
		_, err := c.rpc.EnqueueTrigger(c.ctx, &proto.EnqueueTriggerRequest{
			SessionID: sessionID,
			Trigger:   trigger,
		})
		return sendResultMsg{err: err}
	}
}

// requestTasks lists the session's tasks and reports them through the
// status line.
func (c *Client) requestTasks(sessionID string) tea.Cmd {
	return func() tea.Msg {
		resp, err := c.rpc.ListTasks(c.ctx, &proto.ListTasksRequest{SessionID: sessionID})
		if err != nil {
			return sendResultMsg{err: err}
		}
		if len(resp.Tasks) == 0 {
			return statusMsg{text: "no tasks"}
		}
		parts := make([]string, 0, len(resp.Tasks))
		for _, task := range resp.Tasks {
			parts = append(parts, fmt.Sprintf("%s=%s", task.ID, task.State))
		}
		return statusMsg{text: "tasks: " + strings.Join(parts, " ")}
	}
}
