// Package proto defines the wire surface of the runtime service.
//
// The messages are hand-written Go structs carried over gRPC with a JSON
// codec (see codec.go) rather than generated protobuf code; the service
// descriptor in service.go is laid out the way protoc would emit it so a
// generated implementation can replace this package without touching
// callers.
package proto

import (
	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// ProfileKind selects a profile namespace in requests.
type ProfileKind string

const (
	ProfileKindAgent ProfileKind = "agent"
	ProfileKindUser  ProfileKind = "user"
)

// Profile wraps either an agent or a user profile; exactly one is set.
type Profile struct {
	Agent *models.AgentProfile `json:"agent,omitempty"`
	User  *models.UserProfile  `json:"user,omitempty"`
}

// UpsertProfileRequest replaces the canonical record for the profile's id.
type UpsertProfileRequest struct {
	Profile Profile `json:"profile"`
}

// UpsertProfileResponse acknowledges the upsert.
type UpsertProfileResponse struct {
	ID string `json:"id"`
}

// GetProfileRequest fetches a canonical profile. Kind disambiguates when the
// agent and user id spaces overlap; empty tries agent first.
type GetProfileRequest struct {
	ID   string      `json:"id"`
	Kind ProfileKind `json:"kind,omitempty"`
}

// GetProfileResponse carries the profile; a missing id is a NotFound status.
type GetProfileResponse struct {
	Profile Profile `json:"profile"`
}

// CreateSessionRequest snapshots the named profiles into a new session.
type CreateSessionRequest struct {
	AgentID string   `json:"agent_id"`
	UserIDs []string `json:"user_ids,omitempty"`
}

// CreateSessionResponse returns the new session's summary.
type CreateSessionResponse struct {
	Session models.SessionSummary `json:"session"`
}

// EnqueueTriggerRequest appends a trigger to a session's queue.
type EnqueueTriggerRequest struct {
	SessionID string         `json:"session_id"`
	Trigger   models.Trigger `json:"trigger"`
}

// EnqueueTriggerResponse acknowledges acceptance.
type EnqueueTriggerResponse struct {
	AcceptedEventSeq uint64 `json:"accepted_event_seq"`
	QueueDepth       int    `json:"queue_depth"`
	TriggerID        string `json:"trigger_id"`
}

// SubscribeEventsRequest opens an ordered event stream. FromEventSeq > 0
// replays retained backlog from that sequence.
type SubscribeEventsRequest struct {
	SessionID    string `json:"session_id"`
	FromEventSeq uint64 `json:"from_event_seq,omitempty"`
}

// ListSessionsRequest enumerates live sessions.
type ListSessionsRequest struct{}

// ListSessionsResponse carries the summaries ordered by session id.
type ListSessionsResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
}

// GetSessionRequest fetches one session's summary.
type GetSessionRequest struct {
	SessionID string `json:"session_id"`
}

// GetSessionResponse carries the summary.
type GetSessionResponse struct {
	Session models.SessionSummary `json:"session"`
}

// ListTasksRequest enumerates a session's tasks.
type ListTasksRequest struct {
	SessionID string `json:"session_id"`
}

// ListTasksResponse carries task snapshots ordered by creation.
type ListTasksResponse struct {
	Tasks []models.Task `json:"tasks"`
}

// CancelTaskRequest cancels one of a session's tasks.
type CancelTaskRequest struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id"`
}

// CancelTaskResponse reports whether the cancel took effect; Canceled is
// false when the task was already terminal.
type CancelTaskResponse struct {
	Canceled bool        `json:"canceled"`
	Task     models.Task `json:"task"`
}

// DestroySessionRequest tears a session down.
type DestroySessionRequest struct {
	SessionID string `json:"session_id"`
}

// DestroySessionResponse acknowledges the teardown.
type DestroySessionResponse struct{}
