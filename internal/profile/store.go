// Package profile implements the canonical in-memory profile store.
//
// Reads return deep copies so callers can snapshot without holding locks;
// upserts replace whole records atomically. Sessions never observe a write
// until they process a RefreshProfile trigger.
package profile

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// ErrUnknownProfile is returned when a profile id is not registered.
var ErrUnknownProfile = errors.New("unknown profile")

// Managed pseudo-fields addressable through managed:// in addition to the
// markdown documents.
const (
	FieldMemory      = "memory"
	FieldPreferences = "preferences"
)

// Store maps agent and user ids to their canonical profile records.
type Store struct {
	mu     sync.RWMutex
	agents map[string]*models.AgentProfile
	users  map[string]*models.UserProfile
}

// NewStore creates an empty profile store.
func NewStore() *Store {
	return &Store{
		agents: make(map[string]*models.AgentProfile),
		users:  make(map[string]*models.UserProfile),
	}
}

// UpsertAgent atomically replaces the record for profile.ID.
func (s *Store) UpsertAgent(profile *models.AgentProfile) (*models.AgentProfile, error) {
	if profile == nil || profile.ID == "" {
		return nil, fmt.Errorf("agent profile requires an id")
	}
	stored := profile.Clone()
	stored.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	s.agents[stored.ID] = stored
	s.mu.Unlock()
	return stored.Clone(), nil
}

// UpsertUser atomically replaces the record for profile.ID.
func (s *Store) UpsertUser(profile *models.UserProfile) (*models.UserProfile, error) {
	if profile == nil || profile.ID == "" {
		return nil, fmt.Errorf("user profile requires an id")
	}
	stored := profile.Clone()
	stored.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	s.users[stored.ID] = stored
	s.mu.Unlock()
	return stored.Clone(), nil
}

// GetAgent returns a copy of the agent record.
func (s *Store) GetAgent(id string) (*models.AgentProfile, error) {
	s.mu.RLock()
	p, ok := s.agents[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", id, ErrUnknownProfile)
	}
	return p.Clone(), nil
}

// GetUser returns a copy of the user record.
func (s *Store) GetUser(id string) (*models.UserProfile, error) {
	s.mu.RLock()
	p, ok := s.users[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("user %q: %w", id, ErrUnknownProfile)
	}
	return p.Clone(), nil
}

// ReadAgentField returns the current canonical value of a managed agent field.
func (s *Store) ReadAgentField(id, field string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.agents[id]
	if !ok {
		return "", fmt.Errorf("agent %q: %w", id, ErrUnknownProfile)
	}
	return readAgentField(p, field)
}

// WriteAgentField updates a managed agent field in place, atomically.
func (s *Store) WriteAgentField(id, field, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %q: %w", id, ErrUnknownProfile)
	}
	next := p.Clone()
	if err := writeAgentField(next, field, content); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	s.agents[id] = next
	return nil
}

// ReadUserField returns the current canonical value of a managed user field.
func (s *Store) ReadUserField(id, field string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[id]
	if !ok {
		return "", fmt.Errorf("user %q: %w", id, ErrUnknownProfile)
	}
	return readUserField(p, field)
}

// WriteUserField updates a managed user field in place, atomically.
func (s *Store) WriteUserField(id, field, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %q: %w", id, ErrUnknownProfile)
	}
	next := p.Clone()
	if err := writeUserField(next, field, content); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	s.users[id] = next
	return nil
}

// AppendAgentMemory appends a note to the agent's long-term memory.
func (s *Store) AppendAgentMemory(id, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %q: %w", id, ErrUnknownProfile)
	}
	next := p.Clone()
	next.Memory = appendNote(next.Memory, note)
	next.UpdatedAt = time.Now().UTC()
	s.agents[id] = next
	return nil
}

// AppendUserMemory appends a note to the user's long-term memory.
func (s *Store) AppendUserMemory(id, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %q: %w", id, ErrUnknownProfile)
	}
	next := p.Clone()
	next.Memory = appendNote(next.Memory, note)
	next.UpdatedAt = time.Now().UTC()
	s.users[id] = next
	return nil
}

// AgentFieldNames lists the managed:// addressable agent fields.
func AgentFieldNames() []string {
	return append(append([]string{}, models.AgentFields...), FieldMemory)
}

// UserFieldNames lists the managed:// addressable user fields.
func UserFieldNames() []string {
	return append(append([]string{}, models.UserFields...), FieldMemory, FieldPreferences)
}

func appendNote(memory, note string) string {
	if memory == "" {
		return note
	}
	return memory + "\n" + note
}

func readAgentField(p *models.AgentProfile, field string) (string, error) {
	if field == FieldMemory {
		return p.Memory, nil
	}
	for _, known := range models.AgentFields {
		if field == known {
			return p.Fields[field], nil
		}
	}
	return "", fmt.Errorf("unknown agent field %q", field)
}

func writeAgentField(p *models.AgentProfile, field, content string) error {
	if field == FieldMemory {
		p.Memory = content
		return nil
	}
	for _, known := range models.AgentFields {
		if field == known {
			p.Fields[field] = content
			return nil
		}
	}
	return fmt.Errorf("unknown agent field %q", field)
}

func readUserField(p *models.UserProfile, field string) (string, error) {
	switch field {
	case FieldMemory:
		return p.Memory, nil
	case FieldPreferences:
		return p.Preferences, nil
	case models.UserFieldUser:
		return p.Fields[field], nil
	}
	return "", fmt.Errorf("unknown user field %q", field)
}

func writeUserField(p *models.UserProfile, field, content string) error {
	switch field {
	case FieldMemory:
		p.Memory = content
	case FieldPreferences:
		p.Preferences = content
	case models.UserFieldUser:
		p.Fields[field] = content
	default:
		return fmt.Errorf("unknown user field %q", field)
	}
	return nil
}
