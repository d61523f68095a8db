// Package cron fires Cron triggers into live sessions from config-declared
// schedule rules.
package cron

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AcrylicShrimp/fathom/internal/config"
	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// Enqueuer is the runtime surface the source needs: session discovery and
// trigger delivery.
type Enqueuer interface {
	SessionIDs() []string
	SessionsForAgent(agentID string) []string
	EnqueueTrigger(sessionID string, trigger models.Trigger) (uint64, int, error)
}

// Source schedules the configured rules and posts Cron triggers when they
// fire. Rules with an agent_id target that agent's sessions; rules without
// one target every live session.
type Source struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New parses the rules and builds the schedule. Invalid expressions fail
// construction.
func New(rules []config.CronRule, enqueuer Enqueuer, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(cron.WithSeconds())

	for _, rule := range rules {
		rule := rule
		_, err := c.AddFunc(rule.Schedule, func() {
			fire(enqueuer, logger, rule)
		})
		if err != nil {
			return nil, fmt.Errorf("cron rule %s: invalid schedule %q: %w", rule.ID, rule.Schedule, err)
		}
	}

	return &Source{cron: c, logger: logger}, nil
}

// Start begins firing schedules.
func (s *Source) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for in-flight fires.
func (s *Source) Stop() {
	<-s.cron.Stop().Done()
}

func fire(enqueuer Enqueuer, logger *slog.Logger, rule config.CronRule) {
	var sessionIDs []string
	if rule.AgentID != "" {
		sessionIDs = enqueuer.SessionsForAgent(rule.AgentID)
	} else {
		sessionIDs = enqueuer.SessionIDs()
	}

	for _, sessionID := range sessionIDs {
		trigger := models.Trigger{
			ID:        models.NewTriggerID(),
			Kind:      models.TriggerCron,
			CreatedAt: time.Now().UTC(),
			Cron:      &models.CronPayload{RuleID: rule.ID},
		}
		if _, _, err := enqueuer.EnqueueTrigger(sessionID, trigger); err != nil {
			logger.Warn("cron trigger rejected", "rule_id", rule.ID, "session_id", sessionID, "error", err)
		}
	}
}
