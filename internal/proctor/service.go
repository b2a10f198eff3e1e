// Package proctor implements the session-integrity core: the per-team
// level/timer state machine, the tab-switch adjudicator and the
// reconnect-gap check. All timer expiry is evaluated lazily against
// wall-clock time when a request arrives; there is no background sweep.
package proctor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/itfiesta/escape-backend/config"
	"github.com/itfiesta/escape-backend/internal/models"
	"github.com/itfiesta/escape-backend/internal/teams"
)

// Store is the slice of the teams repository the core depends on. Writes
// that can race (AdvanceLevel, ApplyPenalty) are atomic conditional
// updates; see internal/teams.
type Store interface {
	GetByTeamID(ctx context.Context, teamID string) (*models.Team, error)
	Exists(ctx context.Context, teamID string) (bool, error)
	BeginExam(ctx context.Context, teamID string, now time.Time) error
	SaveTimerState(ctx context.Context, teamID string, level int, startedAt time.Time, durationSec int) error
	AdvanceLevel(ctx context.Context, teamID string, fromLevel int, adv teams.AdvanceUpdate) (*models.Team, error)
	ApplyPenalty(ctx context.Context, teamID string, points int, notSince, now time.Time) (*models.Team, error)
	InsertViolation(ctx context.Context, v *models.Violation) error
	FinalizeExam(ctx context.Context, teamID string, now time.Time) error
	ClearTransitionGrace(ctx context.Context, teamID string, now time.Time) error
	Leaderboard(ctx context.Context, eventType string) ([]models.LeaderboardRow, error)
}

// Presence is the heartbeat evidence store. Forget is called once a
// team's exam is finalized; finished teams leave no evidence behind.
type Presence interface {
	Touch(ctx context.Context, teamID string, t time.Time) error
	LastSeen(ctx context.Context, teamID string) (t time.Time, ok bool, err error)
	Forget(ctx context.Context, teamID string) error
}

// Broadcaster pushes events to connected admin dashboards. Optional.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Service composes the proctoring components over a Store.
type Service struct {
	store    Store
	presence Presence
	clock    clockwork.Clock
	cfg      config.ProctorConfig
	monitor  Broadcaster
	logger   *zap.Logger
}

// NewService creates the proctoring service. monitor may be nil.
func NewService(store Store, presence Presence, clock clockwork.Clock, cfg config.ProctorConfig, monitor Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		presence: presence,
		clock:    clock,
		cfg:      cfg,
		monitor:  monitor,
		logger:   logger,
	}
}

// Heartbeat records that the team's page is currently foregrounded.
// No penalty logic here; gaps between heartbeats are judged by the
// orchestrator on the next session start.
func (s *Service) Heartbeat(ctx context.Context, teamID string) error {
	ok, err := s.store.Exists(ctx, teamID)
	if err != nil {
		return fmt.Errorf("heartbeat lookup: %w", err)
	}
	if !ok {
		return teams.ErrTeamNotFound
	}
	return s.presence.Touch(ctx, teamID, s.clock.Now())
}

// Leaderboard returns public standings.
func (s *Service) Leaderboard(ctx context.Context) ([]models.LeaderboardRow, error) {
	return s.store.Leaderboard(ctx, "escape")
}

// TeamInfo returns the public view of one team.
func (s *Service) TeamInfo(ctx context.Context, teamID string) (*TeamInfo, error) {
	team, err := s.store.GetByTeamID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return &TeamInfo{
		TeamID:         team.TeamID,
		TeamName:       team.TeamName,
		CurrentLevel:   team.CurrentLevel,
		Score:          team.NetScore(),
		Penalty:        team.Penalty,
		TabSwitchCount: team.TabSwitchCount,
		Status:         team.Status,
		Completed:      team.Status == models.StatusCompleted || team.CurrentLevel > s.cfg.MaxLevel,
	}, nil
}

// recordViolation applies the shared penalty primitive, writes the audit
// row and notifies the monitor feed. The conditional write re-checks the
// debounce window against the persisted last_violation_at, so concurrent
// duplicate calls produce exactly one penalty.
func (s *Service) recordViolation(ctx context.Context, teamID, source string, hiddenMs int64) (*models.Team, error) {
	now := s.clock.Now()
	team, err := s.store.ApplyPenalty(ctx, teamID, s.cfg.PenaltyPoints, now.Add(-s.cfg.DebounceWindow), now)
	if err != nil {
		return nil, err
	}

	v := &models.Violation{
		ID:        uuid.New(),
		TeamID:    teamID,
		Source:    source,
		HiddenMs:  hiddenMs,
		Points:    s.cfg.PenaltyPoints,
		CreatedAt: now,
	}
	if err := s.store.InsertViolation(ctx, v); err != nil {
		// Audit row is best-effort; the penalty itself already committed.
		s.logger.Error("insert violation", zap.Error(err), zap.String("team_id", teamID))
	}

	s.logger.Info("penalty applied",
		zap.String("team_id", teamID),
		zap.String("source", source),
		zap.Int64("hidden_ms", hiddenMs),
		zap.Int("tab_switch_count", team.TabSwitchCount),
		zap.Int("score", team.Score),
		zap.Int("penalty", team.Penalty),
	)

	if s.monitor != nil {
		s.monitor.Broadcast("violation", ViolationEvent{
			TeamID:         team.TeamID,
			TeamName:       team.TeamName,
			Source:         source,
			HiddenMs:       hiddenMs,
			Points:         s.cfg.PenaltyPoints,
			TabSwitchCount: team.TabSwitchCount,
			Score:          team.NetScore(),
			At:             now,
		})
	}
	return team, nil
}

const leaderboardPath = "/escape/leaderboard.html"

func levelPath(level int) string {
	return fmt.Sprintf("/escape/levels/level%d.html", level)
}
