package proctor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/itfiesta/escape-backend/internal/models"
	"github.com/itfiesta/escape-backend/internal/teams"
)

// ensureTimerState makes the in-memory record's timer fields match the
// canonical values for its current level, resetting them when the level
// number drifted, a field is missing, or the stored duration disagrees
// with the duration table. This self-heals after manual admin edits or a
// duration-table change. Returns true when a reset happened; the caller
// decides whether to persist it.
func (s *Service) ensureTimerState(team *models.Team) bool {
	level := team.CurrentLevel
	if level < 1 {
		level = 1
	}
	expected := s.cfg.LevelDuration(level)

	needsReset := team.LevelNumber == nil || *team.LevelNumber != level ||
		team.LevelStartedAt == nil ||
		team.LevelDurationSec == nil || *team.LevelDurationSec != expected

	if needsReset {
		now := s.clock.Now()
		team.LevelNumber = &level
		team.LevelStartedAt = &now
		team.LevelDurationSec = &expected
	}
	return needsReset
}

// hasTimedOut reports whether the current level's duration has elapsed.
// Missing timer fields mean false: a team with no timer is never
// force-advanced.
func (s *Service) hasTimedOut(team *models.Team) bool {
	if team.LevelStartedAt == nil || team.LevelDurationSec == nil || *team.LevelDurationSec <= 0 {
		return false
	}
	elapsed := s.clock.Now().Sub(*team.LevelStartedAt)
	return elapsed >= time.Duration(*team.LevelDurationSec)*time.Second
}

// advanceOnTimeout moves the team past its expired level: either onto the
// next level with a fresh timer, or to completed with the exam end
// stamped once. The write is conditioned on the level we read, so when
// two requests race over the same expiry only one advances; the loser
// re-reads and returns the winner's result, which makes the operation
// idempotent from the caller's point of view.
func (s *Service) advanceOnTimeout(ctx context.Context, team *models.Team) (*models.Team, error) {
	now := s.clock.Now()
	next := team.CurrentLevel + 1
	completed := next > s.cfg.MaxLevel

	updated, err := s.store.AdvanceLevel(ctx, team.TeamID, team.CurrentLevel, teams.AdvanceUpdate{
		Points:          0,
		Completed:       completed,
		NextDurationSec: s.cfg.LevelDuration(next),
		Now:             now,
	})
	if errors.Is(err, teams.ErrLevelMismatch) {
		return s.store.GetByTeamID(ctx, team.TeamID)
	}
	if err != nil {
		return nil, err
	}
	if completed {
		if err := s.presence.Forget(ctx, team.TeamID); err != nil {
			return nil, err
		}
	}
	s.logger.Info("level timed out",
		zap.String("team_id", team.TeamID),
		zap.Int("from_level", team.CurrentLevel),
		zap.Int("to_level", updated.CurrentLevel),
		zap.Bool("completed", completed),
	)
	return updated, nil
}
