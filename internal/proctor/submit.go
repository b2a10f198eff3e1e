package proctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/itfiesta/escape-backend/internal/models"
	"github.com/itfiesta/escape-backend/internal/teams"
)

// Submit credits a finished level and advances the team. The score credit
// and level advance are one conditional write keyed on the submitted
// level, so a stale or double-clicked submit mutates nothing and comes
// back as a LevelMismatchError carrying the expected level.
//
// A transition grace window is opened and the heartbeat refreshed so the
// navigation gap to the next level's page is not misread as a tab switch.
func (s *Service) Submit(ctx context.Context, teamID string, level, score int) (*SubmitResult, error) {
	team, err := s.store.GetByTeamID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if level != team.CurrentLevel || team.Terminal() {
		return nil, &LevelMismatchError{Expected: team.CurrentLevel}
	}

	res, err := s.advanceAfterLevel(ctx, teamID, level, score)
	if err != nil {
		return nil, err
	}
	s.logger.Info("level submitted",
		zap.String("team_id", teamID),
		zap.Int("level", level),
		zap.Int("score", score),
		zap.Int("next_level", res.NextLevel),
		zap.Bool("completed", res.Completed),
	)
	res.LevelScore = score
	return res, nil
}

// SubmitFinal handles the final level's sandbox-style submission: the
// answer is a sentinel token produced only after the client-side
// automated checks pass, validated here against the configured value.
func (s *Service) SubmitFinal(ctx context.Context, teamID string, level int, answer string) (*FinalSubmitResult, error) {
	team, err := s.store.GetByTeamID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if level != team.CurrentLevel || team.Terminal() {
		return nil, &LevelMismatchError{Expected: team.CurrentLevel}
	}

	if level != s.cfg.MaxLevel || answer != s.cfg.FinalLevelSentinel {
		return &FinalSubmitResult{Result: "incorrect", Message: "Answer not accepted"}, nil
	}

	res, err := s.advanceAfterLevel(ctx, teamID, level, s.cfg.FinalLevelBonus)
	if err != nil {
		return nil, err
	}
	return &FinalSubmitResult{
		Result:     "correct",
		LevelScore: s.cfg.FinalLevelBonus,
		NextLevel:  res.NextLevel,
	}, nil
}

// TimeoutAdvance is the explicit catch-up call for a client whose local
// countdown hit zero before its next poll. It is idempotent with respect
// to the lazy timeout advance: if the server already moved the team on,
// the response just points at the current level. Eliminated and
// disqualified teams come back as a mismatch so a still-open level page
// resyncs instead of forcing an advance.
func (s *Service) TimeoutAdvance(ctx context.Context, teamID string, level int) (*SubmitResult, error) {
	team, err := s.store.GetByTeamID(ctx, teamID)
	if err != nil {
		return nil, err
	}

	if team.CurrentLevel > s.cfg.MaxLevel || team.Status == models.StatusCompleted {
		return &SubmitResult{
			Success:   true,
			Completed: true,
			NextLevel: s.cfg.MaxLevel,
			Redirect:  leaderboardPath,
		}, nil
	}
	if team.Terminal() {
		return nil, &LevelMismatchError{Expected: team.CurrentLevel}
	}

	// Already advanced past the requested level: just point the client at
	// the server-truth page.
	if team.CurrentLevel > level {
		return &SubmitResult{
			Success:         true,
			AlreadyAdvanced: true,
			NextLevel:       team.CurrentLevel,
			Redirect:        levelPath(team.CurrentLevel),
		}, nil
	}
	if team.CurrentLevel < level {
		return &SubmitResult{
			Success:   true,
			NextLevel: team.CurrentLevel,
			Redirect:  levelPath(team.CurrentLevel),
		}, nil
	}

	res, err := s.advanceAfterLevel(ctx, teamID, level, 0)
	if err != nil {
		var mismatch *LevelMismatchError
		if errors.As(err, &mismatch) {
			// Lost the race to a concurrent advance; report server truth
			// from the single re-read advanceAfterLevel already did. When
			// the level did not move (the team went terminal under us) the
			// mismatch propagates rather than retrying.
			if mismatch.Expected > s.cfg.MaxLevel {
				return &SubmitResult{
					Success:   true,
					Completed: true,
					NextLevel: s.cfg.MaxLevel,
					Redirect:  leaderboardPath,
				}, nil
			}
			if mismatch.Expected > level {
				return &SubmitResult{
					Success:         true,
					AlreadyAdvanced: true,
					NextLevel:       mismatch.Expected,
					Redirect:        levelPath(mismatch.Expected),
				}, nil
			}
			return nil, err
		}
		return nil, err
	}
	res.TimeoutAdvanced = true
	return res, nil
}

// advanceAfterLevel performs the shared atomic advance for submits and
// timeout catch-ups, opening the transition grace window and refreshing
// the heartbeat in the process.
func (s *Service) advanceAfterLevel(ctx context.Context, teamID string, fromLevel, points int) (*SubmitResult, error) {
	now := s.clock.Now()
	next := fromLevel + 1
	completed := next > s.cfg.MaxLevel
	grace := now.Add(s.cfg.TransitionGrace)

	_, err := s.store.AdvanceLevel(ctx, teamID, fromLevel, teams.AdvanceUpdate{
		Points:          points,
		Completed:       completed,
		NextDurationSec: s.cfg.LevelDuration(next),
		GraceUntil:      &grace,
		Now:             now,
	})
	if errors.Is(err, teams.ErrLevelMismatch) {
		team, gerr := s.store.GetByTeamID(ctx, teamID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &LevelMismatchError{Expected: team.CurrentLevel}
	}
	if err != nil {
		return nil, fmt.Errorf("advance level: %w", err)
	}

	if completed {
		if err := s.presence.Forget(ctx, teamID); err != nil {
			return nil, err
		}
	} else if err := s.presence.Touch(ctx, teamID, now); err != nil {
		return nil, err
	}

	res := &SubmitResult{Success: true, Completed: completed}
	if completed {
		res.NextLevel = s.cfg.MaxLevel
		res.Redirect = leaderboardPath
	} else {
		res.NextLevel = next
		res.Redirect = levelPath(next)
	}
	return res, nil
}

// LevelInfo returns the authoritative timer state for a level page's
// countdown, performing any overdue lazy advance as a side effect so the
// response always reflects server truth.
func (s *Service) LevelInfo(ctx context.Context, level int, teamID string) (*LevelInfo, error) {
	now := s.clock.Now()

	// Teamless fallback: static duration for the requested level.
	if teamID == "" {
		return &LevelInfo{
			Level:     level,
			Duration:  s.cfg.LevelDuration(level),
			StartTime: now,
			ServerNow: now.UnixMilli(),
		}, nil
	}

	team, err := s.store.GetByTeamID(ctx, teamID)
	if err != nil {
		return nil, err
	}

	if team.CurrentLevel > s.cfg.MaxLevel || team.Status == models.StatusCompleted {
		return s.completedLevelInfo(now), nil
	}

	timerChanged := s.ensureTimerState(team)
	if s.hasTimedOut(team) {
		team, err = s.advanceOnTimeout(ctx, team)
		if err != nil {
			return nil, err
		}
		if team.CurrentLevel > s.cfg.MaxLevel || team.Status == models.StatusCompleted {
			return s.completedLevelInfo(now), nil
		}
	} else if timerChanged {
		if err := s.store.SaveTimerState(ctx, teamID, *team.LevelNumber, *team.LevelStartedAt, *team.LevelDurationSec); err != nil {
			return nil, fmt.Errorf("save timer state: %w", err)
		}
	}

	info := &LevelInfo{
		Level:     team.CurrentLevel,
		Duration:  s.cfg.LevelDuration(team.CurrentLevel),
		StartTime: now,
		ServerNow: now.UnixMilli(),
	}
	if team.LevelStartedAt != nil {
		info.StartTime = *team.LevelStartedAt
	}
	if team.CurrentLevel != level {
		info.Redirect = levelPath(team.CurrentLevel)
	}
	return info, nil
}

func (s *Service) completedLevelInfo(now time.Time) *LevelInfo {
	return &LevelInfo{
		Level:     s.cfg.MaxLevel,
		Completed: true,
		Duration:  0,
		StartTime: now,
		Redirect:  leaderboardPath,
		ServerNow: now.UnixMilli(),
	}
}
