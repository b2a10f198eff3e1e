package proctor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/itfiesta/escape-backend/internal/models"
	"github.com/itfiesta/escape-backend/internal/teams"
)

// StartSession is the entry point a level page calls on every load or
// reload. It is idempotent: it returns the team's true current level,
// applies any overdue timeout advance, applies any reconnect-gap penalty
// and refreshes the heartbeat. Each check short-circuits the rest.
func (s *Service) StartSession(ctx context.Context, teamID string) (*SessionStatus, error) {
	team, err := s.store.GetByTeamID(ctx, teamID)
	if err != nil {
		return nil, err
	}

	if team.Status == models.StatusEliminated || team.Status == models.StatusDisqualified {
		return &SessionStatus{Status: SessionBlocked, Message: "Team eliminated"}, nil
	}

	// Completed teams always get the leaderboard redirect, checked before
	// the batch gate so they are never parked on the waiting page.
	if team.Status == models.StatusCompleted || team.CurrentLevel > s.cfg.MaxLevel {
		return s.completedStatus(ctx, team)
	}

	// Waiting teams must be turned away before any timer or penalty logic
	// runs; a cohort that has not been released cannot lose points.
	if team.Batch == nil {
		return &SessionStatus{
			Status:   SessionWaiting,
			Message:  "Your batch hasn't started yet. Please wait for admin announcement.",
			Redirect: leaderboardPath,
		}, nil
	}

	now := s.clock.Now()
	if team.ExamStartTime == nil {
		if err := s.store.BeginExam(ctx, teamID, now); err != nil {
			return nil, fmt.Errorf("begin exam: %w", err)
		}
		if err := s.presence.Touch(ctx, teamID, now); err != nil {
			return nil, err
		}
		team.ExamStartTime = &now
		team.Status = models.StatusActive
	}

	// Keep the server-side level timer authoritative across reloads.
	timerChanged := s.ensureTimerState(team)
	if s.hasTimedOut(team) {
		team, err = s.advanceOnTimeout(ctx, team)
		if err != nil {
			return nil, err
		}
		if team.Status == models.StatusCompleted || team.CurrentLevel > s.cfg.MaxLevel {
			return s.completedStatus(ctx, team)
		}
	} else if timerChanged {
		if err := s.store.SaveTimerState(ctx, teamID, *team.LevelNumber, *team.LevelStartedAt, *team.LevelDurationSec); err != nil {
			return nil, fmt.Errorf("save timer state: %w", err)
		}
	}

	reconnect, err := s.checkReconnectGap(ctx, team)
	if err != nil {
		return nil, err
	}
	if reconnect != nil {
		// Counters changed under us; re-read so the response is exact.
		team, err = s.store.GetByTeamID(ctx, teamID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.presence.Touch(ctx, teamID, now); err != nil {
		return nil, err
	}
	if team.TransitionGraceUntil != nil && !team.TransitionGraceUntil.After(now) {
		if err := s.store.ClearTransitionGrace(ctx, teamID, now); err != nil {
			return nil, err
		}
	}

	return &SessionStatus{
		Status:           SessionActive,
		CurrentLevel:     team.CurrentLevel,
		TeamID:           team.TeamID,
		TeamName:         team.TeamName,
		Score:            team.NetScore(),
		Penalty:          team.Penalty,
		Batch:            team.Batch,
		ReconnectPenalty: reconnect,
	}, nil
}

// checkReconnectGap penalizes a silent heartbeat trail: the defense
// against closing the tab or app entirely, which never fires the
// client-side visibility report. The gap is not penalized when the team
// is inside its transition grace window or when a violation was already
// recorded after the last heartbeat (the client-side report for the same
// absence already landed).
func (s *Service) checkReconnectGap(ctx context.Context, team *models.Team) (*ReconnectPenalty, error) {
	if team.Status != models.StatusActive {
		return nil, nil
	}
	lastSeen, ok, err := s.presence.LastSeen(ctx, team.TeamID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	now := s.clock.Now()
	inactive := now.Sub(lastSeen)
	if inactive < s.cfg.InactivityThreshold {
		return nil, nil
	}
	if team.TransitionGraceUntil != nil && team.TransitionGraceUntil.After(now) {
		return nil, nil
	}
	if team.LastViolationAt != nil && team.LastViolationAt.After(lastSeen) {
		return nil, nil
	}

	updated, err := s.recordViolation(ctx, team.TeamID, models.ViolationHeartbeatGap, inactive.Milliseconds())
	if errors.Is(err, teams.ErrPenaltyDebounced) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Warn("reconnect gap penalized",
		zap.String("team_id", team.TeamID),
		zap.Duration("inactive", inactive),
	)
	return &ReconnectPenalty{
		Applied:         true,
		InactiveSeconds: int64(inactive.Seconds()),
		Message: fmt.Sprintf(
			"APP/BROWSER EXIT DETECTED\n\nPenalty Applied: -%d marks\nTotal Tab/App Switches: %d\nCurrent Score: %d",
			s.cfg.PenaltyPoints, updated.TabSwitchCount, updated.NetScore()),
	}, nil
}

// completedStatus finalizes the exam end stamp (exactly once) and builds
// the completed response.
func (s *Service) completedStatus(ctx context.Context, team *models.Team) (*SessionStatus, error) {
	if team.ExamEndTime == nil && team.ExamStartTime != nil {
		if err := s.store.FinalizeExam(ctx, team.TeamID, s.clock.Now()); err != nil {
			return nil, fmt.Errorf("finalize exam: %w", err)
		}
		if err := s.presence.Forget(ctx, team.TeamID); err != nil {
			return nil, err
		}
	}
	return &SessionStatus{
		Status:   SessionCompleted,
		Message:  "All levels completed!",
		Redirect: leaderboardPath,
		Score:    team.NetScore(),
		Penalty:  team.Penalty,
	}, nil
}
