package proctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/itfiesta/escape-backend/internal/models"
	"github.com/itfiesta/escape-backend/internal/teams"
)

// Adjudicate decides whether a client-reported hidden interval earns a
// penalty. The reported duration is advisory input from an untrusted
// client; the heartbeat-gap check in StartSession is the authoritative
// backstop for clients that simply never call this endpoint.
//
// The checks run in order, first match wins:
//  1. unknown team -> error
//  2. terminal team -> ignored (finished teams are never penalized)
//  3. within debounce window -> ignored (redundant signals for one event)
//  4. below min threshold -> ignored (focus flicker, permission dialogs)
//  5. above max threshold -> ignored (device sleep, not a switch)
//  6. otherwise -> one atomic penalty
func (s *Service) Adjudicate(ctx context.Context, teamID string, hiddenMs int64) (*Adjudication, error) {
	team, err := s.store.GetByTeamID(ctx, teamID)
	if err != nil {
		return nil, err
	}

	if team.Terminal() || team.Status == models.StatusNotStarted {
		return &Adjudication{
			Action:       ActionIgnored,
			Reason:       ReasonTeamNotActive,
			CurrentScore: team.NetScore(),
		}, nil
	}

	now := s.clock.Now()
	if team.LastViolationAt != nil {
		sinceLast := now.Sub(*team.LastViolationAt)
		if sinceLast < s.cfg.DebounceWindow {
			return &Adjudication{
				Action:          ActionIgnored,
				Reason:          ReasonRapidConsecutive,
				TimeSinceLastMs: sinceLast.Milliseconds(),
				CurrentScore:    team.NetScore(),
			}, nil
		}
	}

	// hiddenMs == 0 means the client could not measure the absence (e.g.
	// a fullscreen-exit signal); those are not filtered as brief.
	if hiddenMs > 0 && hiddenMs < s.cfg.MinHiddenMs {
		return &Adjudication{
			Action:       ActionIgnored,
			Reason:       ReasonBriefHidden,
			HiddenMs:     hiddenMs,
			CurrentScore: team.NetScore(),
		}, nil
	}
	if hiddenMs > s.cfg.MaxHiddenMs {
		return &Adjudication{
			Action:       ActionIgnored,
			Reason:       ReasonSystemSleep,
			HiddenMs:     hiddenMs,
			CurrentScore: team.NetScore(),
		}, nil
	}

	updated, err := s.recordViolation(ctx, teamID, models.ViolationTabSwitch, hiddenMs)
	if errors.Is(err, teams.ErrPenaltyDebounced) {
		// A concurrent report won the conditional write between our read
		// and this update.
		return &Adjudication{
			Action:       ActionIgnored,
			Reason:       ReasonRapidConsecutive,
			CurrentScore: team.NetScore(),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return &Adjudication{
		Action: ActionPenalty,
		Message: fmt.Sprintf(
			"TAB/APP SWITCH DETECTED\n\nPenalty Applied: -%d marks\nTotal Tab/App Switches: %d\nCurrent Score: %d",
			s.cfg.PenaltyPoints, updated.TabSwitchCount, updated.NetScore()),
		ScoreDeducted:  s.cfg.PenaltyPoints,
		Penalty:        updated.Penalty,
		CurrentScore:   updated.NetScore(),
		TabSwitchCount: updated.TabSwitchCount,
	}, nil
}
