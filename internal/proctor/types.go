package proctor

import (
	"fmt"
	"time"
)

// Session statuses returned by StartSession.
const (
	SessionActive    = "active"
	SessionBlocked   = "blocked"
	SessionCompleted = "completed"
	SessionWaiting   = "waiting"
)

// Adjudication actions and reasons.
const (
	ActionPenalty = "penalty"
	ActionIgnored = "ignored"

	ReasonRapidConsecutive = "rapid_consecutive_detection"
	ReasonBriefHidden      = "brief_hidden_state"
	ReasonSystemSleep      = "very_long_hidden_state_likely_system_sleep"
	ReasonTeamNotActive    = "team_not_active"
)

// SessionStatus is the orchestrator's answer to a level page load.
type SessionStatus struct {
	Status           string            `json:"status"`
	Message          string            `json:"message,omitempty"`
	Redirect         string            `json:"redirect,omitempty"`
	CurrentLevel     int               `json:"currentLevel,omitempty"`
	TeamID           string            `json:"teamId,omitempty"`
	TeamName         string            `json:"teamName,omitempty"`
	Score            int               `json:"score"`
	Penalty          int               `json:"penalty"`
	Batch            *int              `json:"batch,omitempty"`
	ReconnectPenalty *ReconnectPenalty `json:"reconnectPenalty,omitempty"`
}

// ReconnectPenalty reports a penalty applied because the heartbeat trail
// went silent (tab/app closed entirely) rather than because the client
// reported a visibility event.
type ReconnectPenalty struct {
	Applied         bool   `json:"applied"`
	InactiveSeconds int64  `json:"inactiveSeconds"`
	Message         string `json:"message"`
}

// Adjudication is the outcome of one tab-switch report. Ignored outcomes
// are valid decisions, not errors: the reason tells the client why no
// penalty was applied.
type Adjudication struct {
	Action          string `json:"action"`
	Reason          string `json:"reason,omitempty"`
	Message         string `json:"message,omitempty"`
	HiddenMs        int64  `json:"hiddenMs,omitempty"`
	TimeSinceLastMs int64  `json:"timeSinceLastMs,omitempty"`
	ScoreDeducted   int    `json:"scoreDeducted,omitempty"`
	Penalty         int    `json:"penalty,omitempty"`
	CurrentScore    int    `json:"currentScore"`
	TabSwitchCount  int    `json:"tabSwitchCount,omitempty"`
}

// SubmitResult is the outcome of a level submission or timeout advance.
type SubmitResult struct {
	Success         bool   `json:"success"`
	LevelScore      int    `json:"levelScore,omitempty"`
	NextLevel       int    `json:"nextLevel"`
	Completed       bool   `json:"completed"`
	AlreadyAdvanced bool   `json:"alreadyAdvanced,omitempty"`
	TimeoutAdvanced bool   `json:"timeoutAdvanced,omitempty"`
	Redirect        string `json:"redirect"`
}

// FinalSubmitResult is the outcome of the final level's sentinel submit.
type FinalSubmitResult struct {
	Result     string `json:"result"` // correct | incorrect
	Message    string `json:"message,omitempty"`
	LevelScore int    `json:"levelScore,omitempty"`
	NextLevel  int    `json:"nextLevel,omitempty"`
}

// LevelInfo is the authoritative timer view for client countdown display.
type LevelInfo struct {
	Level     int       `json:"level"`
	Duration  int       `json:"duration"`
	StartTime time.Time `json:"startTime"`
	Completed bool      `json:"completed,omitempty"`
	Redirect  string    `json:"redirect,omitempty"`
	ServerNow int64     `json:"serverNow"`
}

// TeamInfo is the public view of one team.
type TeamInfo struct {
	TeamID         string `json:"teamId"`
	TeamName       string `json:"teamName"`
	CurrentLevel   int    `json:"currentLevel"`
	Score          int    `json:"score"`
	Penalty        int    `json:"penalty"`
	TabSwitchCount int    `json:"tabSwitchCount"`
	Status         string `json:"status"`
	Completed      bool   `json:"completed"`
}

// ViolationEvent is pushed to the admin monitor feed for every applied
// penalty, tagged with how the absence was detected.
type ViolationEvent struct {
	TeamID         string    `json:"teamId"`
	TeamName       string    `json:"teamName"`
	Source         string    `json:"source"`
	HiddenMs       int64     `json:"hiddenMs,omitempty"`
	Points         int       `json:"points"`
	TabSwitchCount int       `json:"tabSwitchCount"`
	Score          int       `json:"score"`
	At             time.Time `json:"at"`
}

// LevelMismatchError is returned when a submit targets a level the team
// is no longer on. The client should resync to Expected, not retry.
type LevelMismatchError struct {
	Expected int
}

func (e *LevelMismatchError) Error() string {
	return fmt.Sprintf("level mismatch, expected level %d", e.Expected)
}
