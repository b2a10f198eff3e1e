package models

import (
	"time"

	"github.com/google/uuid"
)

// Team status values. A team record is terminal once it reaches
// completed, eliminated or disqualified.
const (
	StatusNotStarted   = "not_started"
	StatusActive       = "active"
	StatusCompleted    = "completed"
	StatusEliminated   = "eliminated"
	StatusDisqualified = "disqualified"
)

// Team is the per-team session record. It is mutated concurrently by the
// team's own browser tab (start/heartbeat/tab-switch/submit) and by admin
// actions, so every write that can race is a single conditional update in
// the repository.
type Team struct {
	TeamID       string `json:"teamId"`
	TeamName     string `json:"teamName"`
	LeaderName   string `json:"leaderName,omitempty"`
	LeaderMobile string `json:"-"`
	Member2      string `json:"member2,omitempty"`
	Member3      string `json:"member3,omitempty"`
	EventType    string `json:"eventType"`

	Batch  *int   `json:"batch,omitempty"` // nil until admin releases the cohort
	Status string `json:"status"`

	// Score is gross points; Penalty is the cumulative deduction tracked
	// separately for audit. Net score = Score - Penalty, clamped at display.
	Score          int `json:"score"`
	Penalty        int `json:"penalty"`
	TabSwitchCount int `json:"tabSwitchCount"`

	// CurrentLevel is 1..MaxLevel+1; MaxLevel+1 means completed. It only
	// ever increases.
	CurrentLevel int `json:"currentLevel"`

	// Authoritative level timer. LevelNumber records which level the timer
	// fields were initialized for, so drift (admin edits, duration table
	// changes) is detectable. All three are cleared on completion.
	LevelNumber      *int       `json:"levelNumber,omitempty"`
	LevelStartedAt   *time.Time `json:"levelStartedAt,omitempty"`
	LevelDurationSec *int       `json:"levelDurationSec,omitempty"`

	LastViolationAt      *time.Time `json:"lastViolationAt,omitempty"`
	TransitionGraceUntil *time.Time `json:"transitionGraceUntil,omitempty"`

	ExamStartTime *time.Time `json:"examStartTime,omitempty"`
	ExamEndTime   *time.Time `json:"examEndTime,omitempty"`
	TotalExamMs   *int64     `json:"totalExamMs,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Terminal reports whether the record refuses further penalties/advances.
func (t *Team) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusEliminated, StatusDisqualified:
		return true
	}
	return false
}

// NetScore is the display score. Penalties are already deducted from
// Score when applied; this only clamps at zero for display.
func (t *Team) NetScore() int {
	if n := t.Score; n > 0 {
		return n
	}
	return 0
}

// Violation sources.
const (
	ViolationTabSwitch    = "tab_switch"    // client-reported visibility event
	ViolationHeartbeatGap = "heartbeat_gap" // server-detected reconnect gap
	ViolationAdmin        = "admin"         // manual penalty from dashboard
)

// Violation is one applied penalty, kept for audit so logs can distinguish
// how each absence was detected.
type Violation struct {
	ID        uuid.UUID `json:"id"`
	TeamID    string    `json:"teamId"`
	Source    string    `json:"source"`
	HiddenMs  int64     `json:"hiddenMs,omitempty"` // advisory client-reported duration
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"createdAt"`
}

// LeaderboardRow is one row of the public leaderboard.
type LeaderboardRow struct {
	TeamID         string `json:"teamId"`
	TeamName       string `json:"teamName"`
	Score          int    `json:"score"`
	Penalty        int    `json:"penalty"`
	TabSwitchCount int    `json:"tabSwitchCount"`
	CurrentLevel   int    `json:"currentLevel"`
	Status         string `json:"status"`
}
