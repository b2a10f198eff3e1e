package proctor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/itfiesta/escape-backend/internal/models"
	"github.com/itfiesta/escape-backend/internal/teams"
)

// memStore is an in-memory Store that mirrors the repository's
// conditional-update semantics, so race and debounce behavior can be
// tested without Postgres.
type memStore struct {
	mu         sync.Mutex
	teams      map[string]*models.Team
	violations []models.Violation
}

func newMemStore(ts ...*models.Team) *memStore {
	s := &memStore{teams: make(map[string]*models.Team)}
	for _, t := range ts {
		cp := *t
		s.teams[t.TeamID] = &cp
	}
	return s
}

func copyTeam(t *models.Team) *models.Team {
	cp := *t
	return &cp
}

func (s *memStore) GetByTeamID(_ context.Context, teamID string) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return nil, teams.ErrTeamNotFound
	}
	return copyTeam(t), nil
}

func (s *memStore) Exists(_ context.Context, teamID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.teams[teamID]
	return ok, nil
}

func (s *memStore) BeginExam(_ context.Context, teamID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return teams.ErrTeamNotFound
	}
	if t.ExamStartTime == nil {
		stamp := now
		t.ExamStartTime = &stamp
		t.Status = models.StatusActive
	}
	return nil
}

func (s *memStore) SaveTimerState(_ context.Context, teamID string, level int, startedAt time.Time, durationSec int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return teams.ErrTeamNotFound
	}
	lv, st, d := level, startedAt, durationSec
	t.LevelNumber = &lv
	t.LevelStartedAt = &st
	t.LevelDurationSec = &d
	return nil
}

func (s *memStore) AdvanceLevel(_ context.Context, teamID string, fromLevel int, adv teams.AdvanceUpdate) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok || t.CurrentLevel != fromLevel || t.Terminal() {
		return nil, teams.ErrLevelMismatch
	}
	t.Score += adv.Points
	t.CurrentLevel++
	if adv.Completed {
		t.Status = models.StatusCompleted
		t.LevelNumber = nil
		t.LevelStartedAt = nil
		t.LevelDurationSec = nil
		if t.ExamEndTime == nil {
			end := adv.Now
			t.ExamEndTime = &end
			if t.ExamStartTime != nil {
				ms := adv.Now.Sub(*t.ExamStartTime).Milliseconds()
				t.TotalExamMs = &ms
			}
		}
	} else {
		t.Status = models.StatusActive
		lv, st, d := t.CurrentLevel, adv.Now, adv.NextDurationSec
		t.LevelNumber = &lv
		t.LevelStartedAt = &st
		t.LevelDurationSec = &d
	}
	if adv.GraceUntil != nil {
		g := *adv.GraceUntil
		t.TransitionGraceUntil = &g
	}
	return copyTeam(t), nil
}

func (s *memStore) ApplyPenalty(_ context.Context, teamID string, points int, notSince, now time.Time) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok || t.Status != models.StatusActive {
		return nil, teams.ErrPenaltyDebounced
	}
	if t.LastViolationAt != nil && t.LastViolationAt.After(notSince) {
		return nil, teams.ErrPenaltyDebounced
	}
	t.Score -= points
	t.Penalty += points
	t.TabSwitchCount++
	stamp := now
	t.LastViolationAt = &stamp
	return copyTeam(t), nil
}

func (s *memStore) InsertViolation(_ context.Context, v *models.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, *v)
	return nil
}

func (s *memStore) FinalizeExam(_ context.Context, teamID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return teams.ErrTeamNotFound
	}
	if t.ExamEndTime == nil && t.ExamStartTime != nil {
		end := now
		t.ExamEndTime = &end
		ms := now.Sub(*t.ExamStartTime).Milliseconds()
		t.TotalExamMs = &ms
		t.Status = models.StatusCompleted
		t.LevelNumber = nil
		t.LevelStartedAt = nil
		t.LevelDurationSec = nil
	}
	return nil
}

func (s *memStore) ClearTransitionGrace(_ context.Context, teamID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return teams.ErrTeamNotFound
	}
	if t.TransitionGraceUntil != nil && !t.TransitionGraceUntil.After(now) {
		t.TransitionGraceUntil = nil
	}
	return nil
}

func (s *memStore) Leaderboard(_ context.Context, _ string) ([]models.LeaderboardRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []models.LeaderboardRow
	for _, t := range s.teams {
		rows = append(rows, models.LeaderboardRow{
			TeamID:         t.TeamID,
			TeamName:       t.TeamName,
			Score:          t.NetScore(),
			Penalty:        t.Penalty,
			TabSwitchCount: t.TabSwitchCount,
			CurrentLevel:   t.CurrentLevel,
			Status:         t.Status,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
	return rows, nil
}

// raw returns the live record for assertions.
func (s *memStore) raw(teamID string) *models.Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teams[teamID]
}

// memPresence is an in-memory heartbeat store.
type memPresence struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemPresence() *memPresence {
	return &memPresence{seen: make(map[string]time.Time)}
}

func (p *memPresence) Touch(_ context.Context, teamID string, t time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[teamID] = t
	return nil
}

func (p *memPresence) LastSeen(_ context.Context, teamID string) (time.Time, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.seen[teamID]
	return t, ok, nil
}

func (p *memPresence) Forget(_ context.Context, teamID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, teamID)
	return nil
}

// memBroadcaster records monitor events.
type memBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *memBroadcaster) Broadcast(event string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *memBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == event {
			n++
		}
	}
	return n
}
