package proctor

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/itfiesta/escape-backend/config"
	"github.com/itfiesta/escape-backend/internal/models"
	"github.com/itfiesta/escape-backend/internal/teams"
)

func testConfig() config.ProctorConfig {
	return config.ProctorConfig{
		MaxLevel:            5,
		LevelDurations:      map[int]int{1: 180, 2: 240, 3: 360, 4: 300, 5: 180},
		DefaultLevelSec:     300,
		PenaltyPoints:       10,
		DebounceWindow:      1500 * time.Millisecond,
		MinHiddenMs:         300,
		MaxHiddenMs:         600000,
		InactivityThreshold: 12 * time.Second,
		TransitionGrace:     90 * time.Second,
		HeartbeatTTL:        24 * time.Hour,
		FinalLevelSentinel:  "PASSED",
		FinalLevelBonus:     50,
	}
}

type fixture struct {
	svc      *Service
	store    *memStore
	presence *memPresence
	clock    *clockwork.FakeClock
	monitor  *memBroadcaster
}

func newFixture(ts ...*models.Team) *fixture {
	store := newMemStore(ts...)
	pres := newMemPresence()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	mon := &memBroadcaster{}
	return &fixture{
		svc:      NewService(store, pres, clock, testConfig(), mon, nil),
		store:    store,
		presence: pres,
		clock:    clock,
		monitor:  mon,
	}
}

func activeTeam(id string) *models.Team {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	batch := 1
	level := 1
	dur := 180
	started := now
	return &models.Team{
		TeamID:           id,
		TeamName:         "Team " + id,
		EventType:        "escape",
		Batch:            &batch,
		Status:           models.StatusActive,
		Score:            100,
		CurrentLevel:     1,
		LevelNumber:      &level,
		LevelStartedAt:   &started,
		LevelDurationSec: &dur,
		ExamStartTime:    &now,
	}
}

func TestHeartbeatUnknownTeam(t *testing.T) {
	f := newFixture()
	if err := f.svc.Heartbeat(context.Background(), "ghost"); err != teams.ErrTeamNotFound {
		t.Fatalf("Heartbeat error = %v, want ErrTeamNotFound", err)
	}
}

func TestHeartbeatRecordsPresence(t *testing.T) {
	f := newFixture(activeTeam("t1"))
	if err := f.svc.Heartbeat(context.Background(), "t1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	seen, ok, _ := f.presence.LastSeen(context.Background(), "t1")
	if !ok {
		t.Fatal("no heartbeat recorded")
	}
	if !seen.Equal(f.clock.Now()) {
		t.Fatalf("heartbeat at %v, want %v", seen, f.clock.Now())
	}
}

func TestTeamInfoCompleted(t *testing.T) {
	team := activeTeam("t1")
	team.Status = models.StatusCompleted
	team.CurrentLevel = 6
	f := newFixture(team)

	info, err := f.svc.TeamInfo(context.Background(), "t1")
	if err != nil {
		t.Fatalf("TeamInfo: %v", err)
	}
	if !info.Completed {
		t.Error("Completed = false, want true")
	}
}

func TestTeamInfoClampsNegativeScore(t *testing.T) {
	team := activeTeam("t1")
	team.Score = -20
	f := newFixture(team)

	info, err := f.svc.TeamInfo(context.Background(), "t1")
	if err != nil {
		t.Fatalf("TeamInfo: %v", err)
	}
	if info.Score != 0 {
		t.Errorf("Score = %d, want 0", info.Score)
	}
}
