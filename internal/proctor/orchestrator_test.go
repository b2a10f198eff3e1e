package proctor

import (
	"context"
	"testing"
	"time"

	"github.com/itfiesta/escape-backend/internal/models"
	"github.com/itfiesta/escape-backend/internal/teams"
)

func TestStartSessionUnknownTeam(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.StartSession(context.Background(), "ghost"); err != teams.ErrTeamNotFound {
		t.Fatalf("error = %v, want ErrTeamNotFound", err)
	}
}

func TestStartSessionBlocked(t *testing.T) {
	for _, status := range []string{models.StatusEliminated, models.StatusDisqualified} {
		t.Run(status, func(t *testing.T) {
			team := activeTeam("t1")
			team.Status = status
			f := newFixture(team)

			st, err := f.svc.StartSession(context.Background(), "t1")
			if err != nil {
				t.Fatalf("StartSession: %v", err)
			}
			if st.Status != SessionBlocked {
				t.Errorf("status = %s, want blocked", st.Status)
			}
		})
	}
}

func TestStartSessionWaitingForBatch(t *testing.T) {
	team := activeTeam("t1")
	team.Batch = nil
	team.Status = models.StatusNotStarted
	team.ExamStartTime = nil
	f := newFixture(team)

	st, err := f.svc.StartSession(context.Background(), "t1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.Status != SessionWaiting {
		t.Fatalf("status = %s, want waiting", st.Status)
	}
	if f.store.raw("t1").ExamStartTime != nil {
		t.Error("waiting team got an exam start stamp")
	}
}

func TestStartSessionFirstStartStampsExam(t *testing.T) {
	team := activeTeam("t1")
	team.Status = models.StatusNotStarted
	team.ExamStartTime = nil
	f := newFixture(team)

	st, err := f.svc.StartSession(context.Background(), "t1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.Status != SessionActive || st.CurrentLevel != 1 {
		t.Errorf("status/level = %s/%d, want active/1", st.Status, st.CurrentLevel)
	}

	raw := f.store.raw("t1")
	if raw.ExamStartTime == nil || !raw.ExamStartTime.Equal(f.clock.Now()) {
		t.Error("exam start not stamped at first session")
	}
	if raw.Status != models.StatusActive {
		t.Errorf("status = %s, want active", raw.Status)
	}

	// A reload must not move the stamp.
	f.clock.Advance(30 * time.Second)
	if _, err := f.svc.StartSession(context.Background(), "t1"); err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	if got := f.store.raw("t1").ExamStartTime; got.Equal(f.clock.Now()) {
		t.Error("exam start stamp moved on reload")
	}
}

func TestStartSessionTimeoutAdvances(t *testing.T) {
	f := newFixture(activeTeam("t1"))
	ctx := context.Background()

	f.clock.Advance(181 * time.Second) // level 1 lasts 180s

	st, err := f.svc.StartSession(ctx, "t1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.CurrentLevel != 2 {
		t.Fatalf("level = %d, want forced advance to 2", st.CurrentLevel)
	}

	raw := f.store.raw("t1")
	if raw.Score != 100 {
		t.Errorf("score = %d, want no credit on timeout", raw.Score)
	}
	if raw.LevelDurationSec == nil || *raw.LevelDurationSec != 240 {
		t.Error("level 2 timer not initialized with its canonical duration")
	}

	// A second start over the same expiry advances exactly once.
	st, err = f.svc.StartSession(ctx, "t1")
	if err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	if st.CurrentLevel != 2 {
		t.Errorf("level = %d after second start, want 2", st.CurrentLevel)
	}
	if got := f.store.raw("t1").CurrentLevel; got != 2 {
		t.Errorf("stored level = %d, want exactly one advance", got)
	}
}

func TestStartSessionTimeoutPastFinalLevelCompletes(t *testing.T) {
	team := activeTeam("t1")
	team.CurrentLevel = 5
	lv, d := 5, 180
	team.LevelNumber = &lv
	team.LevelDurationSec = &d
	f := newFixture(team)
	ctx := context.Background()
	if err := f.svc.Heartbeat(ctx, "t1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	f.clock.Advance(181 * time.Second)

	st, err := f.svc.StartSession(ctx, "t1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.Status != SessionCompleted {
		t.Fatalf("status = %s, want completed", st.Status)
	}

	raw := f.store.raw("t1")
	if raw.Status != models.StatusCompleted || raw.ExamEndTime == nil {
		t.Error("exam not finalized after final level timeout")
	}
	if _, ok, _ := f.presence.LastSeen(ctx, "t1"); ok {
		t.Error("heartbeat not dropped on completion")
	}
	end := *raw.ExamEndTime

	// Finalization happens exactly once.
	f.clock.Advance(time.Minute)
	if _, err := f.svc.StartSession(ctx, "t1"); err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	if !f.store.raw("t1").ExamEndTime.Equal(end) {
		t.Error("exam end stamp moved on a later session")
	}
}

func TestStartSessionReconnectGapPenalty(t *testing.T) {
	f := newFixture(activeTeam("t1"))
	ctx := context.Background()

	if _, err := f.svc.StartSession(ctx, "t1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	f.clock.Advance(20 * time.Second)

	st, err := f.svc.StartSession(ctx, "t1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.ReconnectPenalty == nil || !st.ReconnectPenalty.Applied {
		t.Fatal("20s heartbeat gap not penalized")
	}
	if st.ReconnectPenalty.InactiveSeconds != 20 {
		t.Errorf("inactive = %ds, want 20", st.ReconnectPenalty.InactiveSeconds)
	}
	if st.Score != 90 {
		t.Errorf("score = %d, want 90 after one penalty", st.Score)
	}
	if len(f.store.violations) != 1 || f.store.violations[0].Source != models.ViolationHeartbeatGap {
		t.Errorf("violations = %+v, want one heartbeat_gap row", f.store.violations)
	}
}

func TestStartSessionShortGapNotPenalized(t *testing.T) {
	f := newFixture(activeTeam("t1"))
	ctx := context.Background()

	if _, err := f.svc.StartSession(ctx, "t1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	f.clock.Advance(5 * time.Second)

	st, err := f.svc.StartSession(ctx, "t1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.ReconnectPenalty != nil {
		t.Error("5s gap penalized, threshold is 12s")
	}
}

func TestStartSessionGapSuppressedByTransitionGrace(t *testing.T) {
	f := newFixture(activeTeam("t1"))
	ctx := context.Background()

	if _, err := f.svc.StartSession(ctx, "t1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	// Submitting opens a grace window that covers the navigation gap.
	if _, err := f.svc.Submit(ctx, "t1", 1, 20); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.clock.Advance(30 * time.Second)

	st, err := f.svc.StartSession(ctx, "t1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.ReconnectPenalty != nil {
		t.Error("gap inside the transition grace window was penalized")
	}
}

func TestStartSessionGapDedupedAfterViolation(t *testing.T) {
	f := newFixture(activeTeam("t1"))
	ctx := context.Background()

	if _, err := f.svc.StartSession(ctx, "t1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	f.clock.Advance(20 * time.Second)

	// The client-side report for the same absence lands first.
	if adj, _ := f.svc.Adjudicate(ctx, "t1", 20000); adj.Action != ActionPenalty {
		t.Fatal("tab-switch report not penalized")
	}

	st, err := f.svc.StartSession(ctx, "t1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.ReconnectPenalty != nil {
		t.Error("same absence penalized twice")
	}
	if st.Score != 90 {
		t.Errorf("score = %d, want one deduction", st.Score)
	}
}

func TestStartSessionRefreshesHeartbeat(t *testing.T) {
	f := newFixture(activeTeam("t1"))
	ctx := context.Background()

	if _, err := f.svc.StartSession(ctx, "t1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	seen, ok, _ := f.presence.LastSeen(ctx, "t1")
	if !ok || !seen.Equal(f.clock.Now()) {
		t.Error("session start did not refresh the heartbeat")
	}
}
