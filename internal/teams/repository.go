package teams

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itfiesta/escape-backend/internal/models"
)

const teamColumns = `team_id, team_name, leader_name, leader_mobile, member2, member3, event_type,
	batch, status, score, penalty, tab_switch_count, current_level,
	level_number, level_started_at, level_duration_sec,
	last_violation_at, transition_grace_until,
	exam_start_time, exam_end_time, total_exam_ms, created_at, updated_at`

// Repository handles team session records. Every write that can race with
// another request for the same team is expressed as a single conditional
// UPDATE, never read-modify-write.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a teams repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanTeam(row pgx.Row) (*models.Team, error) {
	var t models.Team
	err := row.Scan(
		&t.TeamID, &t.TeamName, &t.LeaderName, &t.LeaderMobile, &t.Member2, &t.Member3, &t.EventType,
		&t.Batch, &t.Status, &t.Score, &t.Penalty, &t.TabSwitchCount, &t.CurrentLevel,
		&t.LevelNumber, &t.LevelStartedAt, &t.LevelDurationSec,
		&t.LastViolationAt, &t.TransitionGraceUntil,
		&t.ExamStartTime, &t.ExamEndTime, &t.TotalExamMs, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByTeamID returns a team by its public id.
func (r *Repository) GetByTeamID(ctx context.Context, teamID string) (*models.Team, error) {
	t, err := scanTeam(r.pool.QueryRow(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE team_id = $1`, teamID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTeamNotFound
	}
	return t, err
}

// Exists reports whether a team record exists.
func (r *Repository) Exists(ctx context.Context, teamID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM teams WHERE team_id = $1)`, teamID).Scan(&ok)
	return ok, err
}

// BeginExam stamps the first session start. Idempotent: only the first
// call sets exam_start_time.
func (r *Repository) BeginExam(ctx context.Context, teamID string, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE teams SET exam_start_time = $2, status = $3, updated_at = $2
		 WHERE team_id = $1 AND exam_start_time IS NULL`,
		teamID, now, models.StatusActive)
	return err
}

// SaveTimerState persists a timer correction for the team's current level.
func (r *Repository) SaveTimerState(ctx context.Context, teamID string, level int, startedAt time.Time, durationSec int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE teams SET level_number = $2, level_started_at = $3, level_duration_sec = $4, updated_at = $3
		 WHERE team_id = $1`,
		teamID, level, startedAt, durationSec)
	return err
}

// AdvanceUpdate carries the inputs for one atomic level advance.
type AdvanceUpdate struct {
	Points          int  // score credited for the finished level (0 on timeout)
	Completed       bool // the advance moves past the final level
	NextDurationSec int  // canonical duration for the new level; ignored when Completed
	GraceUntil      *time.Time
	Now             time.Time
}

// AdvanceLevel atomically credits score and increments current_level,
// conditioned on the expected level, so a stale or duplicate submit (and
// the second of two concurrent timeout advances) matches no row. On
// completion the timer fields are cleared and the exam end is stamped at
// most once; otherwise the next level's timer is initialized in the same
// statement. Returns ErrLevelMismatch when no row matched.
func (r *Repository) AdvanceLevel(ctx context.Context, teamID string, fromLevel int, adv AdvanceUpdate) (*models.Team, error) {
	const q = `UPDATE teams SET
		score = score + $3,
		current_level = current_level + 1,
		status = CASE WHEN $4 THEN 'completed' ELSE 'active' END,
		level_number = CASE WHEN $4 THEN NULL ELSE current_level + 1 END,
		level_started_at = CASE WHEN $4 THEN NULL ELSE $5::timestamptz END,
		level_duration_sec = CASE WHEN $4 THEN NULL ELSE $6 END,
		exam_end_time = CASE WHEN $4 THEN COALESCE(exam_end_time, $5::timestamptz) ELSE exam_end_time END,
		total_exam_ms = CASE WHEN $4 AND total_exam_ms IS NULL AND exam_start_time IS NOT NULL
			THEN (EXTRACT(EPOCH FROM (COALESCE(exam_end_time, $5::timestamptz) - exam_start_time)) * 1000)::BIGINT
			ELSE total_exam_ms END,
		transition_grace_until = COALESCE($7::timestamptz, transition_grace_until),
		updated_at = $5::timestamptz
	WHERE team_id = $1 AND current_level = $2
		AND status NOT IN ('completed', 'eliminated', 'disqualified')
	RETURNING ` + teamColumns

	t, err := scanTeam(r.pool.QueryRow(ctx, q,
		teamID, fromLevel, adv.Points, adv.Completed, adv.Now, adv.NextDurationSec, adv.GraceUntil))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLevelMismatch
	}
	return t, err
}

// ApplyPenalty is the single penalty primitive shared by the tab-switch
// adjudicator and the reconnect-gap check. The debounce is part of the
// WHERE clause so it is evaluated against the persisted last_violation_at
// at update time; two concurrent reports yield exactly one penalty.
// notSince is now minus the debounce window. Returns ErrPenaltyDebounced
// when no row matched.
func (r *Repository) ApplyPenalty(ctx context.Context, teamID string, points int, notSince, now time.Time) (*models.Team, error) {
	const q = `UPDATE teams SET
		score = score - $2,
		penalty = penalty + $2,
		tab_switch_count = tab_switch_count + 1,
		last_violation_at = $4,
		updated_at = $4
	WHERE team_id = $1
		AND (last_violation_at IS NULL OR last_violation_at <= $3)
		AND status = 'active'
	RETURNING ` + teamColumns

	t, err := scanTeam(r.pool.QueryRow(ctx, q, teamID, points, notSince, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPenaltyDebounced
	}
	return t, err
}

// InsertViolation records one applied penalty for audit.
func (r *Repository) InsertViolation(ctx context.Context, v *models.Violation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO violations (id, team_id, source, hidden_ms, points, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.TeamID, v.Source, v.HiddenMs, v.Points, v.CreatedAt)
	return err
}

// ListViolations returns a team's penalty audit trail, newest first.
func (r *Repository) ListViolations(ctx context.Context, teamID string) ([]models.Violation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, team_id, source, hidden_ms, points, created_at
		 FROM violations WHERE team_id = $1 ORDER BY created_at DESC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Violation
	for rows.Next() {
		var v models.Violation
		if err := rows.Scan(&v.ID, &v.TeamID, &v.Source, &v.HiddenMs, &v.Points, &v.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// FinalizeExam stamps exam_end_time/total_exam_ms exactly once for a team
// that has passed the final level, and marks it completed.
func (r *Repository) FinalizeExam(ctx context.Context, teamID string, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE teams SET
			status = 'completed',
			exam_end_time = $2,
			total_exam_ms = CASE WHEN exam_start_time IS NOT NULL
				THEN (EXTRACT(EPOCH FROM ($2::timestamptz - exam_start_time)) * 1000)::BIGINT
				ELSE total_exam_ms END,
			level_number = NULL, level_started_at = NULL, level_duration_sec = NULL,
			updated_at = $2
		 WHERE team_id = $1 AND exam_end_time IS NULL AND exam_start_time IS NOT NULL`,
		teamID, now)
	return err
}

// ClearTransitionGrace drops an expired grace window.
func (r *Repository) ClearTransitionGrace(ctx context.Context, teamID string, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE teams SET transition_grace_until = NULL, updated_at = $2
		 WHERE team_id = $1 AND transition_grace_until IS NOT NULL AND transition_grace_until <= $2`,
		teamID, now)
	return err
}

// Leaderboard returns public standings for an event, best score first.
func (r *Repository) Leaderboard(ctx context.Context, eventType string) ([]models.LeaderboardRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT team_id, team_name, score, penalty, tab_switch_count, current_level, status
		 FROM teams WHERE event_type ILIKE '%' || $1 || '%'
		 ORDER BY score DESC, total_exam_ms ASC NULLS LAST`,
		eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.LeaderboardRow
	for rows.Next() {
		var row models.LeaderboardRow
		if err := rows.Scan(&row.TeamID, &row.TeamName, &row.Score, &row.Penalty,
			&row.TabSwitchCount, &row.CurrentLevel, &row.Status); err != nil {
			return nil, err
		}
		if row.Score < 0 {
			row.Score = 0
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

// ListFilter narrows the admin team listing.
type ListFilter struct {
	EventType string
	Batch     *int
	Status    string
}

// List returns teams matching the filter, best score first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.Team, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+teamColumns+` FROM teams
		 WHERE ($1 = '' OR event_type = $1)
		   AND ($2::int IS NULL OR batch = $2)
		   AND ($3 = '' OR status = $3)
		 ORDER BY score DESC`,
		f.EventType, f.Batch, f.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// SetScore overwrites a team's score (admin correction).
func (r *Repository) SetScore(ctx context.Context, teamID string, score int, now time.Time) error {
	return r.execOne(ctx,
		`UPDATE teams SET score = $2, updated_at = $3 WHERE team_id = $1`,
		teamID, score, now)
}

// AddPenalty applies a manual penalty from the dashboard. It deducts from
// score and tracks the deduction, but does not touch last_violation_at so
// it never debounces a real detection.
func (r *Repository) AddPenalty(ctx context.Context, teamID string, points int, now time.Time) error {
	return r.execOne(ctx,
		`UPDATE teams SET score = score - $2, penalty = penalty + $2, updated_at = $3 WHERE team_id = $1`,
		teamID, points, now)
}

// SetStatus overwrites a team's status (eliminate, disqualify, reinstate).
func (r *Repository) SetStatus(ctx context.Context, teamID, status string, now time.Time) error {
	return r.execOne(ctx,
		`UPDATE teams SET status = $2, updated_at = $3 WHERE team_id = $1`,
		teamID, status, now)
}

// SetBatch assigns a team to a cohort. Teams without a batch are held at
// the waiting screen by the orchestrator.
func (r *Repository) SetBatch(ctx context.Context, teamID string, batch int, now time.Time) error {
	return r.execOne(ctx,
		`UPDATE teams SET batch = $2, updated_at = $3 WHERE team_id = $1`,
		teamID, batch, now)
}

// StartBatch releases a cohort: all its teams become active.
func (r *Repository) StartBatch(ctx context.Context, eventType string, batch int, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE teams SET status = 'active', updated_at = $3
		 WHERE event_type = $1 AND batch = $2 AND status = 'not_started'`,
		eventType, batch, now)
	return tag.RowsAffected(), err
}

// EndBatch force-completes a cohort.
func (r *Repository) EndBatch(ctx context.Context, eventType string, batch int, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE teams SET status = 'completed',
			exam_end_time = COALESCE(exam_end_time, $3), updated_at = $3
		 WHERE event_type = $1 AND batch = $2 AND status NOT IN ('eliminated', 'disqualified')`,
		eventType, batch, now)
	return tag.RowsAffected(), err
}

func (r *Repository) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTeamNotFound
	}
	return nil
}
