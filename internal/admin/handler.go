// Package admin exposes the dashboard's team-management endpoints. All
// routes sit behind the JWT middleware with the admin role.
package admin

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/itfiesta/escape-backend/internal/models"
	"github.com/itfiesta/escape-backend/internal/teams"
	"github.com/itfiesta/escape-backend/pkg/response"
)

// Broadcaster pushes admin actions to the monitor feed. Optional.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Handler handles admin HTTP endpoints.
type Handler struct {
	repo    *teams.Repository
	clock   clockwork.Clock
	monitor Broadcaster
	logger  *zap.Logger
}

// NewHandler creates an admin handler. monitor may be nil.
func NewHandler(repo *teams.Repository, clock clockwork.Clock, monitor Broadcaster, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, clock: clock, monitor: monitor, logger: logger}
}

// ListTeams handles GET /api/admin/teams?event_type=&batch=&status=.
func (h *Handler) ListTeams(c *gin.Context) {
	filter := teams.ListFilter{
		EventType: c.Query("event_type"),
		Status:    c.Query("status"),
	}
	if b := c.Query("batch"); b != "" {
		n, err := strconv.Atoi(b)
		if err != nil {
			response.BadRequest(c, "invalid batch")
			return
		}
		filter.Batch = &n
	}
	list, err := h.repo.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("list teams", zap.Error(err))
		response.Internal(c, "failed to list teams")
		return
	}
	response.OK(c, list)
}

// SetScore handles PATCH /api/admin/teams/:teamId/score.
func (h *Handler) SetScore(c *gin.Context) {
	var req struct {
		Score int `json:"score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "score is required")
		return
	}
	teamID := c.Param("teamId")
	if err := h.repo.SetScore(c.Request.Context(), teamID, req.Score, h.clock.Now()); err != nil {
		h.fail(c, "set score", err)
		return
	}
	h.logger.Info("admin set score", zap.String("team_id", teamID), zap.Int("score", req.Score))
	response.OK(c, gin.H{"teamId": teamID, "score": req.Score})
}

// AddPenalty handles PATCH /api/admin/teams/:teamId/penalty. Manual
// penalties get an audit row tagged as admin-sourced and show up on the
// monitor feed, but never interact with the detection debounce.
func (h *Handler) AddPenalty(c *gin.Context) {
	var req struct {
		Points int    `json:"points" binding:"required,gt=0"`
		Note   string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "points must be a positive number")
		return
	}
	teamID := c.Param("teamId")
	now := h.clock.Now()
	if err := h.repo.AddPenalty(c.Request.Context(), teamID, req.Points, now); err != nil {
		h.fail(c, "add penalty", err)
		return
	}
	v := &models.Violation{
		ID:        uuid.New(),
		TeamID:    teamID,
		Source:    models.ViolationAdmin,
		Points:    req.Points,
		CreatedAt: now,
	}
	if err := h.repo.InsertViolation(c.Request.Context(), v); err != nil {
		h.logger.Error("insert admin violation", zap.Error(err), zap.String("team_id", teamID))
	}
	if h.monitor != nil {
		h.monitor.Broadcast("violation", gin.H{
			"teamId": teamID,
			"source": models.ViolationAdmin,
			"points": req.Points,
			"note":   req.Note,
			"at":     now,
		})
	}
	h.logger.Info("admin penalty", zap.String("team_id", teamID), zap.Int("points", req.Points))
	response.OK(c, gin.H{"teamId": teamID, "points": req.Points})
}

// SetStatus handles PATCH /api/admin/teams/:teamId/status.
func (h *Handler) SetStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "status is required")
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	switch status {
	case models.StatusNotStarted, models.StatusActive, models.StatusCompleted,
		models.StatusEliminated, models.StatusDisqualified:
	default:
		response.BadRequest(c, "invalid status")
		return
	}
	teamID := c.Param("teamId")
	if err := h.repo.SetStatus(c.Request.Context(), teamID, status, h.clock.Now()); err != nil {
		h.fail(c, "set status", err)
		return
	}
	h.logger.Info("admin set status", zap.String("team_id", teamID), zap.String("status", status))
	response.OK(c, gin.H{"teamId": teamID, "status": status})
}

// SetBatch handles PATCH /api/admin/teams/:teamId/batch.
func (h *Handler) SetBatch(c *gin.Context) {
	var req struct {
		Batch int `json:"batch" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "batch must be a positive number")
		return
	}
	teamID := c.Param("teamId")
	if err := h.repo.SetBatch(c.Request.Context(), teamID, req.Batch, h.clock.Now()); err != nil {
		h.fail(c, "set batch", err)
		return
	}
	response.OK(c, gin.H{"teamId": teamID, "batch": req.Batch})
}

type batchRequest struct {
	EventType string `json:"event_type"`
	Batch     int    `json:"batch" binding:"required,gt=0"`
}

// StartBatch handles PATCH /api/admin/start-batch: releases a cohort so
// its teams leave the waiting screen.
func (h *Handler) StartBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "batch must be a positive number")
		return
	}
	if req.EventType == "" {
		req.EventType = "escape"
	}
	n, err := h.repo.StartBatch(c.Request.Context(), req.EventType, req.Batch, h.clock.Now())
	if err != nil {
		h.logger.Error("start batch", zap.Error(err), zap.Int("batch", req.Batch))
		response.Internal(c, "failed to start batch")
		return
	}
	h.logger.Info("batch started", zap.Int("batch", req.Batch), zap.Int64("teams", n))
	if h.monitor != nil {
		h.monitor.Broadcast("batch_started", gin.H{"batch": req.Batch, "teams": n})
	}
	response.OK(c, gin.H{"batch": req.Batch, "teamsStarted": n})
}

// EndBatch handles PATCH /api/admin/end-batch: force-completes a cohort.
func (h *Handler) EndBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "batch must be a positive number")
		return
	}
	if req.EventType == "" {
		req.EventType = "escape"
	}
	n, err := h.repo.EndBatch(c.Request.Context(), req.EventType, req.Batch, h.clock.Now())
	if err != nil {
		h.logger.Error("end batch", zap.Error(err), zap.Int("batch", req.Batch))
		response.Internal(c, "failed to end batch")
		return
	}
	h.logger.Info("batch ended", zap.Int("batch", req.Batch), zap.Int64("teams", n))
	if h.monitor != nil {
		h.monitor.Broadcast("batch_ended", gin.H{"batch": req.Batch, "teams": n})
	}
	response.OK(c, gin.H{"batch": req.Batch, "teamsEnded": n})
}

// ListViolations handles GET /api/admin/teams/:teamId/violations.
func (h *Handler) ListViolations(c *gin.Context) {
	list, err := h.repo.ListViolations(c.Request.Context(), c.Param("teamId"))
	if err != nil {
		h.logger.Error("list violations", zap.Error(err))
		response.Internal(c, "failed to list violations")
		return
	}
	response.OK(c, list)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, teams.ErrTeamNotFound) {
		response.NotFound(c, "Team not found")
		return
	}
	h.logger.Error(op, zap.Error(err))
	response.Internal(c, op+" failed")
}
