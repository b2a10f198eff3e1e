package proctor

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/itfiesta/escape-backend/internal/teams"
	"github.com/itfiesta/escape-backend/pkg/response"
)

// Handler exposes the proctoring endpoints. Game endpoints return the
// flat JSON bodies the level pages consume; errors use the standard
// envelope.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a proctor handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

type teamRequest struct {
	TeamID string `json:"team_id" binding:"required"`
}

type tabSwitchRequest struct {
	TeamID   string `json:"team_id" binding:"required"`
	HiddenMs int64  `json:"hiddenMs"`
}

type submitRequest struct {
	TeamID string `json:"team_id" binding:"required"`
	Level  int    `json:"level" binding:"required"`
	Score  int    `json:"score"`
}

type finalSubmitRequest struct {
	TeamID string `json:"teamId" binding:"required"`
	Answer string `json:"answer" binding:"required"`
}

// Start handles POST /api/escape/start.
func (h *Handler) Start(c *gin.Context) {
	var req teamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "team_id required")
		return
	}
	status, err := h.svc.StartSession(c.Request.Context(), req.TeamID)
	if err != nil {
		h.fail(c, "start session", err)
		return
	}
	if status.Status == SessionWaiting {
		// The waiting page treats this as a soft 403 with a redirect.
		c.JSON(http.StatusForbidden, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Heartbeat handles POST /api/escape/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	var req teamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "team_id required"})
		return
	}
	if err := h.svc.Heartbeat(c.Request.Context(), req.TeamID); err != nil {
		if errors.Is(err, teams.ErrTeamNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "Team not found"})
			return
		}
		h.logger.Error("heartbeat", zap.Error(err), zap.String("team_id", req.TeamID))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Heartbeat failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// TabSwitch handles POST /api/escape/tab-switch. Ignored outcomes are
// 200s with a reason code, so the client can tell "filtered" apart from
// "request failed".
func (h *Handler) TabSwitch(c *gin.Context) {
	var req tabSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "team_id required")
		return
	}
	result, err := h.svc.Adjudicate(c.Request.Context(), req.TeamID, req.HiddenMs)
	if err != nil {
		h.fail(c, "tab switch", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Submit handles POST /api/escape/submit.
func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "team_id and level are required")
		return
	}
	result, err := h.svc.Submit(c.Request.Context(), req.TeamID, req.Level, req.Score)
	if err != nil {
		var mismatch *LevelMismatchError
		if errors.As(err, &mismatch) {
			c.JSON(http.StatusOK, gin.H{"error": "Level mismatch", "expectedLevel": mismatch.Expected})
			return
		}
		h.fail(c, "submit", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SubmitFinal handles POST /api/escape/levels/:level/submit (the final
// level's sentinel-token submission).
func (h *Handler) SubmitFinal(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		response.BadRequest(c, "invalid level")
		return
	}
	var req finalSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "teamId and answer are required")
		return
	}
	result, err := h.svc.SubmitFinal(c.Request.Context(), req.TeamID, level, req.Answer)
	if err != nil {
		var mismatch *LevelMismatchError
		if errors.As(err, &mismatch) {
			c.JSON(http.StatusOK, gin.H{"error": "Level mismatch", "expectedLevel": mismatch.Expected})
			return
		}
		h.fail(c, "final submit", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// TimeoutAdvance handles POST /api/escape/timeout-advance.
func (h *Handler) TimeoutAdvance(c *gin.Context) {
	var req struct {
		TeamID string `json:"team_id" binding:"required"`
		Level  int    `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "team_id and level are required")
		return
	}
	result, err := h.svc.TimeoutAdvance(c.Request.Context(), req.TeamID, req.Level)
	if err != nil {
		var mismatch *LevelMismatchError
		if errors.As(err, &mismatch) {
			c.JSON(http.StatusOK, gin.H{"error": "Level mismatch", "expectedLevel": mismatch.Expected})
			return
		}
		h.fail(c, "timeout advance", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// LevelStart handles GET /api/escape/level/:level/start.
func (h *Handler) LevelStart(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		response.BadRequest(c, "invalid level")
		return
	}
	teamID := strings.TrimSpace(c.Query("team_id"))
	info, err := h.svc.LevelInfo(c.Request.Context(), level, teamID)
	if err != nil {
		h.fail(c, "level info", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Leaderboard handles GET /api/escape/leaderboard.
func (h *Handler) Leaderboard(c *gin.Context) {
	rows, err := h.svc.Leaderboard(c.Request.Context())
	if err != nil {
		h.fail(c, "leaderboard", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// TeamInfo handles GET /api/escape/team/:teamId.
func (h *Handler) TeamInfo(c *gin.Context) {
	info, err := h.svc.TeamInfo(c.Request.Context(), c.Param("teamId"))
	if err != nil {
		h.fail(c, "team info", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, teams.ErrTeamNotFound) {
		response.NotFound(c, "Team not found")
		return
	}
	h.logger.Error(op, zap.Error(err), zap.String("path", c.Request.URL.Path))
	response.Internal(c, op+" failed")
}
