package questions

import (
	"math/rand"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/itfiesta/escape-backend/internal/models"
	"github.com/itfiesta/escape-backend/pkg/response"
)

// Handler serves question sets to level pages.
type Handler struct {
	repo          *Repository
	scenarioLevel int
	logger        *zap.Logger
}

// NewHandler creates a questions handler. scenarioLevel is the level
// whose questions are grouped into staged scenarios (the final level).
func NewHandler(repo *Repository, scenarioLevel int, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, scenarioLevel: scenarioLevel, logger: logger}
}

// ByLevel handles GET /api/escape/questions/:level. Regular levels get
// their questions in a fresh random order per request, so adjacent teams
// cannot shoulder-surf by position. The scenario level keeps its stages
// in order inside each scenario and shuffles only the scenarios.
func (h *Handler) ByLevel(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil || level < 1 {
		response.BadRequest(c, "invalid level")
		return
	}

	qs, err := h.repo.ListByLevel(c.Request.Context(), level)
	if err != nil {
		h.logger.Error("list questions", zap.Error(err), zap.Int("level", level))
		response.Internal(c, "failed to load questions")
		return
	}

	if level == h.scenarioLevel {
		c.JSON(http.StatusOK, gin.H{"level": level, "scenarios": groupScenarios(qs)})
		return
	}

	rand.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
	c.JSON(http.StatusOK, gin.H{"level": level, "questions": qs})
}

// groupScenarios folds flat scenario-tagged rows into ordered scenarios.
// Rows arrive sorted by (scenario_id, stage), so stages stay in order.
func groupScenarios(qs []models.Question) []models.Scenario {
	var out []models.Scenario
	index := make(map[string]int)
	for _, q := range qs {
		i, ok := index[q.ScenarioID]
		if !ok {
			i = len(out)
			index[q.ScenarioID] = i
			out = append(out, models.Scenario{ScenarioID: q.ScenarioID, Title: q.Title})
		}
		out[i].Stages = append(out[i].Stages, models.ScenarioStage{
			Stage:   q.Stage,
			Text:    q.Text,
			Options: q.Options,
		})
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
