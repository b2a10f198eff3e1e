package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Question is one escape-room question. Options is free-form JSON because
// early levels use a plain list while the final level uses keyed option
// objects per scenario stage.
type Question struct {
	ID         uuid.UUID       `json:"id"`
	Level      int             `json:"level"`
	Text       string          `json:"text"`
	Options    json.RawMessage `json:"options,omitempty"`
	Answer     string          `json:"-"` // never serialized to clients
	Marks      int             `json:"marks"`
	ScenarioID string          `json:"scenario_id,omitempty"`
	Stage      int             `json:"stage,omitempty"`
	Title      string          `json:"title,omitempty"`
}

// Scenario groups the final level's staged questions by scenario.
type Scenario struct {
	ScenarioID string          `json:"scenario_id"`
	Title      string          `json:"title"`
	Stages     []ScenarioStage `json:"stages"`
}

// ScenarioStage is one stage inside a scenario.
type ScenarioStage struct {
	Stage   int             `json:"stage"`
	Text    string          `json:"text"`
	Options json.RawMessage `json:"options,omitempty"`
}
