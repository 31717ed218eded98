// Package predictor trains, stores and serves the fitness regression model.
package predictor

import (
	"math"
	"time"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

// FormatVersion is the artifact layout version written by Encode.
const FormatVersion = 1

// Predictor is the only surface inference consumers depend on.
type Predictor interface {
	Predict(match, urgency float64) float64
}

// Model is an immutable trained artifact. Retraining produces a new Model;
// nothing mutates one after Train returns.
type Model struct {
	ID             string    `json:"id"`
	FormatVersion  int       `json:"format_version"`
	CategorySchema int       `json:"category_schema"`
	CreatedAt      time.Time `json:"created_at"`
	Seed           uint64    `json:"seed"`
	MinLeaf        int       `json:"min_leaf"`
	MaxDepth       int       `json:"max_depth,omitempty"`
	TrainSize      int       `json:"train_size"`
	TestSize       int       `json:"test_size"`
	R2             *float64  `json:"r2,omitempty"` // nil when the held-out set cannot be scored
	Forest         Forest    `json:"forest"`
}

func (m *Model) Predict(match, urgency float64) float64 {
	return m.Forest.Predict(match, urgency)
}

func (m *Model) PredictBatch(pairs []models.ScoredPair) []float64 {
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		out[i] = m.Predict(p.Match, p.Urgency)
	}
	return out
}

// Info is the model metadata without the trees.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Trees     int       `json:"trees"`
	TrainSize int       `json:"train_size"`
	TestSize  int       `json:"test_size"`
	R2        *float64  `json:"r2,omitempty"`
}

func (m *Model) Info() Info {
	return Info{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		Trees:     len(m.Forest.Trees),
		TrainSize: m.TrainSize,
		TestSize:  m.TestSize,
		R2:        m.R2,
	}
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
