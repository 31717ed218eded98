package repository

import (
	"context"
	"time"

	"github.com/mr1hm/go-relief-fitness/internal/models"
	"github.com/mr1hm/go-relief-fitness/internal/predictor"
)

type Filter struct {
	Limit      int
	Offset     int
	NGO        *string  // matched on normalized name
	District   *string  // matched on normalized name
	MinFitness *float64 // >= this fitness
}

type NeedRepository interface {
	ReplaceNeeds(ctx context.Context, m *models.NeedMatrix) error
	LoadNeeds(ctx context.Context) (*models.NeedMatrix, error)
}

type CapabilityRepository interface {
	ReplaceCapabilities(ctx context.Context, t *models.CapabilityTable) error
	LoadCapabilities(ctx context.Context) (*models.CapabilityTable, error)
}

type PairRepository interface {
	ReplacePairs(ctx context.Context, runID string, pairs []models.ScoredPair) error
	ListPairs(ctx context.Context, opts Filter) ([]models.ScoredPair, error)
	ReplaceScores(ctx context.Context, runID string, caps *models.CapabilityTable, pairs []models.ScoredPair) error
}

type ModelInfo struct {
	predictor.Info
	Active bool `json:"active"`
}

type ModelRepository interface {
	SaveModel(ctx context.Context, m *predictor.Model) error
	ActiveModel(ctx context.Context) (*predictor.Model, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Run records one pipeline execution.
type Run struct {
	ID         string    `json:"id"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"` // "ok" or "failed"
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type RunRepository interface {
	RecordRun(ctx context.Context, r *Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
