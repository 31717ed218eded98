// Package fitness answers fitness queries for (NGO, district) pairs against
// the current need matrix, capability table and active model.
package fitness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mr1hm/go-relief-fitness/internal/metrics"
	"github.com/mr1hm/go-relief-fitness/internal/models"
	"github.com/mr1hm/go-relief-fitness/internal/predictor"
	"github.com/mr1hm/go-relief-fitness/internal/scoring"
)

// Prediction is one served fitness score. Fitness is clamped to [0,100];
// RawFitness is the model output as is.
type Prediction struct {
	NGO        string  `json:"ngo"`
	District   string  `json:"district"`
	Match      float64 `json:"match"`
	Urgency    float64 `json:"urgency"`
	Fitness    float64 `json:"fitness"`
	RawFitness float64 `json:"raw_fitness"`
	ModelID    string  `json:"model_id"`
}

// Source is where Reload gets its state from.
type Source interface {
	LoadNeeds(ctx context.Context) (*models.NeedMatrix, error)
	LoadCapabilities(ctx context.Context) (*models.CapabilityTable, error)
	ActiveModel(ctx context.Context) (*predictor.Model, error)
}

type Service struct {
	mu    sync.RWMutex
	needs *models.NeedMatrix
	caps  *models.CapabilityTable

	model atomic.Pointer[predictor.Model]
}

func NewService() *Service {
	return &Service{}
}

// SetData swaps in a new need matrix and capability table. Either may be nil
// to keep the current one.
func (s *Service) SetData(needs *models.NeedMatrix, caps *models.CapabilityTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if needs != nil {
		s.needs = needs
	}
	if caps != nil {
		s.caps = caps
	}
}

// SetModel makes m the active model. In-flight predictions finish on the
// model they started with.
func (s *Service) SetModel(m *predictor.Model) {
	s.model.Store(m)
	if m != nil && m.R2 != nil {
		metrics.ModelR2.Set(*m.R2)
	}
}

// ModelPublished lets the service subscribe to pipeline model events.
func (s *Service) ModelPublished(m *predictor.Model) {
	s.SetModel(m)
	slog.Info("active model updated", "model_id", m.ID)
}

// DataUpdated lets the service follow need matrix and capability changes.
func (s *Service) DataUpdated(needs *models.NeedMatrix, caps *models.CapabilityTable) {
	s.SetData(needs, caps)
}

func (s *Service) Model() (*predictor.Model, error) {
	m := s.model.Load()
	if m == nil {
		return nil, models.ErrModelNotTrained
	}
	return m, nil
}

// Reload replaces data and model from src. A source without a trained model
// is not an error; predictions fail with ErrModelNotTrained until one arrives.
func (s *Service) Reload(ctx context.Context, src Source) error {
	needs, err := src.LoadNeeds(ctx)
	if err != nil {
		return fmt.Errorf("error loading needs: %w", err)
	}
	caps, err := src.LoadCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("error loading capabilities: %w", err)
	}
	s.SetData(needs, caps)

	m, err := src.ActiveModel(ctx)
	switch {
	case errors.Is(err, models.ErrModelNotTrained):
		slog.Warn("no trained model available")
	case err != nil:
		return fmt.Errorf("error loading active model: %w", err)
	default:
		s.SetModel(m)
	}

	slog.Info("fitness service reloaded",
		"districts", len(needs.Rows),
		"ngos", len(caps.Rows),
		"model_loaded", m != nil,
	)
	return nil
}

func (s *Service) snapshot() (*models.NeedMatrix, *models.CapabilityTable) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.needs, s.caps
}

// Predict scores a single named pair. Unknown names and an empty category
// overlap are reported before a missing model.
func (s *Service) Predict(ngo, district string) (Prediction, error) {
	needs, caps := s.snapshot()
	pair, err := scoring.ScorePair(needs, caps, ngo, district)
	if err != nil {
		return Prediction{}, err
	}
	m, err := s.Model()
	if err != nil {
		return Prediction{}, err
	}
	return predict(m, pair), nil
}

// PredictPair runs the active model on an already computed (match, urgency).
func (s *Service) PredictPair(match, urgency float64) (Prediction, error) {
	m, err := s.Model()
	if err != nil {
		return Prediction{}, err
	}
	return predict(m, models.ScoredPair{Match: match, Urgency: urgency}), nil
}

func predict(m *predictor.Model, pair models.ScoredPair) Prediction {
	raw := m.Predict(pair.Match, pair.Urgency)
	return Prediction{
		NGO:        pair.NGO,
		District:   pair.District,
		Match:      pair.Match,
		Urgency:    pair.Urgency,
		Fitness:    Clamp(raw),
		RawFitness: raw,
		ModelID:    m.ID,
	}
}

// RankDistricts predicts ngo against every district, best first. limit <= 0
// returns all of them.
func (s *Service) RankDistricts(ngo string, limit int) ([]Prediction, error) {
	needs, caps := s.snapshot()
	if _, ok := caps.Find(ngo); !ok {
		return nil, &models.UnknownEntityError{Kind: models.EntityNGO, Name: ngo}
	}
	return s.rank(needs, caps, []string{ngo}, needs.Districts(), limit)
}

// RankNGOs predicts every NGO against district, best first.
func (s *Service) RankNGOs(district string, limit int) ([]Prediction, error) {
	needs, caps := s.snapshot()
	if _, ok := needs.Find(district); !ok {
		return nil, &models.UnknownEntityError{Kind: models.EntityDistrict, Name: district}
	}
	return s.rank(needs, caps, caps.NGOs(), []string{district}, limit)
}

func (s *Service) rank(needs *models.NeedMatrix, caps *models.CapabilityTable, ngos, districts []string, limit int) ([]Prediction, error) {
	if _, err := scoring.Categories(needs, caps); err != nil {
		return nil, err
	}
	m, err := s.Model()
	if err != nil {
		return nil, err
	}

	out := make([]Prediction, 0, len(ngos)*len(districts))
	for _, ngo := range ngos {
		for _, district := range districts {
			pair, err := scoring.ScorePair(needs, caps, ngo, district)
			if err != nil {
				return nil, err
			}
			out = append(out, predict(m, pair))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RawFitness != out[j].RawFitness {
			return out[i].RawFitness > out[j].RawFitness
		}
		if ki, kj := models.NormalizeName(out[i].NGO), models.NormalizeName(out[j].NGO); ki != kj {
			return ki < kj
		}
		return models.NormalizeName(out[i].District) < models.NormalizeName(out[j].District)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) NGOs() []string {
	_, caps := s.snapshot()
	return caps.NGOs()
}

func (s *Service) Districts() []string {
	needs, _ := s.snapshot()
	return needs.Districts()
}

// District returns the need row for name, including its location if known.
func (s *Service) District(name string) (models.DistrictNeed, bool) {
	needs, _ := s.snapshot()
	d, ok := needs.Find(name)
	if !ok {
		return models.DistrictNeed{}, false
	}
	return *d, true
}

// Clamp limits a model output to the [0,100] fitness scale. NaN maps to 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
