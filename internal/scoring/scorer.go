// Package scoring computes match, urgency and the heuristic fitness label for
// (NGO, district) pairs.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/mr1hm/go-relief-fitness/internal/models"
	"github.com/mr1hm/go-relief-fitness/internal/worker"
)

const (
	MatchWeight   = 0.7
	UrgencyWeight = 0.3
)

// Match is the cosine similarity of capability and need. It is 0 when either
// vector has zero norm or the lengths differ.
func Match(capability, need []float64) float64 {
	if len(capability) != len(need) || len(capability) == 0 {
		return 0
	}

	var dot, normC, normN float64
	for i := range capability {
		dot += capability[i] * need[i]
		normC += capability[i] * capability[i]
		normN += need[i] * need[i]
	}
	if normC == 0 || normN == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normC) * math.Sqrt(normN))
	return math.Max(-1, math.Min(1, sim))
}

// Urgency is the mean need component divided by 100, so a need vector on the
// [0,100] scale yields a value in [0,1].
func Urgency(need []float64) float64 {
	if len(need) == 0 {
		return 0
	}
	var sum float64
	for _, v := range need {
		sum += v
	}
	return sum / float64(len(need)) / 100
}

// Label is the heuristic training target on the [0,100] scale. Match is
// rescaled from [-1,1] to [0,1] before weighting.
func Label(match, urgency float64) float64 {
	return 100 * (MatchWeight*(match+1)/2 + UrgencyWeight*urgency)
}

// Categories returns the categories shared by both tables.
func Categories(needs *models.NeedMatrix, caps *models.CapabilityTable) ([]models.Category, error) {
	if needs == nil || caps == nil {
		return nil, models.ErrNoOverlap
	}
	cats := models.IntersectCategories(needs.Categories, caps.Categories)
	if len(cats) == 0 {
		return nil, models.ErrNoOverlap
	}
	return cats, nil
}

func score(ngo *models.NGOCapability, district *models.DistrictNeed, cats []models.Category) models.ScoredPair {
	need := district.Needs.Project(cats)
	match := Match(ngo.Capabilities.Project(cats), need)
	urgency := Urgency(need)
	return models.ScoredPair{
		NGO:      ngo.Name,
		District: district.District,
		Match:    match,
		Urgency:  urgency,
		Fitness:  Label(match, urgency),
	}
}

// ScorePair scores one named NGO against one named district. Fitness on the
// result is the heuristic label.
func ScorePair(needs *models.NeedMatrix, caps *models.CapabilityTable, ngoName, districtName string) (models.ScoredPair, error) {
	ngo, ok := caps.Find(ngoName)
	if !ok {
		return models.ScoredPair{}, &models.UnknownEntityError{Kind: models.EntityNGO, Name: ngoName}
	}
	district, ok := needs.Find(districtName)
	if !ok {
		return models.ScoredPair{}, &models.UnknownEntityError{Kind: models.EntityDistrict, Name: districtName}
	}
	cats, err := Categories(needs, caps)
	if err != nil {
		return models.ScoredPair{}, err
	}
	return score(ngo, district, cats), nil
}

type Scorer struct {
	workers    int
	bufferSize int
}

func NewScorer(workers, bufferSize int) *Scorer {
	return &Scorer{
		workers:    workers,
		bufferSize: bufferSize,
	}
}

// ScoreAll scores every (NGO, district) pair. Work is spread over the worker
// pool one NGO per job; the result is sorted by NGO then district so it does
// not depend on scheduling. Pairs with a NaN label are dropped.
func (s *Scorer) ScoreAll(ctx context.Context, needs *models.NeedMatrix, caps *models.CapabilityTable) ([]models.ScoredPair, error) {
	cats, err := Categories(needs, caps)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		pairs = make([]models.ScoredPair, 0, len(caps.Rows)*len(needs.Rows))
	)

	scoreNGO := func(ctx context.Context, ngo *models.NGOCapability) error {
		rows := make([]models.ScoredPair, 0, len(needs.Rows))
		for i := range needs.Rows {
			p := score(ngo, &needs.Rows[i], cats)
			if math.IsNaN(p.Fitness) {
				continue
			}
			rows = append(rows, p)
		}

		mu.Lock()
		pairs = append(pairs, rows...)
		mu.Unlock()
		return nil
	}

	jobs := make([]*models.NGOCapability, len(caps.Rows))
	for i := range caps.Rows {
		jobs[i] = &caps.Rows[i]
	}
	stats, err := worker.Run(ctx, s.workers, s.bufferSize, jobs, scoreNGO)
	if err != nil {
		return nil, fmt.Errorf("error scoring pairs: %w", err)
	}
	slog.Debug("scored ngos", "ngos", stats.Processed, "pairs", len(pairs))

	sort.Slice(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if ka, kb := models.NormalizeName(a.NGO), models.NormalizeName(b.NGO); ka != kb {
			return ka < kb
		}
		return models.NormalizeName(a.District) < models.NormalizeName(b.District)
	})

	return pairs, nil
}
