package predictor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-relief-fitness/internal/models"
	"github.com/mr1hm/go-relief-fitness/internal/worker"
)

// splitStream is the PCG stream used for the train/test shuffle; tree t uses
// stream t+1, so no two random sequences overlap for a given seed.
const splitStream = 0

type Options struct {
	Trees        int
	Seed         uint64
	TestFraction float64
	MinLeaf      int
	MaxDepth     int // 0 means unlimited
	Workers      int
}

func DefaultOptions() Options {
	return Options{
		Trees:        300,
		Seed:         42,
		TestFraction: 0.2,
		MinLeaf:      1,
		Workers:      runtime.NumCPU(),
	}
}

func (o Options) validate() error {
	if o.Trees < 1 {
		return fmt.Errorf("trees must be at least 1, got %d", o.Trees)
	}
	if o.TestFraction < 0 || o.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be in [0,1), got %v", o.TestFraction)
	}
	if o.MinLeaf < 1 {
		return fmt.Errorf("min leaf must be at least 1, got %d", o.MinLeaf)
	}
	if o.MaxDepth < 0 {
		return fmt.Errorf("max depth must not be negative, got %d", o.MaxDepth)
	}
	return nil
}

func usable(p models.ScoredPair) bool {
	for _, v := range []float64{p.Match, p.Urgency, p.Fitness} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Split shuffles pairs with a seeded source and returns the training and
// held-out sets. At least one row is held out whenever fraction > 0 and there
// are two or more rows; at least one row always stays in training.
func Split(pairs []models.ScoredPair, fraction float64, seed uint64) (train, test []models.ScoredPair) {
	n := len(pairs)
	nTest := int(math.Round(float64(n) * fraction))
	if fraction > 0 && n >= 2 && nTest == 0 {
		nTest = 1
	}
	if nTest >= n {
		nTest = n - 1
	}
	if nTest < 0 {
		nTest = 0
	}

	rng := rand.New(rand.NewPCG(seed, splitStream))
	perm := rng.Perm(n)

	test = make([]models.ScoredPair, 0, nTest)
	train = make([]models.ScoredPair, 0, n-nTest)
	for k, i := range perm {
		if k < nTest {
			test = append(test, pairs[i])
		} else {
			train = append(train, pairs[i])
		}
	}
	return train, test
}

// Train fits a bagged regression-tree ensemble mapping (match, urgency) to
// the pair's Fitness label and scores it on a held-out split. Rows with a
// non-finite match, urgency or label are dropped first.
func Train(ctx context.Context, pairs []models.ScoredPair, opts Options) (*Model, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	valid := make([]models.ScoredPair, 0, len(pairs))
	for _, p := range pairs {
		if usable(p) {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return nil, models.ErrEmptyDataset
	}
	if dropped := len(pairs) - len(valid); dropped > 0 {
		slog.Warn("dropped unusable training rows", "dropped", dropped)
	}

	train, test := Split(valid, opts.TestFraction, opts.Seed)

	x := make([]sample, len(train))
	y := make([]float64, len(train))
	for i, p := range train {
		x[i] = sample{p.Match, p.Urgency}
		y[i] = p.Fitness
	}

	start := time.Now()
	trees, err := fitForest(ctx, x, y, opts)
	if err != nil {
		return nil, err
	}

	m := &Model{
		ID:             uuid.NewString(),
		FormatVersion:  FormatVersion,
		CategorySchema: models.CategorySchemaVersion,
		CreatedAt:      time.Now().UTC(),
		Seed:           opts.Seed,
		MinLeaf:        opts.MinLeaf,
		MaxDepth:       opts.MaxDepth,
		TrainSize:      len(train),
		TestSize:       len(test),
		Forest:         Forest{Trees: trees},
	}

	truth := make([]float64, len(test))
	for i, p := range test {
		truth[i] = p.Fitness
	}
	m.R2 = finiteOrNil(R2(truth, m.PredictBatch(test)))

	attrs := []any{"id", m.ID, "trees", len(trees), "train", m.TrainSize, "test", m.TestSize, "took", time.Since(start)}
	if m.R2 != nil {
		attrs = append(attrs, "r2", *m.R2)
	}
	slog.Info("model trained", attrs...)

	return m, nil
}

// fitForest grows each tree on its own bootstrap sample. Tree t draws from
// PCG stream t+1 of the seed, so the forest is the same for a seed however
// the worker pool schedules the jobs.
func fitForest(ctx context.Context, x []sample, y []float64, opts Options) ([]Tree, error) {
	trees := make([]Tree, opts.Trees)
	n := len(x)

	grow := func(ctx context.Context, t int) error {
		rng := rand.New(rand.NewPCG(opts.Seed, uint64(t)+1))
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.IntN(n)
		}
		trees[t] = fitTree(x, y, idx, opts.MinLeaf, opts.MaxDepth)
		return nil
	}

	pool := worker.NewPool(opts.Workers, opts.Trees, grow)
	pool.Start(ctx)
	for t := 0; t < opts.Trees; t++ {
		if err := pool.Submit(ctx, t); err != nil {
			pool.Stop()
			return nil, fmt.Errorf("error submitting tree %d: %w", t, err)
		}
	}
	if err := pool.Stop(); err != nil {
		return nil, fmt.Errorf("error fitting forest: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return trees, nil
}
