// Package pipeline sequences need normalization, pair scoring and model
// training, persisting each stage's output before the next one starts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mr1hm/go-relief-fitness/internal/ingestion"
	"github.com/mr1hm/go-relief-fitness/internal/metrics"
	"github.com/mr1hm/go-relief-fitness/internal/models"
	"github.com/mr1hm/go-relief-fitness/internal/needs"
	"github.com/mr1hm/go-relief-fitness/internal/observability"
	"github.com/mr1hm/go-relief-fitness/internal/predictor"
	"github.com/mr1hm/go-relief-fitness/internal/repository"
	"github.com/mr1hm/go-relief-fitness/internal/scoring"
)

const (
	StageNeeds = "needs"
	StageScore = "score"
	StageTrain = "train"

	NeedsFile = "regional_needs.csv"
	PairsFile = "ngo_region_scores.csv"
	ModelFile = "model.json"
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("pipeline run already in progress")

// Repository is the storage the pipeline reads and writes.
type Repository interface {
	repository.NeedRepository
	repository.CapabilityRepository
	repository.PairRepository
	repository.ModelRepository
	repository.RunRepository
}

// Listener is notified after a training stage stores a new model.
type Listener interface {
	ModelPublished(m *predictor.Model)
}

type ListenerFunc func(m *predictor.Model)

func (f ListenerFunc) ModelPublished(m *predictor.Model) { f(m) }

// DataListener is implemented by listeners that also want the need matrix
// and capability table whenever a stage replaces them. Either may be nil.
type DataListener interface {
	DataUpdated(needs *models.NeedMatrix, caps *models.CapabilityTable)
}

type Options struct {
	Sources    ingestion.Sources
	OutputDir  string // optional CSV/JSON copies of each stage output
	ModelPath  string // optional extra file store for the active model
	Train      predictor.Options
	Workers    int
	BufferSize int
}

type Pipeline struct {
	repo   Repository
	opts   Options
	scorer *scoring.Scorer
	stores []predictor.Store

	run sync.Mutex

	mu        sync.RWMutex
	listeners []Listener
}

func New(repo Repository, opts Options) *Pipeline {
	p := &Pipeline{
		repo:   repo,
		opts:   opts,
		scorer: scoring.NewScorer(opts.Workers, opts.BufferSize),
	}
	if opts.ModelPath != "" {
		p.stores = append(p.stores, predictor.NewFileStore(opts.ModelPath))
	}
	if opts.OutputDir != "" {
		p.stores = append(p.stores, predictor.NewFileStore(filepath.Join(opts.OutputDir, ModelFile)))
	}
	return p
}

func (p *Pipeline) Subscribe(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Result summarizes one run.
type Result struct {
	RunID     string             `json:"run_id"`
	Districts int                `json:"districts"`
	NGOs      int                `json:"ngos"`
	Pairs     int                `json:"pairs"`
	Model     *predictor.Info    `json:"model,omitempty"`
	Took      time.Duration      `json:"took"`
	Needs     *models.NeedMatrix `json:"-"`
}

// Run executes all three stages in order under one run id. A failing stage
// aborts the run; earlier stages keep their stored output.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if !p.run.TryLock() {
		return nil, ErrBusy
	}
	defer p.run.Unlock()

	res := &Result{RunID: uuid.NewString()}
	start := time.Now()
	slog.Info("pipeline run started", "run_id", res.RunID)

	m, err := p.buildNeeds(ctx, res.RunID)
	if err != nil {
		return nil, err
	}
	res.Districts = len(m.Rows)
	res.Needs = m

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pairs, caps, err := p.score(ctx, res.RunID)
	if err != nil {
		return nil, err
	}
	res.Pairs = len(pairs)
	res.NGOs = len(caps.Rows)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	model, err := p.train(ctx, res.RunID)
	if err != nil {
		return nil, err
	}
	info := model.Info()
	res.Model = &info
	res.Took = time.Since(start)

	slog.Info("pipeline run finished", "run_id", res.RunID, "pairs", res.Pairs, "model_id", model.ID, "took", res.Took)
	return res, nil
}

// BuildNeeds normalizes the damage and population inputs and stores the
// need matrix.
func (p *Pipeline) BuildNeeds(ctx context.Context) (*models.NeedMatrix, error) {
	if !p.run.TryLock() {
		return nil, ErrBusy
	}
	defer p.run.Unlock()
	return p.buildNeeds(ctx, uuid.NewString())
}

// Score scores every pair from the stored need matrix and the capability
// input (or the stored capability table when no input is configured).
func (p *Pipeline) Score(ctx context.Context) ([]models.ScoredPair, error) {
	if !p.run.TryLock() {
		return nil, ErrBusy
	}
	defer p.run.Unlock()
	pairs, _, err := p.score(ctx, uuid.NewString())
	return pairs, err
}

// Train fits a model on the stored scored pairs and activates it.
func (p *Pipeline) Train(ctx context.Context) (*predictor.Model, error) {
	if !p.run.TryLock() {
		return nil, ErrBusy
	}
	defer p.run.Unlock()
	return p.train(ctx, uuid.NewString())
}

func (p *Pipeline) buildNeeds(ctx context.Context, runID string) (*models.NeedMatrix, error) {
	var m *models.NeedMatrix
	err := p.stage(ctx, runID, StageNeeds, func(ctx context.Context) error {
		src := p.opts.Sources
		if src.DamagePath == "" || src.PopulationPath == "" {
			return errors.New("damage and population inputs must both be configured")
		}
		in, err := ingestion.Sources{DamagePath: src.DamagePath, PopulationPath: src.PopulationPath}.Load(ctx)
		if err != nil {
			return err
		}

		if m, err = needs.Build(in.Districts, in.Population); err != nil {
			return err
		}
		if err := p.repo.ReplaceNeeds(ctx, m); err != nil {
			return err
		}
		if err := p.writeOutput(NeedsFile, func(w io.Writer) error { return ingestion.WriteNeeds(w, m) }); err != nil {
			return err
		}

		metrics.Districts.Set(float64(len(m.Rows)))
		p.notifyData(m, nil)
		slog.Info("need matrix built", "run_id", runID, "districts", len(m.Rows))
		return nil
	})
	return m, err
}

func (p *Pipeline) score(ctx context.Context, runID string) ([]models.ScoredPair, *models.CapabilityTable, error) {
	var (
		pairs []models.ScoredPair
		caps  *models.CapabilityTable
	)
	err := p.stage(ctx, runID, StageScore, func(ctx context.Context) error {
		m, err := p.repo.LoadNeeds(ctx)
		if err != nil {
			return err
		}
		if len(m.Rows) == 0 {
			return fmt.Errorf("no stored need matrix, run the %s stage first: %w", StageNeeds, &models.EmptyInputError{Table: ingestion.NeedsTable})
		}

		var fresh bool
		if caps, fresh, err = p.loadCapabilities(ctx); err != nil {
			return err
		}

		if pairs, err = p.scorer.ScoreAll(ctx, m, caps); err != nil {
			return err
		}
		stored := caps
		if !fresh {
			stored = nil // already the stored table
		}
		if err := p.repo.ReplaceScores(ctx, runID, stored, pairs); err != nil {
			return err
		}
		if err := p.writeOutput(PairsFile, func(w io.Writer) error { return ingestion.WritePairs(w, pairs) }); err != nil {
			return err
		}

		metrics.ScoredPairs.Set(float64(len(pairs)))
		p.notifyData(m, caps)
		slog.Info("pairs scored", "run_id", runID, "ngos", len(caps.Rows), "districts", len(m.Rows), "pairs", len(pairs))
		return nil
	})
	return pairs, caps, err
}

// loadCapabilities reads the capability CSV when one is configured and falls
// back to the stored table otherwise. fresh reports that the table came from
// the file and still has to be stored.
func (p *Pipeline) loadCapabilities(ctx context.Context) (caps *models.CapabilityTable, fresh bool, err error) {
	src := p.opts.Sources
	if src.CapabilitiesPath == "" {
		caps, err = p.repo.LoadCapabilities(ctx)
		if err != nil {
			return nil, false, err
		}
		if len(caps.Rows) == 0 {
			return nil, false, &models.EmptyInputError{Table: ingestion.CapabilityTable}
		}
		return caps, false, nil
	}

	in, err := ingestion.Sources{
		CapabilitiesPath: src.CapabilitiesPath,
		Format:           src.Format,
		Binarize:         src.Binarize,
	}.Load(ctx)
	if err != nil {
		return nil, false, err
	}
	return in.Capabilities, true, nil
}

func (p *Pipeline) train(ctx context.Context, runID string) (*predictor.Model, error) {
	var m *predictor.Model
	err := p.stage(ctx, runID, StageTrain, func(ctx context.Context) error {
		pairs, err := p.repo.ListPairs(ctx, repository.Filter{})
		if err != nil {
			return err
		}
		if m, err = predictor.Train(ctx, pairs, p.opts.Train); err != nil {
			return err
		}
		if err := p.repo.SaveModel(ctx, m); err != nil {
			return err
		}
		for _, s := range p.stores {
			if err := s.Save(ctx, m); err != nil {
				return err
			}
		}

		if m.R2 != nil {
			metrics.ModelR2.Set(*m.R2)
		}
		p.publish(m)
		return nil
	})
	return m, err
}

// stage wraps one stage with a span, duration metrics, a run record and logs.
func (p *Pipeline) stage(ctx context.Context, runID, name string, fn func(ctx context.Context) error) error {
	ctx, span := observability.Tracer("pipeline").Start(ctx, "pipeline."+name)
	defer span.End()
	span.SetAttributes(
		attribute.String("pipeline.run_id", runID),
		attribute.String("pipeline.stage", name),
	)

	slog.Info("stage started", "run_id", runID, "stage", name)
	started := time.Now()
	err := fn(ctx)
	finished := time.Now()

	status := "ok"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	metrics.StageDuration.WithLabelValues(name, status).Observe(finished.Sub(started).Seconds())
	metrics.PipelineRuns.WithLabelValues(name, status).Inc()

	run := &repository.Run{
		ID:         runID,
		Stage:      name,
		Status:     status,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err != nil {
		run.Error = err.Error()
	}
	// Record failures of cancelled runs too.
	if recErr := p.repo.RecordRun(context.WithoutCancel(ctx), run); recErr != nil {
		slog.Error("failed to record run", "run_id", runID, "stage", name, "error", recErr)
	}

	if err != nil {
		slog.Error("stage failed", "run_id", runID, "stage", name, "took", finished.Sub(started), "error", err)
		return fmt.Errorf("%s stage: %w", name, err)
	}
	slog.Info("stage finished", "run_id", runID, "stage", name, "took", finished.Sub(started))
	return nil
}

func (p *Pipeline) writeOutput(name string, fn func(io.Writer) error) error {
	if p.opts.OutputDir == "" {
		return nil
	}
	return ingestion.WriteFile(filepath.Join(p.opts.OutputDir, name), fn)
}

func (p *Pipeline) subscribers() []Listener {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Listener(nil), p.listeners...)
}

func (p *Pipeline) publish(m *predictor.Model) {
	for _, l := range p.subscribers() {
		l.ModelPublished(m)
	}
}

func (p *Pipeline) notifyData(m *models.NeedMatrix, caps *models.CapabilityTable) {
	for _, l := range p.subscribers() {
		if dl, ok := l.(DataListener); ok {
			dl.DataUpdated(m, caps)
		}
	}
}
