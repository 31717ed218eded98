package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

// Sources names the input files of one pipeline run.
type Sources struct {
	DamagePath       string
	PopulationPath   string
	CapabilitiesPath string
	Format           Format
	Binarize         bool
}

// Inputs is everything the pipeline reads from disk.
type Inputs struct {
	Districts    []models.DistrictMetrics
	Population   []models.PopulationDensity
	Capabilities *models.CapabilityTable
}

// Load reads the three input tables concurrently. An empty path skips that
// table; the caller decides whether a missing table is an error.
func (s Sources) Load(ctx context.Context) (*Inputs, error) {
	in := &Inputs{}
	g, ctx := errgroup.WithContext(ctx)

	if s.DamagePath != "" {
		g.Go(func() error {
			return readFile(ctx, s.DamagePath, func(r io.Reader) (err error) {
				in.Districts, err = ReadDamage(r)
				return err
			})
		})
	}
	if s.PopulationPath != "" {
		g.Go(func() error {
			return readFile(ctx, s.PopulationPath, func(r io.Reader) (err error) {
				in.Population, err = ReadPopulation(r)
				return err
			})
		})
	}
	if s.CapabilitiesPath != "" {
		g.Go(func() error {
			return readFile(ctx, s.CapabilitiesPath, func(r io.Reader) error {
				caps, err := ReadCapabilities(r, s.Format)
				if err != nil {
					return err
				}
				if s.Binarize {
					caps = caps.Binarize()
				}
				in.Capabilities = caps
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("loaded inputs",
		"districts", len(in.Districts),
		"population_rows", len(in.Population),
		"ngos", len(in.Capabilities.NGOs()),
	)
	return in, nil
}

func readFile(ctx context.Context, path string, fn func(io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", path, err)
	}
	defer f.Close()
	if err := fn(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// WriteFile atomically replaces path with whatever fn writes. On error the
// previous file is left untouched.
func WriteFile(path string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directory for %s: %w", path, err)
	}
	t, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("error creating temp file for %s: %w", path, err)
	}
	defer t.Cleanup()

	if err := fn(t); err != nil {
		return err
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("error replacing %s: %w", path, err)
	}
	return nil
}

func ReadNeedsFile(path string) (*models.NeedMatrix, error) {
	var m *models.NeedMatrix
	err := readFile(context.Background(), path, func(r io.Reader) (err error) {
		m, err = ReadNeeds(r)
		return err
	})
	return m, err
}

func ReadPairsFile(path string) ([]models.ScoredPair, error) {
	var pairs []models.ScoredPair
	err := readFile(context.Background(), path, func(r io.Reader) (err error) {
		pairs, err = ReadPairs(r)
		return err
	})
	return pairs, err
}
