package predictor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

// Store persists the active model. Save must replace the previous artifact
// atomically: a concurrent Load sees either the old model or the new one.
// Load returns models.ErrModelNotTrained when nothing has been saved.
type Store interface {
	Save(ctx context.Context, m *Model) error
	Load(ctx context.Context) (*Model, error)
}

// FileStore keeps the artifact in a single JSON file. Writes go to a temp
// file in the same directory which is then renamed over the target.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Save(ctx context.Context, m *Model) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("error creating model directory: %w", err)
	}
	if err := renameio.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("error writing model %s: %w", s.Path, err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, models.ErrModelNotTrained
	}
	if err != nil {
		return nil, fmt.Errorf("error reading model %s: %w", s.Path, err)
	}
	return Decode(data)
}
