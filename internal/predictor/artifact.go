package predictor

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

func Encode(m *Model) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error encoding model %s: %w", m.ID, err)
	}
	return data, nil
}

// Decode parses an artifact written by Encode and rejects layouts this build
// cannot serve.
func Decode(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("error decoding model: %w", err)
	}
	if m.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported model format version %d (want %d)", m.FormatVersion, FormatVersion)
	}
	if m.CategorySchema != models.CategorySchemaVersion {
		return nil, fmt.Errorf("model %s was trained on category schema %d, current is %d", m.ID, m.CategorySchema, models.CategorySchemaVersion)
	}
	if len(m.Forest.Trees) == 0 {
		return nil, fmt.Errorf("model %s has no trees", m.ID)
	}
	for i, t := range m.Forest.Trees {
		if err := t.check(); err != nil {
			return nil, fmt.Errorf("model %s tree %d: %w", m.ID, i, err)
		}
	}
	return &m, nil
}

// check rejects trees whose child links point outside the node table or
// backwards, which would loop or panic at prediction time.
func (t *Tree) check() error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Feature < 0 {
			continue
		}
		if n.Feature >= numFeatures {
			return fmt.Errorf("node %d: feature %d out of range", i, n.Feature)
		}
		for _, child := range []int32{n.Left, n.Right} {
			if int(child) <= i || int(child) >= len(t.Nodes) {
				return fmt.Errorf("node %d: child %d out of range", i, child)
			}
		}
	}
	return nil
}
