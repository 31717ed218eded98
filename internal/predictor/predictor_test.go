package predictor

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func label(match, urgency float64) float64 {
	return 100 * (0.7*(match+1)/2 + 0.3*urgency)
}

func gridPairs(steps int) []models.ScoredPair {
	var pairs []models.ScoredPair
	for i := 0; i <= steps; i++ {
		for j := 0; j <= steps; j++ {
			match := -1 + 2*float64(i)/float64(steps)
			urgency := float64(j) / float64(steps)
			pairs = append(pairs, models.ScoredPair{
				NGO: "ngo", District: "district",
				Match: match, Urgency: urgency, Fitness: label(match, urgency),
			})
		}
	}
	return pairs
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Trees = 40
	opts.Workers = 4
	return opts
}

func TestFitTree_StepFunction(t *testing.T) {
	x := []sample{{0.1, 0}, {0.2, 0}, {0.3, 0}, {0.7, 0}, {0.8, 0}, {0.9, 0}}
	y := []float64{10, 10, 10, 90, 90, 90}
	idx := []int{0, 1, 2, 3, 4, 5}

	tree := fitTree(x, y, idx, 1, 0)

	require.Len(t, tree.Nodes, 3)
	assert.Equal(t, 0, tree.Nodes[0].Feature)
	assert.InDelta(t, 0.5, tree.Nodes[0].Threshold, 1e-12)
	assert.Equal(t, 10.0, tree.Predict(sample{0.0, 0}))
	assert.Equal(t, 90.0, tree.Predict(sample{1.0, 0}))
}

func TestFitTree_PureNodeIsLeaf(t *testing.T) {
	x := []sample{{0.1, 0.5}, {0.9, 0.2}}
	y := []float64{42, 42}

	tree := fitTree(x, y, []int{0, 1}, 1, 0)

	require.Len(t, tree.Nodes, 1)
	assert.Equal(t, 42.0, tree.Predict(sample{0.5, 0.5}))
}

func TestFitTree_MaxDepth(t *testing.T) {
	x := []sample{{0.1, 0}, {0.2, 0}, {0.3, 0}, {0.4, 0}}
	y := []float64{1, 2, 3, 4}

	tree := fitTree(x, y, []int{0, 1, 2, 3}, 1, 1)

	assert.Len(t, tree.Nodes, 3)
}

func TestMidpoint(t *testing.T) {
	assert.Equal(t, 0.5, midpoint(0, 1))
	next := math.Nextafter(1, 2)
	assert.Equal(t, 1.0, midpoint(1, next))
}

func TestR2(t *testing.T) {
	assert.Equal(t, 1.0, R2([]float64{1, 2, 3}, []float64{1, 2, 3}))
	assert.InDelta(t, 0.0, R2([]float64{1, 2, 3}, []float64{2, 2, 2}), 1e-12)
	assert.True(t, math.IsNaN(R2(nil, nil)))
	assert.True(t, math.IsNaN(R2([]float64{5, 5}, []float64{5, 4})))
}

func TestSplit(t *testing.T) {
	pairs := gridPairs(9) // 100 rows

	train, test := Split(pairs, 0.2, 42)
	assert.Len(t, train, 80)
	assert.Len(t, test, 20)

	train2, test2 := Split(pairs, 0.2, 42)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)

	_, test3 := Split(pairs, 0.2, 7)
	assert.NotEqual(t, test, test3)
}

func TestSplit_SmallSets(t *testing.T) {
	pairs := gridPairs(1) // 4 rows

	train, test := Split(pairs[:2], 0.2, 1)
	assert.Len(t, train, 1)
	assert.Len(t, test, 1)

	train, test = Split(pairs[:1], 0.2, 1)
	assert.Len(t, train, 1)
	assert.Empty(t, test)

	train, test = Split(pairs, 0, 1)
	assert.Len(t, train, 4)
	assert.Empty(t, test)
}

func TestTrain_FitsLabel(t *testing.T) {
	pairs := gridPairs(20)

	m, err := Train(context.Background(), pairs, testOptions())
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Len(t, m.Forest.Trees, 40)
	assert.Equal(t, len(pairs), m.TrainSize+m.TestSize)
	require.NotNil(t, m.R2)
	assert.Greater(t, *m.R2, 0.95)

	for _, p := range pairs[:50] {
		assert.InDelta(t, p.Fitness, m.Predict(p.Match, p.Urgency), 5.0)
	}
}

func TestTrain_Deterministic(t *testing.T) {
	pairs := gridPairs(10)

	a, err := Train(context.Background(), pairs, testOptions())
	require.NoError(t, err)
	b, err := Train(context.Background(), pairs, testOptions())
	require.NoError(t, err)

	assert.Equal(t, a.Forest, b.Forest)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestTrain_DropsNaNAndFailsWhenEmpty(t *testing.T) {
	nan := math.NaN()
	pairs := []models.ScoredPair{
		{Match: nan, Urgency: 0.2, Fitness: nan},
		{Match: 0.3, Urgency: 0.2, Fitness: nan},
	}

	_, err := Train(context.Background(), pairs, testOptions())
	assert.ErrorIs(t, err, models.ErrEmptyDataset)

	_, err = Train(context.Background(), nil, testOptions())
	assert.ErrorIs(t, err, models.ErrEmptyDataset)

	pairs = append(pairs, models.ScoredPair{Match: 0.5, Urgency: 0.5, Fitness: label(0.5, 0.5)})
	m, err := Train(context.Background(), pairs, testOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, m.TrainSize)
	assert.Nil(t, m.R2)
	assert.InDelta(t, label(0.5, 0.5), m.Predict(0.5, 0.5), 1e-9)
}

func TestTrain_InvalidOptions(t *testing.T) {
	opts := testOptions()
	opts.Trees = 0
	_, err := Train(context.Background(), gridPairs(3), opts)
	assert.Error(t, err)

	opts = testOptions()
	opts.TestFraction = 1
	_, err = Train(context.Background(), gridPairs(3), opts)
	assert.Error(t, err)
}

func TestTrain_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Train(ctx, gridPairs(5), testOptions())
	assert.Error(t, err)
}

func TestEncodeDecode(t *testing.T) {
	m, err := Train(context.Background(), gridPairs(6), testOptions())
	require.NoError(t, err)

	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Forest, got.Forest)
	assert.Equal(t, m.Predict(0.1, 0.9), got.Predict(0.1, 0.9))
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "garbage", data: `not json`},
		{name: "wrong format version", data: `{"format_version":99,"category_schema":1,"forest":{"trees":[{"nodes":[{"f":-1,"v":1}]}]}}`},
		{name: "wrong category schema", data: `{"format_version":1,"category_schema":0,"forest":{"trees":[{"nodes":[{"f":-1,"v":1}]}]}}`},
		{name: "no trees", data: `{"format_version":1,"category_schema":1,"forest":{"trees":[]}}`},
		{name: "dangling child", data: `{"format_version":1,"category_schema":1,"forest":{"trees":[{"nodes":[{"f":0,"t":0.5,"l":1,"r":5,"v":1},{"f":-1,"v":1}]}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "model.json")
	store := NewFileStore(path)

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, models.ErrModelNotTrained)

	first, err := Train(ctx, gridPairs(5), testOptions())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, first))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, loaded.ID)

	second, err := Train(ctx, gridPairs(6), testOptions())
	require.NoError(t, err)

	// A save that fails before writing leaves the previous artifact in place.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, store.Save(cancelled, second))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, loaded.ID)

	require.NoError(t, store.Save(ctx, second))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, loaded.ID)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
