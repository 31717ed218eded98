package predictor

import (
	"math"
	"sort"
)

const numFeatures = 2 // match, urgency

type sample [numFeatures]float64

// Node is one node of a flattened regression tree. Leaves have Feature == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int32   `json:"l,omitempty"`
	Right     int32   `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) Predict(x sample) float64 {
	if len(t.Nodes) == 0 {
		return math.NaN()
	}
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeBuilder struct {
	x        []sample
	y        []float64
	minLeaf  int
	maxDepth int
	nodes    []Node
}

// fitTree grows a CART regression tree on the rows named by idx (which may
// repeat, as in a bootstrap sample), choosing squared-error-minimizing splits.
func fitTree(x []sample, y []float64, idx []int, minLeaf, maxDepth int) Tree {
	if minLeaf < 1 {
		minLeaf = 1
	}
	b := &treeBuilder{
		x:        x,
		y:        y,
		minLeaf:  minLeaf,
		maxDepth: maxDepth,
	}
	b.build(idx, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) build(idx []int, depth int) int32 {
	id := int32(len(b.nodes))

	sum := 0.0
	for _, i := range idx {
		sum += b.y[i]
	}
	mean := sum / float64(len(idx))
	b.nodes = append(b.nodes, Node{Feature: -1, Value: mean})

	if len(idx) < 2*b.minLeaf || (b.maxDepth > 0 && depth >= b.maxDepth) || b.pure(idx) {
		return id
	}

	feature, threshold, ok := b.bestSplit(idx, sum)
	if !ok {
		return id
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[id] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r, Value: mean}
	return id
}

func (b *treeBuilder) pure(idx []int) bool {
	first := b.y[idx[0]]
	for _, i := range idx[1:] {
		if b.y[i] != first {
			return false
		}
	}
	return true
}

// bestSplit maximizes sumL²/nL + sumR²/nR, which is equivalent to minimizing
// the summed squared error of the two children.
func (b *treeBuilder) bestSplit(idx []int, total float64) (int, float64, bool) {
	n := len(idx)
	best := total * total / float64(n)
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, n)
	for f := 0; f < numFeatures; f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.x[sorted[i]][f] < b.x[sorted[j]][f]
		})

		leftSum := 0.0
		for k := 0; k < n-1; k++ {
			leftSum += b.y[sorted[k]]
			lo, hi := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if lo == hi {
				continue
			}
			nl, nr := k+1, n-k-1
			if nl < b.minLeaf || nr < b.minLeaf {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(nr)
			if score > best {
				best = score
				bestFeature = f
				bestThreshold = midpoint(lo, hi)
				found = true
			}
		}
	}

	return bestFeature, bestThreshold, found
}

// midpoint returns a threshold t with lo <= t < hi.
func midpoint(lo, hi float64) float64 {
	t := lo + (hi-lo)/2
	if t >= hi {
		return lo
	}
	return t
}
