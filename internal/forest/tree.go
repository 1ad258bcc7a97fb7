package forest

import (
	"cmp"
	"math/rand/v2"
	"slices"
)

// Node is one tree node. Leaves have Feature == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// Tree is a regression tree stored as a flat node slice rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(x []float64) float64 {
	n := t.Nodes[0]
	for n.Feature >= 0 {
		if x[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}

type builder struct {
	x     [][]float64
	y     []float64
	cfg   Config
	rng   *rand.Rand
	nodes []Node
	feats []int
}

func growTree(x [][]float64, y []float64, idx []int, cfg Config, rng *rand.Rand) Tree {
	b := &builder{x: x, y: y, cfg: cfg, rng: rng, feats: make([]int, len(x[0]))}
	for i := range b.feats {
		b.feats[i] = i
	}
	b.grow(idx, 0)
	return Tree{Nodes: b.nodes}
}

// grow appends the subtree for idx and returns its root index.
func (b *builder) grow(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: b.mean(idx)})

	if len(idx) < b.cfg.MinSamplesSplit || (b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) || b.constant(idx) {
		return id
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id].Feature = feature
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

// bestSplit maximises the reduction in squared error over the candidate
// features. Thresholds are midpoints between adjacent distinct values.
func (b *builder) bestSplit(idx []int) (feature int, threshold float64, ok bool) {
	n := len(idx)
	var total float64
	for _, i := range idx {
		total += b.y[i]
	}
	best := total * total / float64(n)
	minLeaf := b.cfg.MinSamplesLeaf

	candidates := b.feats
	if b.cfg.MaxFeatures < len(b.feats) {
		b.rng.Shuffle(len(b.feats), func(i, j int) { b.feats[i], b.feats[j] = b.feats[j], b.feats[i] })
		candidates = slices.Clone(b.feats[:b.cfg.MaxFeatures])
		slices.Sort(candidates)
	}

	order := make([]int, n)
	for _, f := range candidates {
		copy(order, idx)
		slices.SortFunc(order, func(a, c int) int {
			return cmp.Compare(b.x[a][f], b.x[c][f])
		})

		var leftSum float64
		for k := 0; k < n-1; k++ {
			leftSum += b.y[order[k]]
			lo, hi := b.x[order[k]][f], b.x[order[k+1]][f]
			if lo == hi {
				continue
			}
			nl, nr := k+1, n-k-1
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(nr)
			if score > best+1e-12 {
				best = score
				feature = f
				threshold = lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func (b *builder) mean(idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	return sum / float64(len(idx))
}

func (b *builder) constant(idx []int) bool {
	for _, i := range idx[1:] {
		if b.y[i] != b.y[idx[0]] {
			return false
		}
	}
	return true
}
