// Package forest implements a bagged ensemble of CART regression trees.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNoSamples = errors.New("no training samples")
	ErrDimension = errors.New("feature dimension mismatch")
)

// Config controls forest construction. Zero values fall back to the defaults.
type Config struct {
	Estimators      int
	Seed            uint64
	MaxFeatures     int // features considered per split; 0 means all
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	Workers         int // 0 means GOMAXPROCS
}

// DefaultConfig is 200 fully grown bootstrap trees with a fixed seed.
func DefaultConfig() Config {
	return Config{
		Estimators:      200,
		Seed:            42,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Estimators <= 0 {
		c.Estimators = d.Estimators
	}
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = d.MinSamplesSplit
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = d.MinSamplesLeaf
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// Forest is a fitted regressor. Its exported fields are its serialised form.
type Forest struct {
	Features int    `json:"features"`
	Trees    []Tree `json:"trees"`
}

// Fit grows cfg.Estimators trees, each on a bootstrap resample of (x, y).
// Trees are built concurrently but every tree draws from its own seeded
// source, so the result depends only on the inputs and cfg.Seed.
func Fit(ctx context.Context, x [][]float64, y []float64, cfg Config) (*Forest, error) {
	if len(x) == 0 {
		return nil, ErrNoSamples
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%d rows, %d targets: %w", len(x), len(y), ErrDimension)
	}
	nf := len(x[0])
	for i, row := range x {
		if len(row) != nf {
			return nil, fmt.Errorf("row %d has %d features, want %d: %w", i, len(row), nf, ErrDimension)
		}
	}

	cfg = cfg.withDefaults()
	if cfg.MaxFeatures <= 0 || cfg.MaxFeatures > nf {
		cfg.MaxFeatures = nf
	}

	f := &Forest{Features: nf, Trees: make([]Tree, cfg.Estimators)}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range f.Trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
			f.Trees[i] = growTree(x, y, bootstrap(rng, len(x)), cfg, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

// Predict averages the trees' predictions for one feature vector.
func (f *Forest) Predict(x []float64) (float64, error) {
	if len(x) != f.Features {
		return 0, fmt.Errorf("got %d features, want %d: %w", len(x), f.Features, ErrDimension)
	}
	if len(f.Trees) == 0 {
		return 0, errors.New("forest has no trees")
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}

// PredictBatch predicts every row of x.
func (f *Forest) PredictBatch(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		v, err := f.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func bootstrap(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.IntN(n)
	}
	return idx
}
