package optimizer

import (
	"context"
	"math/rand"

	"quantval/internal/types"
)

// randomSearch draws MaxTrials independent samples from the ranges. All
// candidates are drawn from the seeded source up front, before any trial
// runs, so the sampled points never depend on worker scheduling.
func (o *Optimizer) randomSearch(ctx context.Context, bars []types.Bar) ([]Trial, error) {
	rng := rand.New(rand.NewSource(o.cfg.Seed))
	names := types.RangeNames(o.cfg.Ranges)

	candidates := make([]types.ParamSet, o.cfg.MaxTrials)
	for i := range candidates {
		candidates[i] = sampleParams(rng, names, o.cfg.Ranges)
	}
	return o.evaluateBatch(ctx, 0, candidates, bars), ctx.Err()
}

// sampleParams draws one value per parameter. Ranges with a step sample
// uniformly from the discrete grid points; continuous ranges sample
// uniformly from [Min, Max]. Names are iterated in sorted order so the
// rng consumption order is fixed.
func sampleParams(rng *rand.Rand, names []string, ranges map[string]types.ParamRange) types.ParamSet {
	params := make(types.ParamSet, len(names))
	for _, name := range names {
		params[name] = sampleValue(rng, ranges[name])
	}
	return params
}

func sampleValue(rng *rand.Rand, r types.ParamRange) float64 {
	if r.Step > 0 {
		values := r.Values()
		return values[rng.Intn(len(values))]
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}
