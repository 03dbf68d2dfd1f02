package optimizer

import (
	"context"

	"quantval/internal/types"
)

// gridSearch evaluates the full Cartesian product of the parameter ranges.
// Candidates are enumerated over sorted parameter names so the trial order
// is stable across runs.
func (o *Optimizer) gridSearch(ctx context.Context, bars []types.Bar) ([]Trial, error) {
	candidates := expandGrid(o.cfg.Ranges)
	o.log.Debug("grid expanded", "candidates", len(candidates))
	return o.evaluateBatch(ctx, 0, candidates, bars), ctx.Err()
}

// expandGrid enumerates every combination of range values, odometer style,
// with the last sorted name varying fastest.
func expandGrid(ranges map[string]types.ParamRange) []types.ParamSet {
	names := types.RangeNames(ranges)
	values := make([][]float64, len(names))
	total := 1
	for i, name := range names {
		values[i] = ranges[name].Values()
		total *= len(values[i])
	}

	out := make([]types.ParamSet, 0, total)
	idx := make([]int, len(names))
	for {
		params := make(types.ParamSet, len(names))
		for i, name := range names {
			params[name] = values[i][idx[i]]
		}
		out = append(out, params)

		pos := len(names) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(values[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return out
		}
	}
}
