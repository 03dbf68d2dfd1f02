package optimizer

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"quantval/internal/types"
)

// Early stopping: the run ends when the best fitness has improved by less
// than this fraction for earlyStopWindow consecutive generations.
const (
	earlyStopImprovement = 0.01
	earlyStopWindow      = 5
)

// individual pairs a genome with its evaluated trial.
type individual struct {
	params types.ParamSet
	trial  Trial
	birth  int // enumeration order within the generation, breaks fitness ties
}

// geneticSearch evolves a population of parameter sets. Each generation is
// evaluated in parallel on the worker pool, but every random draw (initial
// population, tournaments, crossover, mutation) comes from the single seeded
// source in a fixed order, so the search is reproducible.
func (o *Optimizer) geneticSearch(ctx context.Context, bars []types.Bar) ([]Trial, error) {
	rng := rand.New(rand.NewSource(o.cfg.Seed))
	names := types.RangeNames(o.cfg.Ranges)

	population := make([]types.ParamSet, o.cfg.Population)
	for i := range population {
		population[i] = sampleParams(rng, names, o.cfg.Ranges)
	}

	eliteCount := int(math.Round(float64(o.cfg.Population) * o.cfg.ElitismRate))
	if eliteCount < 1 {
		eliteCount = 1
	}

	var trials []Trial
	bestFitness := math.Inf(-1)
	stale := 0

	for gen := 0; gen < o.cfg.Generations; gen++ {
		if ctx.Err() != nil {
			break
		}

		generation := o.evaluateBatch(ctx, len(trials), population, bars)
		trials = append(trials, generation...)

		ranked := rankGeneration(population, generation)
		// Track the same fitness that ranking uses, so a top-ranked but
		// constraint-violating individual cannot feed its raw objective
		// into the stale counter.
		top := fitness(ranked[0].trial)
		if improvedBy(bestFitness, top) < earlyStopImprovement {
			stale++
		} else {
			stale = 0
		}
		if top > bestFitness {
			bestFitness = top
		}

		o.log.Debug("generation evaluated",
			"generation", gen,
			"best_fitness", bestFitness,
			"stale_generations", stale,
		)

		if stale >= earlyStopWindow {
			o.log.Info("early stop", "generation", gen, "best_fitness", bestFitness)
			break
		}
		if gen == o.cfg.Generations-1 {
			break
		}

		population = o.nextGeneration(rng, names, ranked, eliteCount)
	}
	return trials, ctx.Err()
}

// rankGeneration sorts individuals by fitness descending. Failed and
// constraint-violating individuals rank below everything else, and equal
// fitness resolves to the earlier individual.
func rankGeneration(population []types.ParamSet, generation []Trial) []individual {
	ranked := make([]individual, len(population))
	for i := range population {
		ranked[i] = individual{params: population[i], trial: generation[i], birth: i}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		fa, fb := fitness(ranked[a].trial), fitness(ranked[b].trial)
		if fa != fb {
			return fa > fb
		}
		return ranked[a].birth < ranked[b].birth
	})
	return ranked
}

func fitness(t Trial) float64 {
	if t.Failed || !t.ConstraintSatisfied {
		return math.Inf(-1)
	}
	return t.Objective
}

// improvedBy measures the relative gain of next over prev, handling the
// initial -Inf baseline and non-positive baselines.
func improvedBy(prev, next float64) float64 {
	if next <= prev {
		return 0
	}
	if math.IsInf(prev, -1) {
		return 1
	}
	denom := math.Abs(prev)
	if denom == 0 {
		return 1
	}
	return (next - prev) / denom
}

// nextGeneration keeps the elites verbatim and fills the rest with
// tournament-selected, crossed-over, mutated children.
func (o *Optimizer) nextGeneration(rng *rand.Rand, names []string, ranked []individual, eliteCount int) []types.ParamSet {
	next := make([]types.ParamSet, 0, o.cfg.Population)
	for i := 0; i < eliteCount && i < len(ranked); i++ {
		next = append(next, ranked[i].params.Clone())
	}

	for len(next) < o.cfg.Population {
		a := o.tournament(rng, ranked)
		b := o.tournament(rng, ranked)

		child := a.Clone()
		if rng.Float64() < o.cfg.CrossoverRate {
			child = crossover(rng, names, a, b)
		}
		if rng.Float64() < o.cfg.MutationRate {
			mutate(rng, names, child, o.cfg.Ranges)
		}
		next = append(next, child)
	}
	return next
}

// tournament draws TournamentSize individuals with replacement and returns
// the fittest; rank order already encodes the tie-break.
func (o *Optimizer) tournament(rng *rand.Rand, ranked []individual) types.ParamSet {
	best := len(ranked)
	for i := 0; i < o.cfg.TournamentSize; i++ {
		if pick := rng.Intn(len(ranked)); pick < best {
			best = pick
		}
	}
	return ranked[best].params
}

// crossover is single point: genes before the cut come from a, the rest
// from b, over the sorted name order.
func crossover(rng *rand.Rand, names []string, a, b types.ParamSet) types.ParamSet {
	cut := rng.Intn(len(names)) + 1
	child := make(types.ParamSet, len(names))
	for i, name := range names {
		if i < cut {
			child[name] = a[name]
		} else {
			child[name] = b[name]
		}
	}
	return child
}

// mutate resamples one uniformly chosen gene from its range.
func mutate(rng *rand.Rand, names []string, params types.ParamSet, ranges map[string]types.ParamRange) {
	name := names[rng.Intn(len(names))]
	params[name] = sampleValue(rng, ranges[name])
}
