package main

import (
	"fmt"
	"strconv"
	"strings"

	"quantval/internal/types"
)

// parseParams parses "fast=10,slow=30" into a parameter set.
func parseParams(s string) (types.ParamSet, error) {
	params := types.ParamSet{}
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("malformed parameter %q, want name=value", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		params[strings.TrimSpace(name)] = v
	}
	return params, nil
}

// parseRanges parses "fast=5:30:5,slow=20:100:10" into parameter ranges.
// The third segment is the step; omit it for a continuous range.
func parseRanges(s string) (map[string]types.ParamRange, error) {
	ranges := map[string]types.ParamRange{}
	for _, pair := range strings.Split(s, ",") {
		name, expr, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("malformed range %q, want name=min:max[:step]", pair)
		}

		parts := strings.Split(expr, ":")
		if len(parts) != 2 && len(parts) != 3 {
			return nil, fmt.Errorf("range %q: want min:max[:step]", name)
		}
		var values [3]float64
		for i, part := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("range %q: %w", name, err)
			}
			values[i] = v
		}

		ranges[strings.TrimSpace(name)] = types.ParamRange{
			Min:  values[0],
			Max:  values[1],
			Step: values[2],
		}
	}
	return ranges, nil
}
