// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate reduces per-batch samples into summary statistics and
// joins series results across jobs into a comparison table.
//
// All functions in this package are pure: they never mutate their inputs
// and hold no state between calls.
package aggregate

import (
	"errors"
	"math"
	"slices"

	"github.com/AleutianAI/jitbench/services/harness"
)

var (
	// ErrNoSamples is returned when a series has nothing to aggregate.
	ErrNoSamples = errors.New("no samples to aggregate")
)

// DefaultOutlierThreshold is the IQR multiplier used when none is configured.
const DefaultOutlierThreshold = 1.5

// Stats is the statistical summary of one series, in nanoseconds per call.
//
// Mean, StdDev, StdErr and Median are computed after outlier exclusion.
// Min and Max always span every sample, outliers included.
type Stats struct {
	Count    int
	Mean     float64
	StdDev   float64
	StdErr   float64
	Median   float64
	Min      float64
	Max      float64
	Outliers int

	BytesPerOp  float64
	AllocsPerOp float64
}

// Apply copies the statistics into a series result.
func (s Stats) Apply(r *harness.SeriesResult) {
	r.Count = s.Count
	r.Mean = s.Mean
	r.StdDev = s.StdDev
	r.StdErr = s.StdErr
	r.Median = s.Median
	r.Min = s.Min
	r.Max = s.Max
	r.Outliers = s.Outliers
	r.BytesPerOp = s.BytesPerOp
	r.AllocsPerOp = s.AllocsPerOp
}

// Aggregate computes summary statistics for a series.
//
// Description:
//
//	Timing statistics use the per-call duration of each sample. Samples
//	outside [Q1 - threshold*IQR, Q3 + threshold*IQR] are excluded from the
//	mean, standard deviation, standard error and median but still bound
//	Min and Max. A threshold <= 0 disables exclusion. Allocation figures
//	are averaged over every sample.
//
// Inputs:
//   - samples: Per-batch samples. Must not be empty.
//   - threshold: IQR multiplier for outlier exclusion.
//
// Outputs:
//   - Stats: The summary. StdDev is the sample standard deviation (n-1)
//     and StdErr is StdDev/sqrt(Count).
//   - error: ErrNoSamples if samples is empty.
//
// Thread Safety: Safe for concurrent use.
func Aggregate(samples []harness.Sample, threshold float64) (Stats, error) {
	if len(samples) == 0 {
		return Stats{}, ErrNoSamples
	}

	times := make([]float64, len(samples))
	var bytes, allocs float64
	for i, s := range samples {
		times[i] = s.NsPerOp
		bytes += s.BytesPerOp
		allocs += s.AllocsPerOp
	}

	kept, excluded := RemoveOutliers(times, threshold)
	sorted := slices.Clone(kept)
	slices.Sort(sorted)

	mean := Mean(kept)
	sd := StdDev(kept, mean)
	n := float64(len(kept))

	return Stats{
		Count:       len(kept),
		Mean:        mean,
		StdDev:      sd,
		StdErr:      sd / math.Sqrt(n),
		Median:      Percentile(sorted, 0.5),
		Min:         slices.Min(times),
		Max:         slices.Max(times),
		Outliers:    excluded,
		BytesPerOp:  bytes / float64(len(samples)),
		AllocsPerOp: allocs / float64(len(samples)),
	}, nil
}

// Percentile returns the p-th quantile (0..1) of sorted values using
// linear interpolation between closest ranks.
//
// Outputs:
//   - float64: The quantile, or 0 for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}

	fraction := index - float64(lower)
	return sorted[lower]*(1-fraction) + sorted[upper]*fraction
}

// RemoveOutliers filters values using the IQR method.
//
// Description:
//
//	Values outside [Q1 - threshold*IQR, Q3 + threshold*IQR] are removed.
//	Fewer than four values, a non-positive threshold, or a filter that
//	would drop more than half of the values all return the input
//	unchanged (as a copy) with zero exclusions.
//
// Inputs:
//   - values: The values to filter. Not modified.
//   - threshold: IQR multiplier, typically 1.5.
//
// Outputs:
//   - []float64: The kept values in their original order.
//   - int: The number of values excluded.
func RemoveOutliers(values []float64, threshold float64) ([]float64, int) {
	if len(values) < 4 || threshold <= 0 {
		return slices.Clone(values), 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	q1 := Percentile(sorted, 0.25)
	q3 := Percentile(sorted, 0.75)
	iqr := q3 - q1
	lo := q1 - threshold*iqr
	hi := q3 + threshold*iqr

	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}

	excluded := len(values) - len(kept)
	if excluded*2 > len(values) {
		return slices.Clone(values), 0
	}
	return kept, excluded
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation (n-1 denominator) around
// mean. Fewer than two values yield 0.
func StdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// CoefficientOfVariation returns StdDev/Mean. A zero mean yields +Inf
// unless every value is zero, in which case the result is 0.
func CoefficientOfVariation(values []float64) float64 {
	mean := Mean(values)
	sd := StdDev(values, mean)
	if mean == 0 {
		if sd == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return sd / math.Abs(mean)
}
