// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregate

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/AleutianAI/jitbench/services/harness"
)

func samplesOf(ns ...float64) []harness.Sample {
	out := make([]harness.Sample, len(ns))
	for i, v := range ns {
		out[i] = harness.Sample{NsPerOp: v, Ops: 1000}
	}
	return out
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

func TestAggregate_Empty(t *testing.T) {
	_, err := Aggregate(nil, DefaultOutlierThreshold)
	if !errors.Is(err, ErrNoSamples) {
		t.Errorf("Expected ErrNoSamples, got %v", err)
	}
}

func TestAggregate_KnownValues(t *testing.T) {
	// 2, 4, 4, 4, 5, 5, 7, 9: mean 5, sample variance 32/7.
	s, err := Aggregate(samplesOf(2, 4, 4, 4, 5, 5, 7, 9), 0)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if s.Count != 8 {
		t.Errorf("Count = %d, want 8", s.Count)
	}
	if !approx(s.Mean, 5) {
		t.Errorf("Mean = %v, want 5", s.Mean)
	}
	wantSD := math.Sqrt(32.0 / 7.0)
	if !approx(s.StdDev, wantSD) {
		t.Errorf("StdDev = %v, want %v", s.StdDev, wantSD)
	}
	if !approx(s.StdErr, wantSD/math.Sqrt(8)) {
		t.Errorf("StdErr = %v, want %v", s.StdErr, wantSD/math.Sqrt(8))
	}
	if !approx(s.Median, 4.5) {
		t.Errorf("Median = %v, want 4.5", s.Median)
	}
	if s.Min != 2 || s.Max != 9 {
		t.Errorf("Min/Max = %v/%v, want 2/9", s.Min, s.Max)
	}
}

func TestAggregate_SingleSample(t *testing.T) {
	s, err := Aggregate(samplesOf(42), DefaultOutlierThreshold)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if s.Count != 1 || s.Mean != 42 || s.StdDev != 0 || s.StdErr != 0 {
		t.Errorf("single sample stats = %+v", s)
	}
}

func TestAggregate_OutlierExcludedFromMeanButNotMax(t *testing.T) {
	ns := []float64{100, 101, 99, 100, 102, 98, 100, 101, 99, 100}
	ns = append(ns, 100*100) // one value 100x the median

	s, err := Aggregate(samplesOf(ns...), DefaultOutlierThreshold)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if s.Outliers != 1 {
		t.Errorf("Outliers = %d, want 1", s.Outliers)
	}
	if s.Count != 10 {
		t.Errorf("Count = %d, want 10", s.Count)
	}
	if !approx(s.Mean, 100) {
		t.Errorf("Mean = %v, want 100 (outlier excluded)", s.Mean)
	}
	if s.StdDev > 2 {
		t.Errorf("StdDev = %v, outlier leaked into error", s.StdDev)
	}
	if s.Max != 10000 {
		t.Errorf("Max = %v, want 10000 (outlier retained)", s.Max)
	}
	if s.Min != 98 {
		t.Errorf("Min = %v, want 98", s.Min)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	samples := []harness.Sample{
		{NsPerOp: 12.5, BytesPerOp: 32, AllocsPerOp: 1},
		{NsPerOp: 12.7, BytesPerOp: 32, AllocsPerOp: 1},
		{NsPerOp: 12.4, BytesPerOp: 32, AllocsPerOp: 1},
		{NsPerOp: 19.0, BytesPerOp: 48, AllocsPerOp: 2},
		{NsPerOp: 12.6, BytesPerOp: 32, AllocsPerOp: 1},
	}
	snapshot := append([]harness.Sample(nil), samples...)

	first, err := Aggregate(samples, DefaultOutlierThreshold)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	second, err := Aggregate(samples, DefaultOutlierThreshold)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Aggregate not idempotent: %+v vs %+v", first, second)
	}
	if !reflect.DeepEqual(samples, snapshot) {
		t.Error("Aggregate mutated its input")
	}
	if !approx(first.BytesPerOp, 35.2) {
		t.Errorf("BytesPerOp = %v, want 35.2", first.BytesPerOp)
	}
}

func TestRemoveOutliers(t *testing.T) {
	t.Run("too few values", func(t *testing.T) {
		kept, n := RemoveOutliers([]float64{1, 1000, 2}, 1.5)
		if len(kept) != 3 || n != 0 {
			t.Errorf("RemoveOutliers = (%v, %d)", kept, n)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		kept, n := RemoveOutliers([]float64{1, 1, 1, 1, 1000}, 0)
		if len(kept) != 5 || n != 0 {
			t.Errorf("RemoveOutliers = (%v, %d)", kept, n)
		}
	})

	t.Run("keeps original order", func(t *testing.T) {
		kept, n := RemoveOutliers([]float64{5, 1, 4, 2, 3, 500}, 1.5)
		want := []float64{5, 1, 4, 2, 3}
		if n != 1 || !reflect.DeepEqual(kept, want) {
			t.Errorf("RemoveOutliers = (%v, %d), want (%v, 1)", kept, n, want)
		}
	})

	t.Run("abandons exclusion beyond half", func(t *testing.T) {
		// Q1=2.25 and Q3=4.75 with a vanishing multiplier keep only 3 and 4.
		values := []float64{1, 2, 3, 4, 5, 6}
		kept, n := RemoveOutliers(values, 1e-9)
		if n != 0 || !reflect.DeepEqual(kept, values) {
			t.Errorf("RemoveOutliers = (%v, %d), want every value kept", kept, n)
		}
	})
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{0.5, 25},
		{1, 40},
		{0.25, 17.5},
	}
	for _, tt := range tests {
		if got := Percentile(sorted, tt.p); !approx(got, tt.want) {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if Percentile(nil, 0.5) != 0 {
		t.Error("Percentile(nil) should be 0")
	}
}

func TestCoefficientOfVariation(t *testing.T) {
	if cv := CoefficientOfVariation([]float64{10, 10, 10}); cv != 0 {
		t.Errorf("CV of constant = %v, want 0", cv)
	}
	if cv := CoefficientOfVariation([]float64{0, 0}); cv != 0 {
		t.Errorf("CV of zeros = %v, want 0", cv)
	}
	if cv := CoefficientOfVariation([]float64{-1, 1}); !math.IsInf(cv, 1) {
		t.Errorf("CV with zero mean = %v, want +Inf", cv)
	}
	cv := CoefficientOfVariation([]float64{9, 10, 11})
	if !approx(cv, 0.1) {
		t.Errorf("CV = %v, want 0.1", cv)
	}
}
