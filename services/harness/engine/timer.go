// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"time"
)

const resolutionProbes = 1000

// EstimateResolution measures the smallest observable step of the
// monotonic clock.
//
// Description:
//
//	Spins on time.Now until the reading changes, resolutionProbes times,
//	and returns the smallest positive step seen. The result is never below
//	one nanosecond.
//
// Outputs:
//   - time.Duration: The estimated resolution.
func EstimateResolution() time.Duration {
	best := time.Duration(1<<63 - 1)
	for i := 0; i < resolutionProbes; i++ {
		t0 := time.Now()
		t1 := time.Now()
		for !t1.After(t0) {
			t1 = time.Now()
		}
		if d := t1.Sub(t0); d > 0 && d < best {
			best = d
		}
	}
	return max(best, time.Nanosecond)
}
