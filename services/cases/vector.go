// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cases

import (
	"math/rand"

	"github.com/cespare/xxhash/v2"

	"github.com/AleutianAI/jitbench/services/harness"
)

// lanes64 is a 512-bit vector of byte lanes.
type lanes64 [64]byte

// lanes16 is a 128-bit vector of byte lanes.
type lanes16 [16]byte

func splat64(b byte) lanes64 {
	var v lanes64
	for i := range v {
		v[i] = b
	}
	return v
}

// selectSumOrDiff returns b+c in lanes where b < c and b-c elsewhere.
//
//go:noinline
func selectSumOrDiff(b, c lanes64) lanes64 {
	var r lanes64
	for i := range r {
		if b[i] < c[i] {
			r[i] = b[i] + c[i]
		} else {
			r[i] = b[i] - c[i]
		}
	}
	return r
}

func vector512Case() *harness.CaseBuilder {
	return harness.NewCase("Vector512").
		Describe("64-lane byte conditional select").
		Func(func() any {
			r := selectSumOrDiff(splat64(1), splat64(2))
			return r[0]
		})
}

const hexPattern = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func vector512LiteralCase() *harness.CaseBuilder {
	return harness.NewCase("Vector512Literal").
		Describe("64-lane vector loaded from a string literal").
		Func(func() any {
			var v lanes64
			copy(v[:], hexPattern)
			return v[63]
		})
}

func vectorSquareCase() *harness.CaseBuilder {
	v := lanes16{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	return harness.NewCase("VectorSquare").
		Describe("16-lane byte multiply of a vector by itself").
		Func(func() any {
			var r lanes16
			for i := range r {
				r[i] = v[i] * v[i]
			}
			return r[15]
		})
}

// hashInputSize is the VectorHash input length.
const hashInputSize = 1 << 20

// seededBytes fills n bytes from a fixed-seed source.
func seededBytes(n int, seed int64) []byte {
	buf := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(buf)
	return buf
}

func vectorHashCase() *harness.CaseBuilder {
	var data []byte
	return harness.NewCase("VectorHash").
		Describe("xxhash of 1 MiB of seeded random data").
		Setup(func() error {
			data = seededBytes(hashInputSize, 42)
			return nil
		}).
		Func(func() any { return xxhash.Sum64(data) })
}
