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
	"errors"
	"path"
	"slices"
	"strings"

	"github.com/AleutianAI/jitbench/services/harness"
)

// -----------------------------------------------------------------------------
// Type checks
// -----------------------------------------------------------------------------

type shape interface{ area() int }

type polygon interface {
	shape
	sides() int
}

type square struct{ n int }

func (s *square) area() int  { return s.n * s.n }
func (s *square) sides() int { return 4 }

func castCase() *harness.CaseBuilder {
	var obj shape = &square{n: 3}
	return harness.NewCase("Cast").
		Describe("interface-to-interface type assertion through an embedded hierarchy").
		Func(func() any {
			_, ok := obj.(polygon)
			return ok
		})
}

// -----------------------------------------------------------------------------
// Comparisons
// -----------------------------------------------------------------------------

func equalsCase() *harness.CaseBuilder {
	return harness.NewCase("Equals").
		Describe("string equality on same-length strings differing in the last byte").
		Work(func(a harness.Args) (any, error) {
			return a.String(0) == a.String(1), nil
		}).
		Args("", "abcd", "abcg")
}

func sequenceEqualCase() *harness.CaseBuilder {
	left := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 0, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	right := slices.Clone(left)
	return harness.NewCase("SequenceEqual").
		Describe("slices.Equal over two equal 19-element int slices").
		Func(func() any { return slices.Equal(left, right) })
}

// boxedEqual compares through interfaces the way a generic equality helper
// would.
func boxedEqual(x, y any) bool {
	if x == nil || y == nil {
		return x == y
	}
	if a, ok := x.(int); ok {
		b, ok := y.(int)
		return ok && a == b
	}
	return x == y
}

func boxedCompareCase() *harness.CaseBuilder {
	return harness.NewCase("BoxedCompare").
		Describe("comparison of two ints boxed into interfaces").
		Func(func() any {
			if boxedEqual(3, 4) {
				return 0
			}
			return 100
		})
}

// -----------------------------------------------------------------------------
// Loops and bounds checks
// -----------------------------------------------------------------------------

func loopCase() *harness.CaseBuilder {
	return harness.NewCase("Loop").
		Describe("sum of 0..1023").
		Func(func() any {
			sum := 0
			for i := 0; i < 1024; i++ {
				sum += i
			}
			return sum
		})
}

var errNilValue = errors.New("value is nil")

func throwIfNil[T any](v T) error {
	if any(v) == nil {
		return errNilValue
	}
	return nil
}

func genericNilCheckCase() *harness.CaseBuilder {
	return harness.NewCase("GenericNilCheck").
		Describe("generic nil check on a non-pointer type parameter, 1024 times").
		Work(func(harness.Args) (any, error) {
			for i := 0; i < 1024; i++ {
				if err := throwIfNil(i); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
}

const alphanumeric = "1234567890abcdefghijklmnopqrstuvwxyz"

// sumFrom adds the bytes of src from index i on. The unsigned compare lets
// the compiler drop the bounds check on src[i].
//
//go:noinline
func sumFrom(i int, src string) int {
	sum := 0
	for ; uint(i) < uint(len(src)); i++ {
		sum += int(src[i])
	}
	return sum
}

func boundsChecksCase() *harness.CaseBuilder {
	return harness.NewCase("BoundsChecks").
		Describe("indexed loop over a 36-byte string guarded by an unsigned compare").
		Work(func(a harness.Args) (any, error) {
			return sumFrom(a.Int(0), alphanumeric), nil
		}).
		Args("", 3)
}

type level uint64

const (
	levelA level = iota
	levelB
	levelC
	levelD
)

var levelNames = []string{levelA: "A", levelB: "B", levelC: "C", levelD: "D"}

func boundsChecks2Case() *harness.CaseBuilder {
	return harness.NewCase("BoundsChecks2").
		Describe("enum name lookup guarded by a length compare, 1024 times").
		Work(func(a harness.Args) (any, error) {
			names := levelNames
			v := a.Uint64(0)
			var ret string
			for i := 0; i < 1024; i++ {
				if v < uint64(len(names)) {
					ret = names[v]
				} else {
					ret = ""
				}
			}
			return ret, nil
		}).
		Args("", uint64(2))
}

// -----------------------------------------------------------------------------
// Memory
// -----------------------------------------------------------------------------

type payload struct{ _ [16]byte }

type pointerPair struct {
	first, second *payload
}

// storePair writes two heap pointers, each store going through the write
// barrier while the collector is marking.
//
//go:noinline
func storePair(p *pointerPair, a, b *payload) {
	p.first = a
	p.second = b
}

func writeBarrierCase() *harness.CaseBuilder {
	return harness.NewCase("WriteBarrier").
		Describe("two pointer-field stores through a non-inlined function").
		Func(func() any {
			var p pointerPair
			storePair(&p, new(payload), new(payload))
			return p.first != p.second
		})
}

type counter struct{ value int }

func newCounter(v int) *counter { return &counter{value: v} }

func stackAllocationCase() *harness.CaseBuilder {
	return harness.NewCase("StackAllocation").
		Describe("short-lived object that escape analysis keeps on the stack").
		Func(func() any { return newCounter(42).value })
}

// -----------------------------------------------------------------------------
// Strings and paths
// -----------------------------------------------------------------------------

func pathJoinCase() *harness.CaseBuilder {
	return harness.NewCase("PathJoin").
		Describe("path.Join of five single-letter elements").
		Func(func() any { return path.Join("a", "b", "c", "d", "e") })
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}

func hasSuffixFoldCase() *harness.CaseBuilder {
	return harness.NewCase("HasSuffixFold").
		Describe("case-insensitive extension check").
		Work(func(a harness.Args) (any, error) {
			return hasSuffixFold(a.String(0), ".txt"), nil
		}).
		Args("", "helloworld.txt")
}
