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
	"iter"
	"slices"

	"github.com/AleutianAI/jitbench/services/harness"
)

var errEmptySequence = errors.New("sequence has no element at the requested position")

// pipelineSize is the source length of the pipeline cases.
const pipelineSize = 1000

func double(i int) int { return i * 2 }

// terminal adapts an (value, ok) terminal to a WorkFunc.
func terminal[T any](fn func() (T, bool)) harness.WorkFunc {
	return func(harness.Args) (any, error) {
		v, ok := fn()
		if !ok {
			return nil, errEmptySequence
		}
		return v, nil
	}
}

// pipelineCases are prebuilt lazy pipelines; each call drives one terminal.
func pipelineCases() []*harness.CaseBuilder {
	array := slices.Collect(Range(0, pipelineSize))
	list := slices.Clone(array)

	distinct := Distinct(slices.Values(array))
	appendSelect := Map(Append(slices.Values(array), 42), double)
	rangeReverse := Reverse(Range(0, pipelineSize))
	defaultIfEmpty := Map(DefaultIfEmpty(slices.Values(list)), double)
	skipTake := Take(Skip(slices.Values(list), 500), 100)
	rangeUnion := Union(Range(0, pipelineSize), Range(500, pipelineSize))

	return []*harness.CaseBuilder{
		harness.NewCase("DistinctFirst").
			Describe("first element of a distinct array").
			Work(terminal(func() (int, bool) { return First(distinct) })),
		harness.NewCase("AppendSelectLast").
			Describe("last element of an appended, mapped array").
			Work(terminal(func() (int, bool) { return Last(appendSelect) })),
		harness.NewCase("RangeReverseCount").
			Describe("count of a reversed range").
			Func(func() any { return Count(rangeReverse) }),
		harness.NewCase("DefaultIfEmptySelectElementAt").
			Describe("element 999 of a defaulted, mapped slice").
			Work(terminal(func() (int, bool) { return ElementAt(defaultIfEmpty, 999) })),
		harness.NewCase("ListSkipTakeElementAt").
			Describe("element 99 of skip(500).take(100)").
			Work(terminal(func() (int, bool) { return ElementAt(skipTake, 99) })),
		harness.NewCase("RangeUnionFirst").
			Describe("first element of the union of two overlapping ranges").
			Work(terminal(func() (int, bool) { return First(rangeUnion) })),
	}
}

func identity(s string) string { return s }

func bytesOf(s string) iter.Seq[byte] {
	return func(yield func(byte) bool) {
		for i := 0; i < len(s); i++ {
			if !yield(s[i]) {
				return
			}
		}
	}
}

// emptyOperatorCases measure building an operator over an empty source.
// The returned sequence is never drained.
func emptyOperatorCases() []*harness.CaseBuilder {
	values := []string{}
	source := func() iter.Seq[string] { return slices.Values(values) }

	return []*harness.CaseBuilder{
		harness.NewCase("Chunk").Func(func() any { return Chunk(source(), 10) }),
		harness.NewCase("Distinct").Func(func() any { return Distinct(source()) }),
		harness.NewCase("GroupJoin").Func(func() any {
			return GroupJoin(source(), source(), identity, identity, func(o string, _ []string) string { return o })
		}),
		harness.NewCase("Join").Func(func() any {
			return Join(source(), source(), identity, identity, func(o, _ string) string { return o })
		}),
		harness.NewCase("ToLookup").Func(func() any { return ToLookup(source(), identity) }),
		harness.NewCase("Reverse").Func(func() any { return Reverse(source()) }),
		harness.NewCase("SelectIndex").Func(func() any {
			return MapIndex(source(), func(_ string, i int) int { return i })
		}),
		harness.NewCase("SelectMany").Func(func() any { return FlatMap(source(), bytesOf) }),
		harness.NewCase("SkipWhile").Func(func() any {
			return SkipWhile(source(), func(string) bool { return true })
		}),
		harness.NewCase("TakeWhile").Func(func() any {
			return TakeWhile(source(), func(string) bool { return true })
		}),
		harness.NewCase("WhereIndex").Func(func() any {
			return FilterIndex(source(), func(string, int) bool { return true })
		}),
	}
}
