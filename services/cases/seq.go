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
	"iter"
	"slices"
)

// -----------------------------------------------------------------------------
// Sequence operators
// -----------------------------------------------------------------------------
//
// Lazy operators over iter.Seq. Nothing runs until a terminal (First, Last,
// Count, ElementAt) pulls values, so each measured call re-walks the
// pipeline from its source.

// Range yields count consecutive ints starting at start.
func Range(start, count int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := start; i < start+count; i++ {
			if !yield(i) {
				return
			}
		}
	}
}

// Map applies fn to every element.
func Map[T, U any](seq iter.Seq[T], fn func(T) U) iter.Seq[U] {
	return func(yield func(U) bool) {
		for v := range seq {
			if !yield(fn(v)) {
				return
			}
		}
	}
}

// MapIndex applies fn to every element and its position.
func MapIndex[T, U any](seq iter.Seq[T], fn func(T, int) U) iter.Seq[U] {
	return func(yield func(U) bool) {
		i := 0
		for v := range seq {
			if !yield(fn(v, i)) {
				return
			}
			i++
		}
	}
}

// FilterIndex keeps elements for which keep returns true.
func FilterIndex[T any](seq iter.Seq[T], keep func(T, int) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		i := 0
		for v := range seq {
			if keep(v, i) && !yield(v) {
				return
			}
			i++
		}
	}
}

// FlatMap yields every element of fn(v) for each v.
func FlatMap[T, U any](seq iter.Seq[T], fn func(T) iter.Seq[U]) iter.Seq[U] {
	return func(yield func(U) bool) {
		for v := range seq {
			for u := range fn(v) {
				if !yield(u) {
					return
				}
			}
		}
	}
}

// Append yields seq followed by extra.
func Append[T any](seq iter.Seq[T], extra ...T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range seq {
			if !yield(v) {
				return
			}
		}
		for _, v := range extra {
			if !yield(v) {
				return
			}
		}
	}
}

// Distinct yields each value the first time it appears.
func Distinct[T comparable](seq iter.Seq[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		seen := make(map[T]struct{})
		for v := range seq {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			if !yield(v) {
				return
			}
		}
	}
}

// Union yields the distinct values of a followed by those of b.
func Union[T comparable](a, b iter.Seq[T]) iter.Seq[T] {
	return Distinct(func(yield func(T) bool) {
		for v := range a {
			if !yield(v) {
				return
			}
		}
		for v := range b {
			if !yield(v) {
				return
			}
		}
	})
}

// Reverse buffers seq and yields it backwards.
func Reverse[T any](seq iter.Seq[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		buf := slices.Collect(seq)
		for i := len(buf) - 1; i >= 0; i-- {
			if !yield(buf[i]) {
				return
			}
		}
	}
}

// DefaultIfEmpty yields seq, or the zero value once if seq is empty.
func DefaultIfEmpty[T any](seq iter.Seq[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		empty := true
		for v := range seq {
			empty = false
			if !yield(v) {
				return
			}
		}
		if empty {
			var zero T
			yield(zero)
		}
	}
}

// Skip drops the first n elements.
func Skip[T any](seq iter.Seq[T], n int) iter.Seq[T] {
	return func(yield func(T) bool) {
		i := 0
		for v := range seq {
			if i < n {
				i++
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Take yields at most n elements.
func Take[T any](seq iter.Seq[T], n int) iter.Seq[T] {
	return func(yield func(T) bool) {
		if n <= 0 {
			return
		}
		i := 0
		for v := range seq {
			if !yield(v) {
				return
			}
			i++
			if i == n {
				return
			}
		}
	}
}

// SkipWhile drops elements while pred holds.
func SkipWhile[T any](seq iter.Seq[T], pred func(T) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		skipping := true
		for v := range seq {
			if skipping && pred(v) {
				continue
			}
			skipping = false
			if !yield(v) {
				return
			}
		}
	}
}

// TakeWhile yields elements until pred fails.
func TakeWhile[T any](seq iter.Seq[T], pred func(T) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range seq {
			if !pred(v) || !yield(v) {
				return
			}
		}
	}
}

// Chunk groups elements into slices of at most size.
func Chunk[T any](seq iter.Seq[T], size int) iter.Seq[[]T] {
	return func(yield func([]T) bool) {
		if size <= 0 {
			return
		}
		var chunk []T
		for v := range seq {
			chunk = append(chunk, v)
			if len(chunk) == size {
				if !yield(chunk) {
					return
				}
				chunk = nil
			}
		}
		if len(chunk) > 0 {
			yield(chunk)
		}
	}
}

// Lookup maps keys to the elements sharing them, in first-seen key order.
type Lookup[K comparable, V any] struct {
	keys   []K
	groups map[K][]V
}

// ToLookup groups seq by key.
func ToLookup[T any, K comparable](seq iter.Seq[T], key func(T) K) *Lookup[K, T] {
	l := &Lookup[K, T]{groups: make(map[K][]T)}
	for v := range seq {
		k := key(v)
		if _, ok := l.groups[k]; !ok {
			l.keys = append(l.keys, k)
		}
		l.groups[k] = append(l.groups[k], v)
	}
	return l
}

// Len returns the number of distinct keys.
func (l *Lookup[K, V]) Len() int { return len(l.keys) }

// Get returns the elements for k.
func (l *Lookup[K, V]) Get(k K) []V { return l.groups[k] }

// Keys yields the keys in first-seen order.
func (l *Lookup[K, V]) Keys() iter.Seq[K] { return slices.Values(l.keys) }

// Join yields result(o, i) for every pair with equal keys, outer order first.
func Join[O, I any, K comparable, R any](outer iter.Seq[O], inner iter.Seq[I], outerKey func(O) K, innerKey func(I) K, result func(O, I) R) iter.Seq[R] {
	return func(yield func(R) bool) {
		var lookup *Lookup[K, I]
		for o := range outer {
			if lookup == nil {
				lookup = ToLookup(inner, innerKey)
			}
			for _, i := range lookup.Get(outerKey(o)) {
				if !yield(result(o, i)) {
					return
				}
			}
		}
	}
}

// GroupJoin yields result(o, matches) for every outer element.
func GroupJoin[O, I any, K comparable, R any](outer iter.Seq[O], inner iter.Seq[I], outerKey func(O) K, innerKey func(I) K, result func(O, []I) R) iter.Seq[R] {
	return func(yield func(R) bool) {
		var lookup *Lookup[K, I]
		for o := range outer {
			if lookup == nil {
				lookup = ToLookup(inner, innerKey)
			}
			if !yield(result(o, lookup.Get(outerKey(o)))) {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Terminals
// -----------------------------------------------------------------------------

// First returns the first element, or false if seq is empty.
func First[T any](seq iter.Seq[T]) (T, bool) {
	for v := range seq {
		return v, true
	}
	var zero T
	return zero, false
}

// Last returns the last element, or false if seq is empty.
func Last[T any](seq iter.Seq[T]) (T, bool) {
	var last T
	ok := false
	for v := range seq {
		last, ok = v, true
	}
	return last, ok
}

// Count returns the number of elements.
func Count[T any](seq iter.Seq[T]) int {
	n := 0
	for range seq {
		n++
	}
	return n
}

// ElementAt returns the element at index i, or false if out of range.
func ElementAt[T any](seq iter.Seq[T], i int) (T, bool) {
	if i >= 0 {
		n := 0
		for v := range seq {
			if n == i {
				return v, true
			}
			n++
		}
	}
	var zero T
	return zero, false
}
