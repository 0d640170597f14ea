// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"fmt"
	"iter"
	"regexp"
	"sync"
)

// Registry holds the declared benchmark cases in registration order.
//
// Description:
//
//	The Registry is append-only. Cases are registered during start-up and
//	the registry is frozen when a run begins; after that only reads are
//	allowed. Iteration order is registration order, which drives the row
//	order of every report.
//
// Thread Safety: Safe for concurrent use via read-write mutex.
type Registry struct {
	mu     sync.RWMutex
	cases  []*Case
	index  map[string]int
	frozen bool
}

// NewRegistry creates a new empty registry.
//
// Outputs:
//   - *Registry: The new registry. Never nil.
//
// Example:
//
//	reg := harness.NewRegistry()
//	reg.MustRegister(harness.NewCase("Loop").Work(loop).MustBuild())
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Register adds a case to the registry.
//
// Inputs:
//   - c: The case to register. Must not be nil.
//
// Outputs:
//   - error: nil on success, ErrNilCase if c is nil, ErrDuplicateName if the
//     name is already taken, ErrRegistryFrozen after Freeze.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(c *Case) error {
	if c == nil {
		return ErrNilCase
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, c.Name())
	}
	if _, exists := r.index[c.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, c.Name())
	}

	r.index[c.Name()] = len(r.cases)
	r.cases = append(r.cases, c)
	return nil
}

// MustRegister registers a case and panics on error.
//
// Should only be used while building the catalogue at start-up.
func (r *Registry) MustRegister(c *Case) {
	if err := r.Register(c); err != nil {
		panic(fmt.Sprintf("harness: failed to register case: %v", err))
	}
}

// Freeze makes the registry read-only. Calling it twice is harmless.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get returns the case registered under name and its registration index.
func (r *Registry) Get(name string) (*Case, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return nil, -1, false
	}
	return r.cases[i], i, true
}

// Len returns the number of registered cases.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cases)
}

// Names returns the registered case names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.cases))
	for i, c := range r.cases {
		names[i] = c.Name()
	}
	return names
}

// List returns a lazy sequence over the registered cases.
//
// Description:
//
//	The sequence yields cases in registration order. It is restartable:
//	each range over the returned value starts from the first case. The
//	snapshot is taken when iteration begins, so cases registered during
//	iteration are not observed by that pass.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) List() iter.Seq[*Case] {
	return func(yield func(*Case) bool) {
		r.mu.RLock()
		snapshot := r.cases[:len(r.cases):len(r.cases)]
		r.mu.RUnlock()

		for _, c := range snapshot {
			if !yield(c) {
				return
			}
		}
	}
}

// Select is like List but only yields cases whose name matches filter.
// A nil filter selects every case.
func (r *Registry) Select(filter *regexp.Regexp) iter.Seq[*Case] {
	return func(yield func(*Case) bool) {
		for c := range r.List() {
			if filter != nil && !filter.MatchString(c.Name()) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// Plan expands the selected cases into series keys in report order.
//
// Description:
//
//	A case with N variants yields N keys; a case with none yields one key
//	with an empty variant label. CaseIndex is the registration index of the
//	case, not its position in the filtered selection, so parent and worker
//	processes sharing the same catalogue agree on identities.
func (r *Registry) Plan(filter *regexp.Regexp) []SeriesKey {
	var keys []SeriesKey
	for c := range r.Select(filter) {
		_, ci, _ := r.Get(c.Name())
		for vi, v := range c.Variants() {
			keys = append(keys, SeriesKey{
				Case:         c.Name(),
				Variant:      v.Label,
				CaseIndex:    ci,
				VariantIndex: vi,
			})
		}
	}
	return keys
}
