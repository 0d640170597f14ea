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
	"strings"
)

// WorkFunc is the unit of work being measured.
//
// The returned value is kept alive by the engine so the call cannot be
// optimized away; a non-nil error fails the series.
type WorkFunc func(args Args) (any, error)

// SetupFunc prepares state for a case before its first measured call.
type SetupFunc func() error

// Variant is one argument binding for a case.
type Variant struct {
	Label string
	Args  Args
}

// Case is a registered benchmark case.
//
// Thread Safety: Immutable once built. The work and setup functions are
// not assumed to be safe for concurrent use.
type Case struct {
	name        string
	description string
	work        WorkFunc
	setup       SetupFunc
	variants    []Variant
}

// Name returns the unique case name.
func (c *Case) Name() string { return c.name }

// Description returns the optional human-readable description.
func (c *Case) Description() string { return c.description }

// Work returns the measured function.
func (c *Case) Work() WorkFunc { return c.work }

// Setup returns the one-time setup callback, or nil.
func (c *Case) Setup() SetupFunc { return c.setup }

// HasSetup reports whether the case declares a setup callback.
func (c *Case) HasSetup() bool { return c.setup != nil }

// Variants returns the argument variants in declaration order.
//
// A case declared without variants returns a single empty variant so that
// it is measured exactly once with no bound arguments.
func (c *Case) Variants() []Variant {
	if len(c.variants) == 0 {
		return []Variant{{}}
	}
	out := make([]Variant, len(c.variants))
	copy(out, c.variants)
	return out
}

// Variant returns the variant at index i, or false if out of range.
func (c *Case) Variant(i int) (Variant, bool) {
	vs := c.Variants()
	if i < 0 || i >= len(vs) {
		return Variant{}, false
	}
	return vs[i], true
}

// -----------------------------------------------------------------------------
// Builder
// -----------------------------------------------------------------------------

// CaseBuilder assembles a Case through chained calls.
//
// Example:
//
//	c, err := harness.NewCase("Equals").
//	    Work(func(a harness.Args) (any, error) { return a.String(0) == a.String(1), nil }).
//	    Args("", "abcd", "abcg").
//	    Build()
type CaseBuilder struct {
	c *Case
}

// NewCase starts building a case with the given name.
func NewCase(name string) *CaseBuilder {
	return &CaseBuilder{c: &Case{name: name}}
}

// Describe sets the optional description.
func (b *CaseBuilder) Describe(description string) *CaseBuilder {
	b.c.description = description
	return b
}

// Work sets the measured function.
func (b *CaseBuilder) Work(fn WorkFunc) *CaseBuilder {
	b.c.work = fn
	return b
}

// Func sets a measured function that takes no arguments and cannot fail.
func (b *CaseBuilder) Func(fn func() any) *CaseBuilder {
	if fn == nil {
		b.c.work = nil
		return b
	}
	b.c.work = func(Args) (any, error) { return fn(), nil }
	return b
}

// Setup sets the one-time setup callback.
func (b *CaseBuilder) Setup(fn SetupFunc) *CaseBuilder {
	b.c.setup = fn
	return b
}

// Args appends an argument variant. An empty label is replaced by the
// rendered argument list.
func (b *CaseBuilder) Args(label string, values ...any) *CaseBuilder {
	args := make(Args, len(values))
	copy(args, values)
	if label == "" {
		label = args.Label()
	}
	b.c.variants = append(b.c.variants, Variant{Label: label, Args: args})
	return b
}

// Build validates and returns the case.
//
// Outputs:
//   - *Case: The built case.
//   - error: ErrInvalidCase if the name is blank, the work function is nil,
//     or two variants share a label.
func (b *CaseBuilder) Build() (*Case, error) {
	c := b.c
	if strings.TrimSpace(c.name) == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidCase)
	}
	if c.work == nil {
		return nil, fmt.Errorf("%w: case %s has no work function", ErrInvalidCase, c.name)
	}

	seen := make(map[string]struct{}, len(c.variants))
	for _, v := range c.variants {
		if _, dup := seen[v.Label]; dup {
			return nil, fmt.Errorf("%w: case %s declares variant %q twice", ErrInvalidCase, c.name, v.Label)
		}
		seen[v.Label] = struct{}{}
	}

	built := *c
	built.variants = append([]Variant(nil), c.variants...)
	return &built, nil
}

// MustBuild is like Build but panics on error.
func (b *CaseBuilder) MustBuild() *Case {
	c, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("harness: %v", err))
	}
	return c
}
