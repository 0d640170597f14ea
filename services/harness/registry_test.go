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
	"errors"
	"fmt"
	"regexp"
	"slices"
	"testing"
)

func noop(Args) (any, error) { return nil, nil }

func mustCase(t *testing.T, name string) *Case {
	t.Helper()
	c, err := NewCase(name).Work(noop).Build()
	if err != nil {
		t.Fatalf("Build(%s) failed: %v", name, err)
	}
	return c
}

func TestRegistry_Register(t *testing.T) {
	t.Run("successful registration", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(mustCase(t, "Loop")); err != nil {
			t.Errorf("Register failed: %v", err)
		}
		if r.Len() != 1 {
			t.Errorf("Len = %d, want 1", r.Len())
		}
	})

	t.Run("nil case", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(nil); !errors.Is(err, ErrNilCase) {
			t.Errorf("Expected ErrNilCase, got %v", err)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(mustCase(t, "dup")); err != nil {
			t.Fatalf("First registration failed: %v", err)
		}
		err := r.Register(mustCase(t, "dup"))
		if !errors.Is(err, ErrDuplicateName) {
			t.Errorf("Expected ErrDuplicateName, got %v", err)
		}
		if r.Len() != 1 {
			t.Errorf("Len = %d after duplicate, want 1", r.Len())
		}
	})

	t.Run("frozen", func(t *testing.T) {
		r := NewRegistry()
		r.Freeze()
		if !r.Frozen() {
			t.Fatal("Frozen() = false after Freeze")
		}
		if err := r.Register(mustCase(t, "late")); !errors.Is(err, ErrRegistryFrozen) {
			t.Errorf("Expected ErrRegistryFrozen, got %v", err)
		}
	})
}

func TestRegistry_MustRegister_Panics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(mustCase(t, "a"))

	defer func() {
		if recover() == nil {
			t.Error("MustRegister should panic on duplicate")
		}
	}()
	r.MustRegister(mustCase(t, "a"))
}

func TestRegistry_ListPreservesOrder(t *testing.T) {
	names := make([]string, 50)
	for i := range names {
		// Deliberately not sorted lexically.
		names[i] = fmt.Sprintf("case-%02d", (i*37)%50)
	}

	r := NewRegistry()
	for _, n := range names {
		r.MustRegister(mustCase(t, n))
	}

	var got []string
	for c := range r.List() {
		got = append(got, c.Name())
	}
	if !slices.Equal(got, names) {
		t.Errorf("List order = %v, want %v", got, names)
	}

	// Restartable: a second pass yields the same sequence.
	var again []string
	for c := range r.List() {
		again = append(again, c.Name())
	}
	if !slices.Equal(again, names) {
		t.Errorf("second List pass = %v, want %v", again, names)
	}

	if !slices.Equal(r.Names(), names) {
		t.Errorf("Names() = %v, want %v", r.Names(), names)
	}
}

func TestRegistry_ListEarlyBreak(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"a", "b", "c"} {
		r.MustRegister(mustCase(t, n))
	}

	count := 0
	for range r.List() {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestRegistry_Select(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"Vector512", "Loop", "VectorHash", "Cast"} {
		r.MustRegister(mustCase(t, n))
	}

	var got []string
	for c := range r.Select(regexp.MustCompile("^Vector")) {
		got = append(got, c.Name())
	}
	want := []string{"Vector512", "VectorHash"}
	if !slices.Equal(got, want) {
		t.Errorf("Select = %v, want %v", got, want)
	}

	got = got[:0]
	for c := range r.Select(nil) {
		got = append(got, c.Name())
	}
	if len(got) != 4 {
		t.Errorf("Select(nil) yielded %d cases, want 4", len(got))
	}
}

func TestRegistry_Plan(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(mustCase(t, "Loop"))
	r.MustRegister(NewCase("Equals").Work(noop).Args("", "abcd").Args("", "abcg").MustBuild())
	r.MustRegister(mustCase(t, "Cast"))

	plan := r.Plan(regexp.MustCompile("Equals|Cast"))
	want := []SeriesKey{
		{Case: "Equals", Variant: `"abcd"`, CaseIndex: 1, VariantIndex: 0},
		{Case: "Equals", Variant: `"abcg"`, CaseIndex: 1, VariantIndex: 1},
		{Case: "Cast", Variant: "", CaseIndex: 2, VariantIndex: 0},
	}
	if !slices.Equal(plan, want) {
		t.Errorf("Plan = %+v, want %+v", plan, want)
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(mustCase(t, "a"))
	r.MustRegister(mustCase(t, "b"))

	c, idx, ok := r.Get("b")
	if !ok || c.Name() != "b" || idx != 1 {
		t.Errorf("Get(b) = (%v, %d, %v)", c, idx, ok)
	}
	if _, _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should report not found")
	}
}
