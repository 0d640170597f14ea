// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cases is the built-in benchmark catalogue.
//
// Each case isolates one code-generation behavior: interface type checks,
// bounds-check elimination, write barriers, escape analysis, fixed-width
// lane arithmetic, hashing and lazy sequence pipelines. The payloads are
// opaque to the harness; only their declaration order and argument
// variants matter to reports.
//
// The parent process and every worker register the same catalogue, so
// (case, variant) indices agree across process boundaries.
package cases

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/jitbench/services/harness"
)

// Catalogue builds a fresh copy of every case in declaration order.
//
// Cases that carry state (setup buffers, prebuilt pipelines) get their own
// state per call, so two registries never share it.
func Catalogue() ([]*harness.Case, error) {
	builders := []*harness.CaseBuilder{
		castCase(),
		equalsCase(),
		sequenceEqualCase(),
		loopCase(),
		genericNilCheckCase(),
		boundsChecksCase(),
		boundsChecks2Case(),
		writeBarrierCase(),
		stackAllocationCase(),
		pathJoinCase(),
		hasSuffixFoldCase(),
		boxedCompareCase(),
		vector512Case(),
		vector512LiteralCase(),
		vectorSquareCase(),
		vectorHashCase(),
	}
	builders = append(builders, pipelineCases()...)
	builders = append(builders, emptyOperatorCases()...)

	out := make([]*harness.Case, 0, len(builders))
	var errs []error
	for _, b := range builders {
		c, err := b.Build()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Register adds the whole catalogue to reg.
//
// Outputs:
//   - error: A build error, harness.ErrDuplicateName if reg already holds a
//     case with a catalogue name, or harness.ErrRegistryFrozen.
//
// Example:
//
//	reg := harness.NewRegistry()
//	if err := cases.Register(reg); err != nil {
//	    return err
//	}
func Register(reg *harness.Registry) error {
	all, err := Catalogue()
	if err != nil {
		return fmt.Errorf("build catalogue: %w", err)
	}
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
