// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/jitbench/services/harness"
)

var (
	// ErrDuplicateTriple is returned when a (case, variant, job) triple is
	// submitted twice.
	ErrDuplicateTriple = errors.New("duplicate series result")

	// ErrUnknownTriple is returned for a result outside the run plan.
	ErrUnknownTriple = errors.New("series result not in run plan")

	// ErrCollectorClosed is returned by Submit after Close.
	ErrCollectorClosed = errors.New("collector closed")
)

// Collector accumulates the series results of one run.
//
// Description:
//
//	A single goroutine owns the result slots; Submit hands each result to it
//	and waits for the verdict, so concurrent job streams never touch shared
//	state directly. Every (case, variant, job) triple of the plan has exactly
//	one slot, and a second submission for an occupied slot is rejected.
//
// Thread Safety: Submit is safe for concurrent use. Close may be called once
// all submitters have returned; later calls return the same slots.
type Collector struct {
	jobs    map[string]int
	keys    map[harness.SeriesKey]int
	width   int
	results []*harness.SeriesResult

	onAccept func(*harness.SeriesResult)

	in        chan submission
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type submission struct {
	result *harness.SeriesResult
	reply  chan error
}

// NewCollector creates a collector for plan × jobIDs and starts its owner
// goroutine.
//
// Inputs:
//   - plan: Series keys in report order.
//   - jobIDs: Job identifiers in job order.
//   - onAccept: Optional callback run on the owner goroutine for every
//     accepted result. It must not call Submit.
//
// Outputs:
//   - *Collector: The running collector. Call Close to stop it.
func NewCollector(plan []harness.SeriesKey, jobIDs []string, onAccept func(*harness.SeriesResult)) *Collector {
	c := &Collector{
		jobs:     make(map[string]int, len(jobIDs)),
		keys:     make(map[harness.SeriesKey]int, len(plan)),
		width:    len(jobIDs),
		results:  make([]*harness.SeriesResult, len(plan)*len(jobIDs)),
		onAccept: onAccept,
		in:       make(chan submission),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i, id := range jobIDs {
		c.jobs[id] = i
	}
	for i, k := range plan {
		c.keys[k] = i
	}
	go c.loop()
	return c
}

func (c *Collector) loop() {
	defer close(c.done)
	for {
		select {
		case s := <-c.in:
			s.reply <- c.accept(s.result)
		case <-c.quit:
			return
		}
	}
}

func (c *Collector) accept(r *harness.SeriesResult) error {
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrUnknownTriple)
	}
	k, ok := c.keys[r.SeriesKey]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownTriple, r.Case, r.Variant)
	}
	j, ok := c.jobs[r.JobID]
	if !ok {
		return fmt.Errorf("%w: job %q", ErrUnknownTriple, r.JobID)
	}
	slot := k*c.width + j
	if c.results[slot] != nil {
		return fmt.Errorf("%w: %s/%s on %s", ErrDuplicateTriple, r.Case, r.Variant, r.JobID)
	}
	c.results[slot] = r
	if c.onAccept != nil {
		c.onAccept(r)
	}
	return nil
}

// Submit records one result.
//
// Outputs:
//   - error: ErrDuplicateTriple, ErrUnknownTriple or ErrCollectorClosed;
//     nil when the result was stored.
func (c *Collector) Submit(r *harness.SeriesResult) error {
	s := submission{result: r, reply: make(chan error, 1)}
	select {
	case c.in <- s:
		return <-s.reply
	case <-c.quit:
		return ErrCollectorClosed
	}
}

// Close stops the owner goroutine and returns the slots.
//
// Outputs:
//   - []*harness.SeriesResult: len(plan)*len(jobIDs) entries ordered by plan
//     key, then by job. Triples that never reported are nil.
func (c *Collector) Close() []*harness.SeriesResult {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.done
	return c.results
}
