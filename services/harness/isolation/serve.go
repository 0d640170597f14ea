// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package isolation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/engine"
)

// Serve is the worker-process entry point.
//
// Description:
//
//	Reads one Request from in, writes a hello record, then measures each
//	requested series in order on a single engine and writes one series
//	record per key, followed by a done record. Keys whose case is not in
//	reg (or whose registration index differs) are reported with
//	StatusFault. Once ctx is cancelled the remaining keys are reported as
//	skipped. An engine panic is reported as a fatal record.
//
// Inputs:
//   - ctx: Cancelled when the parent interrupts the worker.
//   - reg: The case catalogue; must match the parent's.
//   - in: The request stream (the process's stdin).
//   - out: The record stream (the process's stdout).
//   - logger: Destination for diagnostics. Nil uses slog.Default().
//
// Outputs:
//   - error: Non-nil if the request is unreadable, the engine config is
//     invalid, records cannot be written, or the engine panicked.
//
// Thread Safety: Call once per process.
func Serve(ctx context.Context, reg *harness.Registry, in io.Reader, out io.Writer, logger *slog.Logger) (err error) {
	if logger == nil {
		logger = slog.Default()
	}
	enc := NewEncoder(out)

	var req Request
	if err := NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("reading request: %w", err)
	}
	logger = logger.With(slog.String("job", req.JobID))

	eng, err := engine.New(engine.WithConfig(&req.Engine))
	if err != nil {
		_ = enc.Encode(Record{Type: RecordFatal, Fatal: err.Error()})
		return err
	}
	eng.SetLogger(logger)
	reg.Freeze()

	hello := &Hello{
		JobID:        req.JobID,
		PID:          os.Getpid(),
		GoVersion:    runtime.Version(),
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		GOMAXPROCS:   runtime.GOMAXPROCS(0),
		NumCPU:       runtime.NumCPU(),
		ResolutionNs: eng.Resolution().Nanoseconds(),
	}
	if err := enc.Encode(Record{Type: RecordHello, Hello: hello}); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("engine panic: %v", r)
			logger.Error("worker aborted", slog.String("error", msg))
			_ = enc.Encode(Record{Type: RecordFatal, Fatal: msg})
			err = errors.New(msg)
		}
	}()

	count := 0
	for _, key := range req.Keys {
		result := measure(ctx, eng, reg, key)
		result.JobID = req.JobID
		if err := enc.Encode(Record{Type: RecordSeries, Series: result}); err != nil {
			return err
		}
		count++
	}

	logger.Debug("worker done", slog.Int("series", count))
	return enc.Encode(Record{Type: RecordDone, Done: &Done{Series: count}})
}

func measure(ctx context.Context, eng *engine.Engine, reg *harness.Registry, key harness.SeriesKey) *harness.SeriesResult {
	c, idx, ok := reg.Get(key.Case)
	if !ok || idx != key.CaseIndex {
		return harness.Failed(key, "", harness.StatusFault,
			fmt.Errorf("case %s not in worker catalogue at index %d", key.Case, key.CaseIndex))
	}

	result, err := eng.Run(ctx, c, key.CaseIndex, key.VariantIndex)
	if result == nil {
		return harness.Failed(key, "", harness.StatusFault, err)
	}
	if result.Variant != key.Variant {
		return harness.Failed(key, "", harness.StatusFault,
			fmt.Errorf("variant %d of %s is %q in worker, %q in parent", key.VariantIndex, key.Case, result.Variant, key.Variant))
	}
	return result
}
