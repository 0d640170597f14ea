// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package isolation runs each job in its own operating-system process so
// that environment overlays, runtime selection and warm state never leak
// between jobs.
//
// The parent side (ProcessIsolator) launches a worker, streams newline
// delimited JSON records from its stdout and tears it down when the job's
// series are finished. The worker side (Serve) measures the requested
// series strictly sequentially.
package isolation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/jitbench/services/harness"
)

const tracerName = "jitbench.harness.isolation"

const (
	// WorkerCommand is the hidden sub-command that enters worker mode.
	WorkerCommand = "worker"

	// DefaultGracePeriod is how long a cancelled worker may take to exit
	// after the interrupt before it is killed.
	DefaultGracePeriod = 5 * time.Second

	// DefaultHelloTimeout bounds the wait for a worker's hello record.
	DefaultHelloTimeout = 30 * time.Second
)

var (
	// ErrWorkerFailed indicates a worker that exited abnormally after it
	// reported ready.
	ErrWorkerFailed = errors.New("worker exited abnormally")
)

// Isolator runs one job's series in an isolated execution context.
type Isolator interface {
	// Run launches the job, streams every record after hello to emit, and
	// returns once the context is torn down.
	//
	// Outputs:
	//   - *Hello: The worker's hello, nil if it never arrived.
	//   - error: nil after a clean done record, *harness.UnavailableError
	//     when the context could not be created, an error wrapping
	//     harness.ErrSkipped on cancellation, or one wrapping
	//     ErrWorkerFailed otherwise.
	Run(ctx context.Context, job harness.JobConfig, req Request, emit func(Record)) (*Hello, error)
}

// ProcessIsolator launches one fresh process per job.
//
// Description:
//
//	The child is the current executable (or the job's Runtime, resolved
//	via exec.LookPath) invoked with Args. Its environment is Environ plus
//	the job's env file plus the job's overlay, passed through exec.Cmd.Env;
//	this process's environment is never modified. Cancelling ctx sends an
//	interrupt and kills the child after GracePeriod.
//
// Thread Safety: Safe for concurrent use; each Run owns its own process.
type ProcessIsolator struct {
	// Executable is the binary used for self-runtime jobs.
	// Default: os.Executable()
	Executable string

	// Args are passed to the child. Default: []string{WorkerCommand}
	Args []string

	// Environ returns the base environment. Default: os.Environ
	Environ func() []string

	// Stderr receives the child's stderr. Default: os.Stderr
	Stderr io.Writer

	// GracePeriod is the interrupt-to-kill delay. Default: DefaultGracePeriod
	GracePeriod time.Duration

	// HelloTimeout bounds the wait for the hello record. Default: DefaultHelloTimeout
	HelloTimeout time.Duration

	logger *slog.Logger
}

// NewProcessIsolator creates an isolator with default settings.
func NewProcessIsolator() *ProcessIsolator {
	return &ProcessIsolator{logger: slog.Default()}
}

// SetLogger sets the logger. Nil values are ignored.
func (p *ProcessIsolator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

func (p *ProcessIsolator) log() *slog.Logger {
	if p.logger == nil {
		return slog.Default()
	}
	return p.logger
}

// resolve finds the binary for a job.
func (p *ProcessIsolator) resolve(job harness.JobConfig) (string, error) {
	if !job.IsSelf() {
		path, err := exec.LookPath(job.Runtime)
		if err != nil {
			return "", &harness.UnavailableError{JobID: job.ID, Reason: fmt.Sprintf("runtime %q not found", job.Runtime), Err: err}
		}
		return path, nil
	}
	if p.Executable != "" {
		return p.Executable, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", &harness.UnavailableError{JobID: job.ID, Reason: "cannot locate current executable", Err: err}
	}
	return self, nil
}

// Run implements Isolator.
func (p *ProcessIsolator) Run(ctx context.Context, job harness.JobConfig, req Request, emit func(Record)) (*Hello, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "isolation.ProcessIsolator.Run",
		trace.WithAttributes(
			attribute.String("harness.job", job.ID),
			attribute.Int("harness.series", len(req.Keys)),
		),
	)
	defer span.End()

	hello, err := p.run(ctx, job, req, emit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job did not complete")
	} else {
		span.SetStatus(codes.Ok, "job completed")
	}
	return hello, err
}

func (p *ProcessIsolator) run(ctx context.Context, job harness.JobConfig, req Request, emit func(Record)) (*Hello, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", harness.ErrSkipped, err)
	}

	bin, err := p.resolve(job)
	if err != nil {
		return nil, err
	}

	environ := p.Environ
	if environ == nil {
		environ = os.Environ
	}
	env, err := JobEnv(environ(), job)
	if err != nil {
		return nil, &harness.UnavailableError{JobID: job.ID, Reason: "invalid env file", Err: err}
	}

	req.JobID = job.ID
	var stdin bytes.Buffer
	if err := NewEncoder(&stdin).Encode(req); err != nil {
		return nil, err
	}

	args := p.Args
	if args == nil {
		args = []string{WorkerCommand}
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = env
	cmd.Stdin = &stdin
	cmd.Stderr = p.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = p.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &harness.UnavailableError{JobID: job.ID, Reason: "cannot create stdout pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &harness.UnavailableError{JobID: job.ID, Reason: "cannot start process", Err: err}
	}

	logger := p.log().With(slog.String("job", job.ID), slog.Int("pid", cmd.Process.Pid))
	logger.Debug("worker started", slog.String("binary", bin), slog.Int("series", len(req.Keys)))

	helloTimeout := p.HelloTimeout
	if helloTimeout <= 0 {
		helloTimeout = DefaultHelloTimeout
	}
	var (
		mu       sync.Mutex
		gotHello bool
		timedOut bool
	)
	timer := time.AfterFunc(helloTimeout, func() {
		mu.Lock()
		defer mu.Unlock()
		if !gotHello {
			timedOut = true
			_ = cmd.Process.Kill()
		}
	})
	defer timer.Stop()

	var (
		hello    *Hello
		done     bool
		fatal    string
		protoErr error
	)
	dec := NewDecoder(stdout)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if !errors.Is(err, io.EOF) {
				protoErr = err
			}
			break
		}
		if err := rec.Validate(); err != nil {
			protoErr = err
			break
		}

		if hello == nil {
			if rec.Type != RecordHello {
				protoErr = fmt.Errorf("%w: first record is %q, want hello", ErrProtocol, rec.Type)
				break
			}
			mu.Lock()
			gotHello = true
			mu.Unlock()
			timer.Stop()
			hello = rec.Hello
			logger.Debug("worker ready", slog.String("runtime", hello.Runtime()))
			continue
		}

		switch rec.Type {
		case RecordSeries:
			rec.Series.JobID = job.ID
			emit(rec)
		case RecordDone:
			done = true
		case RecordFatal:
			fatal = rec.Fatal
			emit(rec)
		}
	}
	if protoErr != nil {
		// Stop reading; make sure the child does not block on a full pipe.
		_ = cmd.Process.Kill()
	}
	// Drain so Wait does not race the pipe close.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	mu.Lock()
	expired := timedOut
	mu.Unlock()

	switch {
	case hello == nil && ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %w", harness.ErrSkipped, ctx.Err())
	case hello == nil:
		reason := "worker exited before reporting ready"
		if expired {
			reason = fmt.Sprintf("no hello within %s", helloTimeout)
		}
		return nil, &harness.UnavailableError{JobID: job.ID, Reason: reason, Err: errors.Join(protoErr, waitErr)}
	case ctx.Err() != nil:
		return hello, fmt.Errorf("%w: %w", harness.ErrSkipped, ctx.Err())
	case protoErr != nil:
		return hello, fmt.Errorf("%w: %w", ErrWorkerFailed, protoErr)
	case fatal != "":
		return hello, fmt.Errorf("%w: %s", ErrWorkerFailed, fatal)
	case waitErr != nil:
		return hello, fmt.Errorf("%w: %w", ErrWorkerFailed, waitErr)
	case !done:
		return hello, fmt.Errorf("%w: stream ended without done record", ErrWorkerFailed)
	}

	logger.Debug("worker finished")
	return hello, nil
}
