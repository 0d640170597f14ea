// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders a finished run.
//
// Every reporter is a pure function of the run: rows follow registration
// then declaration order, job columns follow job order, and nothing depends
// on map iteration or wall-clock time, so identical runs render identically.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/jitbench/services/harness/runner"
)

var (
	// ErrUnknownFormat is returned by New for an unsupported format.
	ErrUnknownFormat = errors.New("unknown report format")

	// ErrNilResult is returned when rendering a nil run.
	ErrNilResult = errors.New("result must not be nil")
)

// Format names a reporter.
type Format string

const (
	FormatConsole  Format = "console"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formats lists the supported formats.
var Formats = []Format{FormatConsole, FormatJSON, FormatMarkdown}

// Reporter renders a run to its writer.
type Reporter interface {
	Report(res *runner.Result) error
}

// New creates a reporter for format writing to w.
//
// Example:
//
//	rep, err := report.New(report.FormatConsole, os.Stdout, report.Options{Verbose: true})
func New(format Format, w io.Writer, opts Options) (Reporter, error) {
	switch Format(strings.ToLower(string(format))) {
	case FormatConsole, "":
		return NewConsoleReporter(w, opts), nil
	case FormatJSON:
		return NewJSONReporter(w, true), nil
	case FormatMarkdown, "md":
		return NewMarkdownReporter(w, opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
