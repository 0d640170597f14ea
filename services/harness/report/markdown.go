// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/jitbench/services/harness/runner"
)

// MarkdownReporter writes a GitHub-flavoured Markdown table.
type MarkdownReporter struct {
	w    io.Writer
	opts Options
}

// NewMarkdownReporter creates a Markdown reporter.
func NewMarkdownReporter(w io.Writer, opts Options) *MarkdownReporter {
	return &MarkdownReporter{w: w, opts: opts}
}

// Report implements Reporter.
func (r *MarkdownReporter) Report(res *runner.Result) error {
	if res == nil || res.Table == nil {
		return ErrNilResult
	}
	var b strings.Builder

	fmt.Fprintf(&b, "## jitbench run `%s`\n\n", res.ID)
	for _, col := range res.Table.Columns {
		switch {
		case !col.Available:
			fmt.Fprintf(&b, "- **%s**: unavailable (%s)\n", col.ID, escapeCell(col.Reason))
		case col.Runtime != "":
			fmt.Fprintf(&b, "- **%s**: %s\n", col.ID, col.Runtime)
		default:
			fmt.Fprintf(&b, "- **%s**\n", col.ID)
		}
	}
	b.WriteString("\n")

	cols := r.opts.columns()
	b.WriteString("| Case | Variant | Job |")
	for _, c := range cols {
		fmt.Fprintf(&b, " %s |", c.Title())
	}
	b.WriteString("\n|---|---|---|")
	for range cols {
		b.WriteString("---:|")
	}
	b.WriteString("\n")

	for _, row := range res.Table.Rows {
		for _, cell := range row.Cells {
			fmt.Fprintf(&b, "| %s | %s | %s |", escapeCell(row.Key.Case), escapeCell(seriesLabel(row.Key)), escapeCell(cell.JobID))
			for _, c := range cols {
				fmt.Fprintf(&b, " %s |", escapeCell(cellValue(c, cell)))
			}
			b.WriteString("\n")
		}
	}

	if ns := notes(res.Table, r.opts.Verbose); len(ns) > 0 {
		b.WriteString("\n")
		for _, n := range ns {
			fmt.Fprintf(&b, "> %s\n", n)
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
