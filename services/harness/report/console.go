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
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/runner"
)

// Console palette.
var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorMuted   = lipgloss.Color("#2C4A54")
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

// ConsoleReporter prints a bordered table per run.
//
// Description:
//
//	The header lists each job with the runtime its worker reported. The
//	table has one line per (case, variant, job). Styling is applied only
//	when the writer is a terminal; redirected output is plain text.
//
// Thread Safety: Not safe for concurrent use.
type ConsoleReporter struct {
	w     io.Writer
	opts  Options
	color bool
}

// NewConsoleReporter creates a console reporter.
func NewConsoleReporter(w io.Writer, opts Options) *ConsoleReporter {
	return &ConsoleReporter{w: w, opts: opts, color: isTerminal(w)}
}

// SetColor forces styling on or off.
func (r *ConsoleReporter) SetColor(enabled bool) {
	r.color = enabled
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *ConsoleReporter) style() lipgloss.Style {
	return lipgloss.NewStyle()
}

func (r *ConsoleReporter) paint(s string, c lipgloss.Color, bold bool) string {
	if !r.color {
		return s
	}
	return r.style().Foreground(c).Bold(bold).Render(s)
}

// Report implements Reporter.
func (r *ConsoleReporter) Report(res *runner.Result) error {
	if res == nil || res.Table == nil {
		return ErrNilResult
	}
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", r.paint("jitbench run", colorAccent, true), res.ID)
	for _, col := range res.Table.Columns {
		switch {
		case !col.Available:
			fmt.Fprintf(&b, "  %-16s %s\n", col.ID, r.paint("unavailable: "+col.Reason, colorError, false))
		case col.Runtime != "":
			fmt.Fprintf(&b, "  %-16s %s\n", col.ID, col.Runtime)
		default:
			fmt.Fprintf(&b, "  %s\n", col.ID)
		}
	}
	b.WriteString("\n")

	cols := r.opts.columns()
	headers := []string{"Case", "Variant", "Job"}
	for _, c := range cols {
		headers = append(headers, c.Title())
	}

	var rows [][]string
	var statuses []harness.Status
	for _, row := range res.Table.Rows {
		for _, cell := range row.Cells {
			line := []string{row.Key.Case, seriesLabel(row.Key), cell.JobID}
			for _, c := range cols {
				line = append(line, cellValue(c, cell))
			}
			rows = append(rows, line)
			statuses = append(statuses, cell.Status())
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := r.style().Padding(0, 1)
			if col >= 3 {
				s = s.Align(lipgloss.Right)
			}
			if !r.color {
				return s
			}
			if row == table.HeaderRow {
				return s.Bold(true).Foreground(colorAccent)
			}
			if row >= 0 && row < len(statuses) && col == 3 {
				switch statuses[row] {
				case harness.StatusOK:
				case harness.StatusUnstable:
					return s.Foreground(colorWarning)
				case harness.StatusSkipped, harness.StatusJobUnavailable:
					return s.Foreground(colorMuted)
				default:
					return s.Foreground(colorError)
				}
			}
			return s
		})
	if r.color {
		t = t.BorderStyle(r.style().Foreground(colorMuted))
	}
	b.WriteString(t.String())
	b.WriteString("\n")

	if ns := notes(res.Table, r.opts.Verbose); len(ns) > 0 {
		b.WriteString("\n")
		for _, n := range ns {
			fmt.Fprintf(&b, "  %s %s\n", r.paint("!", colorWarning, true), n)
		}
	}

	counts := res.Table.Counts()
	summary := fmt.Sprintf("%d series in %s", len(res.Table.Results()), res.Duration().Round(1e6))
	if n := counts[harness.StatusOK] + counts[harness.StatusUnstable]; n > 0 {
		summary += fmt.Sprintf(", %d measured", n)
	}
	fmt.Fprintf(&b, "\n%s\n", r.paint(summary, colorSuccess, false))

	_, err := io.WriteString(r.w, b.String())
	return err
}
