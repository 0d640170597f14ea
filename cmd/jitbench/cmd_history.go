// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/history"
	"github.com/AleutianAI/jitbench/services/harness/report"
	"github.com/AleutianAI/jitbench/services/harness/runner"
)

// shortIDLen is how much of a run ID the listing shows. Any unique prefix
// is accepted where an ID is expected.
const shortIDLen = 8

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and compare stored runs",
	}
	cmd.AddCommand(
		newHistoryListCmd(a),
		newHistoryShowCmd(a),
		newHistoryDiffCmd(a),
		newHistoryRmCmd(a),
	)
	return cmd
}

func newHistoryListCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return usageError(errors.New("--limit must be >= 0"))
			}
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				if runs == nil {
					runs = []history.Summary{}
				}
				return writeJSON(a.stdout, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.stdout, "no runs stored")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, s := range runs {
				rows = append(rows, summaryRow(s))
			}
			return writeTable(a.stdout, []string{"ID", "Started", "Duration", "Jobs", "Series", "Status", "Filter"}, rows, 0)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print summaries as JSON")
	return cmd
}

// summaryRow renders one listing line.
func summaryRow(s history.Summary) []string {
	id := s.ID
	if len(id) > shortIDLen {
		id = id[:shortIDLen]
	}
	return []string{
		id,
		s.StartedAt.Local().Format(time.DateTime),
		s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String(),
		strings.Join(s.Jobs, ", "),
		strconv.Itoa(s.Series),
		statusCounts(s.Counts),
		s.Filter,
	}
}

// statusCounts renders non-zero counts in a fixed status order.
func statusCounts(counts map[harness.Status]int) string {
	order := []harness.Status{
		harness.StatusOK,
		harness.StatusUnstable,
		harness.StatusWorkFailed,
		harness.StatusSetupFailed,
		harness.StatusFault,
		harness.StatusSkipped,
		harness.StatusJobUnavailable,
	}
	var parts []string
	for _, st := range order {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func newHistoryShowCmd(a *app) *cobra.Command {
	var (
		format  string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "show [ID|latest]",
		Short: "Print the report of a stored run",
		Long:  "Show prints a stored run in any report format. Without an ID, or with \"latest\", the newest run is shown.",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := report.New(report.Format(format), a.stdout, report.Options{Verbose: verbose})
			if err != nil {
				return usageError(err)
			}
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			var res *runner.Result
			if len(args) == 0 || args[0] == "latest" {
				res, err = store.Latest(cmd.Context())
			} else {
				res, err = store.Get(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return rep.Report(res)
		},
	}
	cmd.Flags().StringVar(&format, "format", string(report.FormatConsole), "report format: console, json, markdown")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show dispersion columns and every warning")
	return cmd
}

func newHistoryDiffCmd(a *app) *cobra.Command {
	var (
		threshold float64
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "diff [OLD NEW]",
		Short: "Compare two stored runs",
		Long: `Diff matches series by case, variant and job and classifies each as
faster, slower or unchanged against the threshold. Without arguments the
two newest runs are compared.`,
		Args: usageArgs(func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("diff takes no arguments or OLD and NEW, got %d", len(args))
			}
			return nil
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold < 0 {
				return usageError(errors.New("--threshold must be >= 0"))
			}
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var older, newer *runner.Result
			if len(args) == 0 {
				older, newer, err = store.LatestPair(ctx)
			} else {
				if older, err = store.Get(ctx, args[0]); err == nil {
					newer, err = store.Get(ctx, args[1])
				}
			}
			if err != nil {
				return err
			}

			d := history.Diff(older, newer, threshold)
			if asJSON {
				return writeJSON(a.stdout, d)
			}
			return writeDiff(a, d)
		},
	}
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", history.DefaultDiffThreshold, "percent change below which a series is unchanged")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the diff as JSON")
	return cmd
}

// writeDiff prints the changed entries followed by a one-line tally.
func writeDiff(a *app, d *history.RunDiff) error {
	fmt.Fprintf(a.stdout, "%s -> %s (threshold %.1f%%)\n", d.OldID, d.NewID, d.Threshold)
	for _, e := range d.Entries {
		if e.Change == history.ChangeUnchanged {
			continue
		}
		fmt.Fprintf(a.stdout, "  %s\n", e)
	}
	changes := []history.Change{
		history.ChangeFaster,
		history.ChangeSlower,
		history.ChangeUnchanged,
		history.ChangeAdded,
		history.ChangeRemoved,
		history.ChangeFailed,
	}
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, fmt.Sprintf("%d %s", d.Count(c), c))
	}
	_, err := fmt.Fprintln(a.stdout, strings.Join(parts, ", "))
	return err
}

func newHistoryRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a stored run",
		Args:    usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "deleted %s\n", args[0])
			return nil
		},
	}
}
