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
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/jitbench/services/cases"
	"github.com/AleutianAI/jitbench/services/harness"
)

func newListCmd(a *app) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:         "list",
		Short:       "List the benchmark cases and their variants",
		Args:        usageArgs(cobra.NoArgs),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listCases(filter)
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "regular expression selecting case names")
	return cmd
}

// listCases prints the catalogue in registration order.
func (a *app) listCases(filter string) error {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		if re, err = regexp.Compile(filter); err != nil {
			return usageError(fmt.Errorf("filter: %w", err))
		}
	}

	reg := harness.NewRegistry()
	if err := cases.Register(reg); err != nil {
		return fmt.Errorf("register cases: %w", err)
	}

	var rows [][]string
	n := 0
	for c := range reg.Select(re) {
		n++
		rows = append(rows, []string{
			strconv.Itoa(n),
			c.Name(),
			variantLabels(c),
			c.Description(),
		})
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.stdout, "no cases match")
		return nil
	}
	return writeTable(a.stdout, []string{"#", "Case", "Variants", "Description"}, rows, 0)
}

// variantLabels joins a case's variant labels; "-" for a case without
// arguments.
func variantLabels(c *harness.Case) string {
	var labels []string
	for _, v := range c.Variants() {
		if v.Label != "" {
			labels = append(labels, v.Label)
		}
	}
	if len(labels) == 0 {
		return "-"
	}
	return strings.Join(labels, ", ")
}
