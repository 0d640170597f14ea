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
	"bytes"
	"encoding/json"
	"io"

	"github.com/sugawarayuuta/sonnet"

	"github.com/AleutianAI/jitbench/services/harness/runner"
)

// JSONReporter writes the run as one JSON document.
type JSONReporter struct {
	w      io.Writer
	pretty bool
}

// NewJSONReporter creates a JSON reporter; pretty indents the output.
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{w: w, pretty: pretty}
}

// Report implements Reporter.
func (r *JSONReporter) Report(res *runner.Result) error {
	if res == nil {
		return ErrNilResult
	}
	data, err := sonnet.Marshal(res)
	if err != nil {
		return err
	}
	if r.pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	data = append(data, '\n')
	_, err = r.w.Write(data)
	return err
}
