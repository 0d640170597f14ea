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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/sugawarayuuta/sonnet"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/engine"
)

// maxRecordSize bounds one wire line.
const maxRecordSize = 4 << 20

var (
	// ErrProtocol indicates a malformed or out-of-order wire record.
	ErrProtocol = errors.New("worker protocol error")
)

// RecordType discriminates wire records.
type RecordType string

const (
	// RecordHello is the first record a worker writes once it is ready.
	RecordHello RecordType = "hello"

	// RecordSeries carries one finished series result.
	RecordSeries RecordType = "series"

	// RecordDone is the last record of a clean worker run.
	RecordDone RecordType = "done"

	// RecordFatal reports an engine-internal failure before exit.
	RecordFatal RecordType = "fatal"
)

// Request tells a worker what to measure. It is the single line written to
// the worker's stdin.
type Request struct {
	JobID  string              `json:"job_id"`
	Keys   []harness.SeriesKey `json:"keys"`
	Engine engine.Config       `json:"engine"`
}

// Hello describes the worker's runtime.
type Hello struct {
	JobID      string `json:"job_id"`
	PID        int    `json:"pid"`
	GoVersion  string `json:"go_version"`
	GOOS       string `json:"goos"`
	GOARCH     string `json:"goarch"`
	GOMAXPROCS int    `json:"gomaxprocs"`
	NumCPU     int    `json:"num_cpu"`

	// ResolutionNs is the worker's estimated timer resolution.
	ResolutionNs int64 `json:"resolution_ns"`
}

// Runtime renders the hello as a one-line runtime description.
func (h *Hello) Runtime() string {
	if h == nil {
		return ""
	}
	return fmt.Sprintf("%s %s/%s", h.GoVersion, h.GOOS, h.GOARCH)
}

// Done summarizes a clean worker run.
type Done struct {
	Series int `json:"series"`
}

// Record is one newline-delimited JSON message from a worker.
type Record struct {
	Type   RecordType            `json:"type"`
	Hello  *Hello                `json:"hello,omitempty"`
	Series *harness.SeriesResult `json:"series,omitempty"`
	Done   *Done                 `json:"done,omitempty"`
	Fatal  string                `json:"fatal,omitempty"`
}

// Validate checks that the payload matching Type is present.
func (r *Record) Validate() error {
	switch r.Type {
	case RecordHello:
		if r.Hello == nil {
			return fmt.Errorf("%w: hello record without payload", ErrProtocol)
		}
	case RecordSeries:
		if r.Series == nil {
			return fmt.Errorf("%w: series record without payload", ErrProtocol)
		}
	case RecordDone:
		if r.Done == nil {
			return fmt.Errorf("%w: done record without payload", ErrProtocol)
		}
	case RecordFatal:
	default:
		return fmt.Errorf("%w: unknown record type %q", ErrProtocol, r.Type)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Codec
// -----------------------------------------------------------------------------

// Encoder writes newline-delimited JSON values.
//
// Thread Safety: Not safe for concurrent use.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v followed by a newline.
func (e *Encoder) Encode(v any) error {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited JSON values.
//
// Thread Safety: Not safe for concurrent use.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10)}
}

// Decode reads the next non-empty line into v.
//
// Outputs:
//   - error: io.EOF at a clean end of stream, ErrProtocol (wrapped) on an
//     oversized or malformed line.
func (d *Decoder) Decode(v any) error {
	for {
		line, err := d.readLine()
		if len(line) == 0 {
			if err != nil {
				return err
			}
			continue
		}
		if uerr := sonnet.Unmarshal(line, v); uerr != nil {
			return fmt.Errorf("%w: %w", ErrProtocol, uerr)
		}
		return nil
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxRecordSize {
			return nil, fmt.Errorf("%w: record exceeds %d bytes", ErrProtocol, maxRecordSize)
		}
		switch {
		case err == nil:
			return bytes.TrimSpace(buf), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return bytes.TrimSpace(buf), err
		}
	}
}
