// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists finished runs in a badger database so that runs
// can be listed, inspected and diffed later.
//
// Keys:
//
//	run/<id>                 JSON encoded runner.Result
//	idx/<finished-ns>/<id>   empty; orders runs by finish time
package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sugawarayuuta/sonnet"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/runner"
)

var (
	// ErrNotFound is returned for an unknown run ID.
	ErrNotFound = errors.New("run not found")

	// ErrAmbiguousID is returned when an ID prefix matches several runs.
	ErrAmbiguousID = errors.New("run id prefix is ambiguous")

	// ErrInvalidRun is returned when saving a run without ID or table.
	ErrInvalidRun = errors.New("run has no id or table")
)

var (
	runPrefix   = []byte("run/")
	indexPrefix = []byte("idx/")
)

// Summary is the listing view of a stored run.
type Summary struct {
	ID         string                 `json:"id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Filter     string                 `json:"filter,omitempty"`
	Jobs       []string               `json:"jobs"`
	Series     int                    `json:"series"`
	Counts     map[harness.Status]int `json:"counts"`
	ExitCode   int                    `json:"exit_code"`
}

// Summarize builds the listing view of a run.
func Summarize(res *runner.Result) Summary {
	s := Summary{
		ID:         res.ID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Filter:     res.Filter,
		ExitCode:   res.ExitCode(),
	}
	if res.Table != nil {
		for _, c := range res.Table.Columns {
			s.Jobs = append(s.Jobs, c.ID)
		}
		s.Series = len(res.Table.Rows)
		s.Counts = res.Table.Counts()
	}
	return s
}

// Store is the run history.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
}

// Open opens or creates the history described by cfg.
//
// Example:
//
//	store, err := history.Open(history.DefaultConfig("~/.jitbench/history"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, logger: slog.Default()}
	if cfg.Logger != nil {
		s.logger = cfg.Logger
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, s.logger)
	}
	return s, nil
}

// OpenInMemory opens an empty in-memory history.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func runKey(id string) []byte {
	return append(append([]byte{}, runPrefix...), id...)
}

func indexKey(res *runner.Result) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", indexPrefix, res.FinishedAt.UnixNano(), res.ID))
}

// Save stores a run. Saving the same ID again replaces it.
func (s *Store) Save(ctx context.Context, res *runner.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if res == nil || res.ID == "" || res.Table == nil {
		return ErrInvalidRun
	}
	data, err := sonnet.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", res.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if old, err := s.load(txn, res.ID); err == nil {
			if err := txn.Delete(indexKey(old)); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.Set(runKey(res.ID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(res), nil)
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", res.ID, err)
	}
	s.logger.Debug("run saved", slog.String("run", res.ID), slog.Int("bytes", len(data)))
	return nil
}

func (s *Store) load(txn *badger.Txn, id string) (*runner.Result, error) {
	item, err := txn.Get(runKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var res runner.Result
	if err := item.Value(func(val []byte) error {
		return sonnet.Unmarshal(val, &res)
	}); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &res, nil
}

// Get returns a run by full ID or unique ID prefix.
func (s *Store) Get(ctx context.Context, id string) (*runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var res *runner.Result
	err := s.db.View(func(txn *badger.Txn) error {
		full, err := resolveID(txn, id)
		if err != nil {
			return err
		}
		res, err = s.load(txn, full)
		return err
	})
	return res, err
}

func resolveID(txn *badger.Txn, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}
	if _, err := txn.Get(runKey(id)); err == nil {
		return id, nil
	}
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := runKey(id)
	var matches []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		matches = append(matches, string(bytes.TrimPrefix(it.Item().Key(), runPrefix)))
		if len(matches) > 1 {
			return "", fmt.Errorf("%w: %s", ErrAmbiguousID, id)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return matches[0], nil
}

// ids returns run IDs newest first, at most limit (all when limit <= 0).
func (s *Store) ids(txn *badger.Txn, limit int) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	seek := append(append([]byte{}, indexPrefix...), 0xFF)
	for it.Seek(seek); it.ValidForPrefix(indexPrefix); it.Next() {
		key := string(it.Item().Key())
		out = append(out, key[strings.LastIndexByte(key, '/')+1:])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// List returns summaries of the newest runs first.
//
// Inputs:
//   - limit: Maximum number of runs; zero or negative lists all.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Summary
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range s.ids(txn, limit) {
			res, err := s.load(txn, id)
			if err != nil {
				return err
			}
			out = append(out, Summarize(res))
		}
		return nil
	})
	return out, err
}

// Latest returns the most recently finished run.
func (s *Store) Latest(ctx context.Context) (*runner.Result, error) {
	runs, err := s.recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	return runs[0], nil
}

// LatestPair returns the two most recent runs, older first.
func (s *Store) LatestPair(ctx context.Context) (older, newer *runner.Result, err error) {
	runs, err := s.recent(ctx, 2)
	if err != nil {
		return nil, nil, err
	}
	if len(runs) < 2 {
		return nil, nil, fmt.Errorf("%w: need two runs to diff", ErrNotFound)
	}
	return runs[1], runs[0], nil
}

func (s *Store) recent(ctx context.Context, n int) ([]*runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*runner.Result
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range s.ids(txn, n) {
			res, err := s.load(txn, id)
			if err != nil {
				return err
			}
			out = append(out, res)
		}
		if len(out) == 0 {
			return fmt.Errorf("%w: history is empty", ErrNotFound)
		}
		return nil
	})
	return out, err
}

// Delete removes a run.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		full, err := resolveID(txn, id)
		if err != nil {
			return err
		}
		res, err := s.load(txn, full)
		if err != nil {
			return err
		}
		if err := txn.Delete(indexKey(res)); err != nil {
			return err
		}
		return txn.Delete(runKey(full))
	})
}
