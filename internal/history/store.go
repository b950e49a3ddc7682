// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package history persists every scheduler.JobResult in BadgerDB so that
// status, the CLI and the ops API can show what ran, when, and how it ended.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/scheduler"
)

// Key prefixes for BadgerDB storage
const (
	runKeyPrefix = "run:"    // run:{startedAt}:{runID} -> JobResult
	idKeyPrefix  = "run_id:" // run_id:{runID} -> run key
)

// DefaultListLimit bounds List when the query sets no limit.
const DefaultListLimit = 50

// ErrRunNotFound is returned by Get for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Store is a BadgerDB-backed JobResult history.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens (or creates) the history database at path. Entries expire after
// ttl; zero keeps them forever.
//
// Example:
//
//	store, err := history.Open("/var/lib/snapvault/history", 90*24*time.Hour)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string, ttl time.Duration) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Suppress BadgerDB internal logs
	// Use value log file size appropriate for small records
	opts.ValueLogFileSize = 16 << 20 // 16MB (smaller than default 1GB)
	opts.SyncWrites = true
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for history: %w", err)
	}
	return &Store{db: db, ttl: ttl}, nil
}

// OpenInMemory opens a history that is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open("", 0)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// runKey sorts by start time; the run id breaks ties.
func runKey(r *scheduler.JobResult) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", runKeyPrefix, r.StartedAt.UnixNano(), r.RunID))
}

// Record stores one result.
func (s *Store) Record(ctx context.Context, result scheduler.JobResult) error {
	if result.RunID == "" {
		return errors.New("run id cannot be empty")
	}

	data, err := json.Marshal(&result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	key := runKey(&result)
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data)
		idEntry := badger.NewEntry([]byte(idKeyPrefix+result.RunID), key)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
			idEntry = idEntry.WithTTL(s.ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("set result: %w", err)
		}
		if err := txn.SetEntry(idEntry); err != nil {
			return fmt.Errorf("set run id index: %w", err)
		}
		return nil
	})
}

// Handler adapts Record to scheduler.ResultHandler. Write failures are
// logged; history never blocks or fails a job.
func (s *Store) Handler() scheduler.ResultHandler {
	return func(ctx context.Context, result scheduler.JobResult) {
		if err := s.Record(ctx, result); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("run_id", result.RunID).Msg("Failed to record run history")
		}
	}
}

// Get returns the run with id.
func (s *Store) Get(ctx context.Context, id string) (*scheduler.JobResult, error) {
	var result scheduler.JobResult

	err := s.db.View(func(txn *badger.Txn) error {
		idItem, err := txn.Get([]byte(idKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRunNotFound
		}
		if err != nil {
			return fmt.Errorf("get run id index: %w", err)
		}
		key, err := idItem.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRunNotFound
		}
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Query filters List.
type Query struct {
	// Job limits results to one job name.
	Job string
	// Status limits results to one outcome.
	Status scheduler.RunStatus
	// Limit caps the number of results. Zero means DefaultListLimit.
	Limit int
}

// List returns matching runs, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]scheduler.JobResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	results := make([]scheduler.JobResult, 0, min(limit, 64))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runKeyPrefix)
		// Reverse iteration starts at the last key <= seek.
		seek := append([]byte(runKeyPrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var r scheduler.JobResult
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				continue
			}
			if q.Job != "" && r.Job != q.Job {
				continue
			}
			if q.Status != "" && r.Status != q.Status {
				continue
			}

			results = append(results, r)
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return results, nil
}

// Latest returns the newest run of each job.
func (s *Store) Latest(ctx context.Context) (map[string]scheduler.JobResult, error) {
	latest := make(map[string]scheduler.JobResult)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runKeyPrefix)
		seek := append([]byte(runKeyPrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var r scheduler.JobResult
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				continue
			}
			if _, seen := latest[r.Job]; !seen {
				latest[r.Job] = r
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return latest, nil
}
