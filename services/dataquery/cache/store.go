// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the fingerprint-keyed result cache on
// BadgerDB.
//
// Entries carry their own expiry timestamp and are treated as absent
// once expired, so TTL semantics survive process restarts. BadgerDB's
// native key TTL is layered on top purely for space reclamation. A
// single entry write is atomic; concurrent Put calls for the same
// fingerprint are last-writer-wins, which is sufficient because cached
// payloads for equal fingerprints are interchangeable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianData/services/dataquery/metrics"
)

const keyPrefix = "result/"

// Entry statuses. Error entries are cached briefly so a failing
// upstream is not hammered, and are distinguishable so callers can
// bypass them.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry is one cached query result.
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	SourceID    string          `json:"source_id"`
	QueryID     string          `json:"query_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	HitCount    int64           `json:"hit_count"`
}

// Success reports whether the entry holds a successful result.
func (e *Entry) Success() bool { return e.Status == StatusSuccess }

// Stats summarizes cache effectiveness since process start plus the
// persisted entry count.
type Stats struct {
	HitCount    uint64 `json:"hit_count"`
	MissCount   uint64 `json:"miss_count"`
	SizeEntries int    `json:"size_entries"`
}

// Options configures a Store.
type Options struct {
	// Dir is the BadgerDB directory. Required unless InMemory.
	Dir string

	// InMemory disables persistence. For tests.
	InMemory bool

	// SuccessTTL is the default lifetime for success entries.
	// Default: 1 hour.
	SuccessTTL time.Duration

	// ErrorTTL is the lifetime for error entries. Default: one tenth
	// of SuccessTTL with a 30 second floor.
	ErrorTTL time.Duration

	// MaxEntryBytes skips persisting oversized payloads instead of
	// failing the request. Default: 15 MiB. Negative disables the
	// guard.
	MaxEntryBytes int

	Logger *slog.Logger

	// Metrics is optional; hit/miss/entry collectors are updated when
	// set.
	Metrics *metrics.Metrics

	// Now is injectable for TTL tests.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.SuccessTTL <= 0 {
		o.SuccessTTL = time.Hour
	}
	if o.ErrorTTL <= 0 {
		o.ErrorTTL = o.SuccessTTL / 10
		if o.ErrorTTL < 30*time.Second {
			o.ErrorTTL = 30 * time.Second
		}
	}
	if o.MaxEntryBytes == 0 {
		o.MaxEntryBytes = 15 * 1024 * 1024
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Store is the durable fingerprint-keyed cache.
//
// Thread Safety: safe for concurrent use. Badger provides entry-level
// atomicity; the in-process hit/miss counters are atomics.
type Store struct {
	db     *badger.DB
	opts   Options
	hits   atomic.Uint64
	misses atomic.Uint64
}

// Open creates or opens a cache store.
func Open(opts Options) (*Store, error) {
	opts.setDefaults()

	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("cache: dir is required for a persistent store")
		}
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("cache: create directory %s: %w", opts.Dir, err)
		}
		badgerOpts = badger.DefaultOptions(opts.Dir)
	}
	badgerOpts = badgerOpts.
		WithSyncWrites(!opts.InMemory).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: opts.Logger})

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger store: %w", err)
	}

	return &Store{db: db, opts: opts}, nil
}

// Close flushes and closes the backing store.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the live entry for a fingerprint.
//
// Absent and expired entries are indistinguishable to the caller: both
// report ok=false and count as a miss. A non-nil error indicates
// backing-store trouble; the engine treats that as a miss too, trading
// cache effectiveness for availability.
func (s *Store) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var entry Entry
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(fingerprint))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}
		if !s.opts.Now().Before(entry.ExpiresAt) {
			return badger.ErrKeyNotFound
		}

		entry.HitCount++
		updated, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(entryKey(fingerprint), updated).
			WithTTL(entry.ExpiresAt.Sub(s.opts.Now())))
	})

	// The hit-count bump is a read-modify-write; under concurrent Puts
	// badger's optimistic locking can reject it. The entry itself is
	// still valid, so fall back to a plain read and skip the count.
	if errors.Is(err, badger.ErrConflict) {
		err = s.db.View(func(txn *badger.Txn) error {
			item, viewErr := txn.Get(entryKey(fingerprint))
			if viewErr != nil {
				return viewErr
			}
			if viewErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); viewErr != nil {
				return viewErr
			}
			if !s.opts.Now().Before(entry.ExpiresAt) {
				return badger.ErrKeyNotFound
			}
			return nil
		})
	}

	switch {
	case err == nil:
		s.hits.Add(1)
		if s.opts.Metrics != nil {
			s.opts.Metrics.CacheHits.Inc()
		}
		return &entry, true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		s.recordMiss()
		return nil, false, nil
	default:
		s.recordMiss()
		return nil, false, fmt.Errorf("cache get %s: %w", fingerprint, err)
	}
}

// Put writes an entry through the cache.
//
// ttl <= 0 selects the configured default for the status. Payloads over
// MaxEntryBytes are skipped with a log line rather than surfaced as an
// error: an uncacheable result must not fail the request that produced
// it.
func (s *Store) Put(ctx context.Context, fingerprint, sourceID, queryID string, payload any, status string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache put %s: encode payload: %w", fingerprint, err)
	}
	if s.opts.MaxEntryBytes > 0 && len(raw) > s.opts.MaxEntryBytes {
		s.opts.Logger.Info("skipping oversized cache entry",
			"source_id", sourceID,
			"payload_bytes", len(raw),
			"limit_bytes", s.opts.MaxEntryBytes)
		return nil
	}

	if ttl <= 0 {
		if status == StatusError {
			ttl = s.opts.ErrorTTL
		} else {
			ttl = s.opts.SuccessTTL
		}
	}

	now := s.opts.Now()
	entry := Entry{
		Fingerprint: fingerprint,
		SourceID:    sourceID,
		QueryID:     queryID,
		Payload:     raw,
		Status:      status,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	encoded, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("cache put %s: encode entry: %w", fingerprint, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(entryKey(fingerprint), encoded).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("cache put %s: %w", fingerprint, err)
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.CacheEntries.Set(float64(s.countEntries()))
	}
	return nil
}

// Invalidate removes a single entry. Removing an absent entry is not an
// error.
func (s *Store) Invalidate(ctx context.Context, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(fingerprint))
	})
	if err != nil {
		return fmt.Errorf("cache invalidate %s: %w", fingerprint, err)
	}
	return nil
}

// InvalidateSource removes every entry for a data source and returns
// the number removed.
func (s *Store) InvalidateSource(ctx context.Context, sourceID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var doomed [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(keyPrefix)); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			item := it.Item()
			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				continue
			}
			if entry.SourceID == sourceID {
				doomed = append(doomed, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache scan %s: %w", sourceID, err)
	}

	removed := 0
	for _, key := range doomed {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err == nil {
			removed++
		}
	}
	return removed, nil
}

// Stats reports hit/miss counts since process start and the persisted
// entry count (expired-but-unreclaimed entries included).
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	return Stats{
		HitCount:    s.hits.Load(),
		MissCount:   s.misses.Load(),
		SizeEntries: s.countEntries(),
	}, nil
}

func (s *Store) recordMiss() {
	s.misses.Add(1)
	if s.opts.Metrics != nil {
		s.opts.Metrics.CacheMisses.Inc()
	}
}

func (s *Store) countEntries() int {
	count := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek([]byte(keyPrefix)); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			count++
		}
		return nil
	})
	return count
}

func entryKey(fingerprint string) []byte {
	return []byte(keyPrefix + fingerprint)
}

// badgerLogger adapts slog to BadgerDB's logger interface, at debug
// level so store internals stay out of normal output.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
