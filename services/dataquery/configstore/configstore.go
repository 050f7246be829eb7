// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package configstore loads connector, stored-query, and plan
// definitions from YAML files and serves them to the engine.
//
// # Description
//
// All *.yaml / *.yml files in the configured directory are parsed into
// one combined registry; each file may carry any mix of the three
// sections. Watch keeps the registry fresh via fsnotify with a short
// debounce, so operators can edit definitions without restarting the
// service.
//
// # Thread Safety
//
// Safe for concurrent use. Lookups take a read lock; reloads swap the
// maps wholesale under a write lock, so readers never observe a
// half-applied reload.
package configstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianData/services/dataquery/connector"
	"github.com/AleutianAI/AleutianData/services/dataquery/plan"
)

// StoredQuery is a persisted, parameterized query definition.
type StoredQuery struct {
	QueryID     string         `yaml:"query_id" json:"query_id"`
	SourceID    string         `yaml:"source_id" json:"source_id"`
	Name        string         `yaml:"name" json:"name,omitempty"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters,omitempty"`
	Format      string         `yaml:"format" json:"format,omitempty"`
	Tags        []string       `yaml:"tags" json:"tags,omitempty"`

	// Disabled queries are rejected at execution time.
	Disabled bool `yaml:"disabled" json:"disabled,omitempty"`
}

// document is the shape of a single YAML config file.
type document struct {
	Connectors []connector.Config `yaml:"connectors"`
	Queries    []StoredQuery      `yaml:"queries"`
	Plans      []plan.Document    `yaml:"plans"`
}

// Options configures a Store.
type Options struct {
	// Dir is the directory holding the YAML definition files.
	Dir string

	// Debounce is how long to wait for further file events before
	// reloading. Default: 250ms.
	Debounce time.Duration

	Logger *slog.Logger
}

// Store is the in-memory registry backed by the YAML directory.
type Store struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger

	mu         sync.RWMutex
	connectors map[string]connector.Config
	queries    map[string]StoredQuery
	plans      map[string]plan.Document
}

// Open loads the directory once and returns the registry. A directory
// with no definition files is valid; an unparseable file is not.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("configstore: directory is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		dir:      opts.Dir,
		debounce: opts.Debounce,
		logger:   opts.Logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-parses every definition file and swaps the registry in one
// step. On any parse error the previous registry stays in effect.
func (s *Store) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("configstore: read %s: %w", s.dir, err)
	}

	connectors := make(map[string]connector.Config)
	queries := make(map[string]StoredQuery)
	plans := make(map[string]plan.Document)

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("configstore: read %s: %w", path, err)
		}

		var doc document
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("configstore: parse %s: %w", path, err)
		}

		for _, c := range doc.Connectors {
			if c.SourceID == "" {
				return fmt.Errorf("configstore: %s: connector missing source_id", path)
			}
			connectors[c.SourceID] = c
		}
		for _, q := range doc.Queries {
			if q.QueryID == "" {
				return fmt.Errorf("configstore: %s: query missing query_id", path)
			}
			queries[q.QueryID] = q
		}
		for _, p := range doc.Plans {
			if err := plan.CheckShape(&p); err != nil {
				return fmt.Errorf("configstore: %s: %w", path, err)
			}
			plans[p.PlanID] = p
		}
	}

	s.mu.Lock()
	s.connectors = connectors
	s.queries = queries
	s.plans = plans
	s.mu.Unlock()

	s.logger.Debug("configstore reloaded",
		"dir", s.dir,
		"connectors", len(connectors),
		"queries", len(queries),
		"plans", len(plans))
	return nil
}

// Watch reloads the registry after file changes until ctx is done.
// Events within the debounce window collapse into one reload.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("configstore: watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("configstore: watch %s: %w", s.dir, err)
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isYAML(event.Name) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(s.debounce)
					fire = timer.C
				} else {
					timer.Reset(s.debounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("configstore watch error", "error", err)
			case <-fire:
				timer = nil
				fire = nil
				if err := s.Reload(); err != nil {
					s.logger.Error("configstore reload failed, keeping previous definitions", "error", err)
				}
			}
		}
	}()
	return nil
}

// Connector returns the connector definition for a source ID.
func (s *Store) Connector(sourceID string) (connector.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connectors[sourceID]
	return c, ok
}

// Query returns the stored query definition for a query ID.
func (s *Store) Query(queryID string) (StoredQuery, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queries[queryID]
	return q, ok
}

// Plan returns the plan document for a plan ID.
func (s *Store) Plan(planID string) (plan.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planID]
	return p, ok
}

// Connectors lists every connector definition.
func (s *Store) Connectors() []connector.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]connector.Config, 0, len(s.connectors))
	for _, c := range s.connectors {
		out = append(out, c)
	}
	return out
}

// Queries lists every stored query definition.
func (s *Store) Queries() []StoredQuery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredQuery, 0, len(s.queries))
	for _, q := range s.queries {
		out = append(out, q)
	}
	return out
}

// Plans lists every plan document.
func (s *Store) Plans() []plan.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]plan.Document, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	return out
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
