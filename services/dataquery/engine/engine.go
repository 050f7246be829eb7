// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine orchestrates query execution: parameter resolution,
// cache lookup, retried upstream fetches, tabular extraction, and
// multi-query joins for analysis plans.
//
// # Description
//
// The engine is the single entry point the API and CLI layers call.
// Every execution follows the same path: resolve the stored query and
// its connector, merge and substitute parameters, consult the cache by
// fingerprint, and only on a miss fetch live under the retry policy.
// Successful and failed fetches are both written back to the cache so
// repeated failures do not hammer a struggling upstream.
//
// # Thread Safety
//
// Safe for concurrent use. Connectors are built lazily and shared per
// source so client-side rate limits apply across requests.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianData/pkg/params"
	"github.com/AleutianAI/AleutianData/services/dataquery/cache"
	"github.com/AleutianAI/AleutianData/services/dataquery/configstore"
	"github.com/AleutianAI/AleutianData/services/dataquery/connector"
	"github.com/AleutianAI/AleutianData/services/dataquery/metrics"
	"github.com/AleutianAI/AleutianData/services/dataquery/plan"
	"github.com/AleutianAI/AleutianData/services/dataquery/retry"
	"github.com/AleutianAI/AleutianData/services/dataquery/tabular"
)

// Lookup failures and disabled definitions. The API layer maps these to
// client-error responses; they are never cached and never retried.
var (
	ErrQueryNotFound  = errors.New("stored query not found")
	ErrSourceNotFound = errors.New("data source not found")
	ErrPlanNotFound   = errors.New("analysis plan not found")
	ErrQueryDisabled  = errors.New("stored query is disabled")
	ErrPlanDisabled   = errors.New("analysis plan is disabled")
)

// ParameterError reports unresolved placeholders. It is a caller
// mistake: not retried, not cached.
type ParameterError struct {
	QueryID string
	Err     error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("query %q: %v", e.QueryID, e.Err)
}

func (e *ParameterError) Unwrap() error { return e.Err }

// Configs is the definition registry the engine reads from.
// *configstore.Store satisfies it.
type Configs interface {
	Connector(sourceID string) (connector.Config, bool)
	Query(queryID string) (configstore.StoredQuery, bool)
	Plan(planID string) (plan.Document, bool)
}

// Options configures an Engine.
type Options struct {
	Configs Configs
	Cache   *cache.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Client is injected into every connector. Nil uses a default
	// http.Client per connector.
	Client connector.HTTPClient

	// Runner executes plan analyses. Nil uses the built-in summarizer.
	Runner plan.Runner

	// Parallelism bounds concurrent constituent queries during plan
	// execution. Default: 4.
	Parallelism int
}

// Engine executes stored queries and analysis plans.
type Engine struct {
	configs     Configs
	cache       *cache.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger
	client      connector.HTTPClient
	runner      plan.Runner
	parallelism int

	mu         sync.Mutex
	connectors map[string]cachedConnector
}

// cachedConnector pins the serialized config it was built from so a
// hot-reloaded definition rebuilds the connector instead of silently
// using stale settings.
type cachedConnector struct {
	cfgKey string
	conn   connector.Connector
}

// New validates the wiring and returns a ready engine.
func New(opts Options) (*Engine, error) {
	if opts.Configs == nil {
		return nil, fmt.Errorf("engine: config registry is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("engine: cache store is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Runner == nil {
		opts.Runner = plan.SummaryRunner{}
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	return &Engine{
		configs:     opts.Configs,
		cache:       opts.Cache,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		client:      opts.Client,
		runner:      opts.Runner,
		parallelism: opts.Parallelism,
		connectors:  make(map[string]cachedConnector),
	}, nil
}

// Result sources.
const (
	SourceCache = "cache"
	SourceLive  = "live"
)

// ExecutionResult is the uniform outcome of one query execution,
// whether served from cache or fetched live, succeeded or failed.
type ExecutionResult struct {
	QueryID     string         `json:"query_id"`
	SourceID    string         `json:"source_id"`
	Success     bool           `json:"success"`
	Source      string         `json:"source"`
	RecordCount int            `json:"record_count"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Data        *tabular.Table `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// errorPayload is the cached shape of a failed fetch.
type errorPayload struct {
	Error string `json:"error"`
}

// ExecuteQuery runs one stored query with the given parameter
// overrides.
//
// A non-nil error means the request itself was bad (unknown query or
// source, disabled query, unresolved placeholders). Upstream fetch
// failures are not errors: they come back as a Success=false result,
// and are cached under a short TTL so repeated calls do not hammer a
// failing upstream. useCache=false skips the lookup and forces a live
// fetch; the result is still written back.
func (e *Engine) ExecuteQuery(ctx context.Context, queryID string, overrides map[string]any, useCache bool) (ExecutionResult, error) {
	q, ok := e.configs.Query(queryID)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("%w: %q", ErrQueryNotFound, queryID)
	}
	if q.Disabled {
		return ExecutionResult{}, fmt.Errorf("%w: %q", ErrQueryDisabled, queryID)
	}
	cfg, ok := e.configs.Connector(q.SourceID)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("%w: %q (query %q)", ErrSourceNotFound, q.SourceID, queryID)
	}

	resolved, err := params.Resolve(params.DeepMerge(q.Parameters, overrides))
	if err != nil {
		return ExecutionResult{}, &ParameterError{QueryID: queryID, Err: err}
	}

	format := q.Format
	if format == "" {
		format = cfg.Format
	}
	if format == "" {
		format = "json"
	}

	fingerprint, err := cache.Fingerprint(cfg.SourceID, resolved, format)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("fingerprint query %q: %w", queryID, err)
	}

	result := ExecutionResult{
		QueryID:     queryID,
		SourceID:    cfg.SourceID,
		Fingerprint: fingerprint,
	}

	if useCache {
		if cached, ok := e.fromCache(ctx, fingerprint); ok {
			cached.QueryID = queryID
			cached.SourceID = cfg.SourceID
			cached.Fingerprint = fingerprint
			return cached, nil
		}
	}

	payload, err := e.fetch(ctx, cfg, resolved)
	result.Source = SourceLive
	if err != nil {
		result.Error = err.Error()
		e.metrics.FetchFailures.WithLabelValues(cfg.SourceID).Inc()
		e.logger.Warn("upstream fetch failed",
			"query_id", queryID, "source_id", cfg.SourceID, "error", err)

		if putErr := e.cache.Put(ctx, fingerprint, cfg.SourceID, queryID,
			errorPayload{Error: result.Error}, cache.StatusError, 0); putErr != nil {
			e.logger.Warn("caching error entry failed", "fingerprint", fingerprint, "error", putErr)
		}
		return result, nil
	}

	table := tabular.Extract(payload, resolveDataPath(cfg.DataPath, payload))
	result.Success = true
	result.RecordCount = table.RecordCount()
	result.Data = &table

	if putErr := e.cache.Put(ctx, fingerprint, cfg.SourceID, queryID,
		table, cache.StatusSuccess, 0); putErr != nil {
		e.logger.Warn("caching result failed", "fingerprint", fingerprint, "error", putErr)
	}
	return result, nil
}

// fromCache translates a live cache entry into an execution result.
// Lookup errors degrade to a miss; the cache must never block a query.
func (e *Engine) fromCache(ctx context.Context, fingerprint string) (ExecutionResult, bool) {
	entry, ok, err := e.cache.Get(ctx, fingerprint)
	if err != nil {
		e.logger.Warn("cache lookup failed, fetching live", "fingerprint", fingerprint, "error", err)
		return ExecutionResult{}, false
	}
	if !ok {
		return ExecutionResult{}, false
	}

	result := ExecutionResult{Source: SourceCache}
	if !entry.Success() {
		var cached errorPayload
		if err := json.Unmarshal(entry.Payload, &cached); err != nil || cached.Error == "" {
			return ExecutionResult{}, false
		}
		result.Error = cached.Error
		return result, true
	}

	var table tabular.Table
	if err := json.Unmarshal(entry.Payload, &table); err != nil {
		e.logger.Warn("cached payload undecodable, fetching live", "fingerprint", fingerprint, "error", err)
		return ExecutionResult{}, false
	}
	result.Success = true
	result.RecordCount = table.RecordCount()
	result.Data = &table
	return result, true
}

// fetch runs the connector under the retry policy, counting attempts.
func (e *Engine) fetch(ctx context.Context, cfg connector.Config, parameters map[string]any) (any, error) {
	conn, err := e.connectorFor(cfg)
	if err != nil {
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Retries()
	retryCfg.BaseDelay = cfg.RetryDelay()

	return retry.Do(ctx, retryCfg, func(ctx context.Context) (any, error) {
		e.metrics.FetchAttempts.WithLabelValues(cfg.SourceID).Inc()
		return conn.Fetch(ctx, parameters)
	})
}

// connectorFor returns the shared connector for a source, rebuilding it
// when the definition changed under hot reload.
func (e *Engine) connectorFor(cfg connector.Config) (connector.Connector, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("serialize connector config %q: %w", cfg.SourceID, err)
	}
	cfgKey := string(raw)

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.connectors[cfg.SourceID]; ok && cached.cfgKey == cfgKey {
		return cached.conn, nil
	}

	conn, err := connector.New(cfg, e.client, e.logger)
	if err != nil {
		return nil, err
	}
	e.connectors[cfg.SourceID] = cachedConnector{cfgKey: cfgKey, conn: conn}
	return conn, nil
}

// resolveDataPath falls back to envelope detection when no explicit
// path is configured: object payloads commonly wrap the row list in a
// "results" or "data" field.
func resolveDataPath(configured string, payload any) string {
	if configured != "" {
		return configured
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	for _, field := range []string{"results", "data"} {
		if _, isList := m[field].([]any); isList {
			return field
		}
	}
	return ""
}
