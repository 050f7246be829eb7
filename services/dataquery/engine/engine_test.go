// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianData/services/dataquery/cache"
	"github.com/AleutianAI/AleutianData/services/dataquery/configstore"
	"github.com/AleutianAI/AleutianData/services/dataquery/connector"
	"github.com/AleutianAI/AleutianData/services/dataquery/plan"
)

// stubClient serves canned responses and counts upstream calls.
type stubClient struct {
	mu      sync.Mutex
	calls   int
	respond func(req *http.Request) (int, string)
}

func (c *stubClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	status, body := c.respond(req)
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeConfigs struct {
	connectors map[string]connector.Config
	queries    map[string]configstore.StoredQuery
	plans      map[string]plan.Document
}

func (f *fakeConfigs) Connector(id string) (connector.Config, bool) {
	c, ok := f.connectors[id]
	return c, ok
}

func (f *fakeConfigs) Query(id string) (configstore.StoredQuery, bool) {
	q, ok := f.queries[id]
	return q, ok
}

func (f *fakeConfigs) Plan(id string) (plan.Document, bool) {
	p, ok := f.plans[id]
	return p, ok
}

func testConfigs() *fakeConfigs {
	return &fakeConfigs{
		connectors: map[string]connector.Config{
			"api": {
				SourceID:   "api",
				Type:       connector.TypeREST,
				Endpoint:   "http://upstream.test/v1",
				MaxRetries: 1,
			},
		},
		queries: map[string]configstore.StoredQuery{
			"census_pop": {
				QueryID:    "census_pop",
				SourceID:   "api",
				Name:       "census",
				Parameters: map[string]any{"kind": "census", "for": "state:{state_code}", "state_code": "06"},
			},
			"fbi_crime": {
				QueryID:    "fbi_crime",
				SourceID:   "api",
				Name:       "fbi",
				Parameters: map[string]any{"kind": "fbi"},
			},
			"dead_query": {
				QueryID:  "dead_query",
				SourceID: "api",
				Disabled: true,
			},
			"orphan": {
				QueryID:  "orphan",
				SourceID: "no_such_source",
			},
		},
		plans: map[string]plan.Document{},
	}
}

func newTestEngine(t *testing.T, configs Configs, client connector.HTTPClient) *Engine {
	t.Helper()
	store, err := cache.Open(cache.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e, err := New(Options{Configs: configs, Cache: store, Client: client})
	require.NoError(t, err)
	return e
}

func respondByKind(req *http.Request) (int, string) {
	query := req.URL.RawQuery
	switch {
	case strings.Contains(query, "kind=census"):
		return 200, `{"results": [{"state": "06", "population": 100}]}`
	case strings.Contains(query, "kind=fbi"):
		return 200, `{"results": [{"state": "06", "crime_rate": 4.5}]}`
	default:
		return 404, `{"error": "unknown kind"}`
	}
}

func TestExecuteQueryLiveThenCached(t *testing.T) {
	client := &stubClient{respond: respondByKind}
	e := newTestEngine(t, testConfigs(), client)
	ctx := context.Background()

	first, err := e.ExecuteQuery(ctx, "census_pop", nil, true)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, SourceLive, first.Source)
	assert.Equal(t, 1, first.RecordCount)
	require.NotNil(t, first.Data)
	assert.Equal(t, "06", first.Data.Rows[0]["state"])
	assert.Equal(t, 1, client.callCount())

	// Second execution is served from cache with zero upstream calls.
	second, err := e.ExecuteQuery(ctx, "census_pop", nil, true)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 1, client.callCount(), "cache hit must not reach the upstream")
}

func TestExecuteQueryRefreshBypassesCache(t *testing.T) {
	client := &stubClient{respond: respondByKind}
	e := newTestEngine(t, testConfigs(), client)
	ctx := context.Background()

	_, err := e.ExecuteQuery(ctx, "census_pop", nil, true)
	require.NoError(t, err)

	refreshed, err := e.ExecuteQuery(ctx, "census_pop", nil, false)
	require.NoError(t, err)
	assert.Equal(t, SourceLive, refreshed.Source)
	assert.Equal(t, 2, client.callCount())
}

func TestExecuteQueryOverridesChangeFingerprint(t *testing.T) {
	client := &stubClient{respond: respondByKind}
	e := newTestEngine(t, testConfigs(), client)
	ctx := context.Background()

	base, err := e.ExecuteQuery(ctx, "census_pop", nil, true)
	require.NoError(t, err)

	overridden, err := e.ExecuteQuery(ctx, "census_pop", map[string]any{"state_code": "36"}, true)
	require.NoError(t, err)
	assert.NotEqual(t, base.Fingerprint, overridden.Fingerprint)
	assert.Equal(t, 2, client.callCount(), "different parameters must not share a cache entry")
}

func TestExecuteQueryLookupErrors(t *testing.T) {
	e := newTestEngine(t, testConfigs(), &stubClient{respond: respondByKind})
	ctx := context.Background()

	_, err := e.ExecuteQuery(ctx, "nope", nil, true)
	assert.ErrorIs(t, err, ErrQueryNotFound)

	_, err = e.ExecuteQuery(ctx, "dead_query", nil, true)
	assert.ErrorIs(t, err, ErrQueryDisabled)

	_, err = e.ExecuteQuery(ctx, "orphan", nil, true)
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestExecuteQueryUnresolvedPlaceholder(t *testing.T) {
	configs := testConfigs()
	configs.queries["needs_param"] = configstore.StoredQuery{
		QueryID:    "needs_param",
		SourceID:   "api",
		Parameters: map[string]any{"for": "state:{state_code}"},
	}
	client := &stubClient{respond: respondByKind}
	e := newTestEngine(t, configs, client)

	_, err := e.ExecuteQuery(context.Background(), "needs_param", nil, true)
	var paramErr *ParameterError
	require.ErrorAs(t, err, &paramErr)
	assert.Equal(t, "needs_param", paramErr.QueryID)
	assert.Zero(t, client.callCount(), "parameter errors must not reach the upstream")
}

func TestExecuteQueryFailureCachedAsError(t *testing.T) {
	configs := testConfigs()
	configs.queries["broken"] = configstore.StoredQuery{
		QueryID:    "broken",
		SourceID:   "api",
		Parameters: map[string]any{"kind": "bogus"},
	}
	client := &stubClient{respond: respondByKind}
	e := newTestEngine(t, configs, client)
	ctx := context.Background()

	first, err := e.ExecuteQuery(ctx, "broken", nil, true)
	require.NoError(t, err, "upstream failure is a result, not an error")
	assert.False(t, first.Success)
	assert.Equal(t, SourceLive, first.Source)
	assert.Contains(t, first.Error, "404")
	assert.Equal(t, 1, client.callCount(), "4xx is permanent, no retry")

	// The failure is served from cache until its short TTL lapses.
	second, err := e.ExecuteQuery(ctx, "broken", nil, true)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, 1, client.callCount())
}

func TestExecuteQueryEnvelopeDetection(t *testing.T) {
	// No data_path configured: the engine finds the row list under the
	// conventional "results"/"data" envelope fields.
	client := &stubClient{respond: func(*http.Request) (int, string) {
		return 200, `{"data": [{"a": 1}], "meta": {"page": 1}}`
	}}
	configs := testConfigs()
	configs.queries["enveloped"] = configstore.StoredQuery{QueryID: "enveloped", SourceID: "api"}
	e := newTestEngine(t, configs, client)

	result, err := e.ExecuteQuery(context.Background(), "enveloped", nil, true)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, []string{"a"}, result.Data.Columns)
}
