// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnector(t *testing.T, cfg Config, handler http.HandlerFunc) Connector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg.Endpoint = server.URL
	conn, err := New(cfg, server.Client(), nil)
	require.NoError(t, err)
	return conn
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(Config{SourceID: "x", Type: "graphql", Endpoint: "http://localhost"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown connector type")
}

func TestNewMissingFields(t *testing.T) {
	_, err := New(Config{Type: TypeREST, Endpoint: "http://localhost"}, nil, nil)
	assert.Error(t, err, "missing source_id")

	_, err = New(Config{SourceID: "x", Type: TypeREST}, nil, nil)
	assert.Error(t, err, "missing endpoint")
}

func TestCensusFetchBuildsRequest(t *testing.T) {
	var gotPath, gotQuery string
	conn := newTestConnector(t,
		Config{SourceID: "census_acs", Type: TypeCensus, APIKey: "sekrit"},
		func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			_ = json.NewEncoder(w).Encode([]any{
				[]any{"NAME", "state"},
				[]any{"Alabama", "01"},
			})
		})

	payload, err := conn.Fetch(context.Background(), map[string]any{
		"dataset": "2020/acs/acs5",
		"get":     "NAME",
		"for":     "state:*",
	})
	require.NoError(t, err)

	assert.Equal(t, "/2020/acs/acs5", gotPath)
	assert.Contains(t, gotQuery, "get=NAME")
	assert.Contains(t, gotQuery, "key=sekrit")
	assert.NotContains(t, gotQuery, "dataset=", "dataset belongs in the path")

	matrix, ok := payload.([]any)
	require.True(t, ok)
	assert.Len(t, matrix, 2)
}

func TestCensusFetchRequiresDataset(t *testing.T) {
	conn := newTestConnector(t,
		Config{SourceID: "census_acs", Type: TypeCensus},
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("request should not reach the server")
		})

	_, err := conn.Fetch(context.Background(), map[string]any{"get": "NAME"})
	var failure *FetchFailure
	require.ErrorAs(t, err, &failure)
	assert.False(t, failure.Transient)
}

func TestFetchClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		retryAfter    string
		wantTransient bool
		wantRetryIn   time.Duration
	}{
		{"client error is permanent", http.StatusNotFound, "", false, 0},
		{"server error is transient", http.StatusBadGateway, "", true, 0},
		{"rate limit honors retry-after", http.StatusTooManyRequests, "7", true, 7 * time.Second},
		{"rate limit without header", http.StatusTooManyRequests, "", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newTestConnector(t,
				Config{SourceID: "api", Type: TypeREST},
				func(w http.ResponseWriter, r *http.Request) {
					if tt.retryAfter != "" {
						w.Header().Set("Retry-After", tt.retryAfter)
					}
					http.Error(w, "upstream unhappy", tt.status)
				})

			_, err := conn.Fetch(context.Background(), map[string]any{})
			var failure *FetchFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.status, failure.StatusCode)
			assert.Equal(t, tt.wantTransient, failure.Transient)
			assert.Equal(t, tt.wantRetryIn, failure.RetryIn)
		})
	}
}

type failingClient struct{ err error }

func (f *failingClient) Do(*http.Request) (*http.Response, error) { return nil, f.err }

func TestFetchConnectionErrorIsTransient(t *testing.T) {
	conn, err := New(
		Config{SourceID: "api", Type: TypeREST, Endpoint: "http://unreachable.invalid"},
		&failingClient{err: errors.New("dial tcp: connection refused")},
		nil)
	require.NoError(t, err)

	_, err = conn.Fetch(context.Background(), map[string]any{})
	var failure *FetchFailure
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.Transient)
}

func TestFetchRejectsNonJSONBody(t *testing.T) {
	conn := newTestConnector(t,
		Config{SourceID: "api", Type: TypeREST},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>definitely not json</html>"))
		})

	_, err := conn.Fetch(context.Background(), map[string]any{})
	var failure *FetchFailure
	require.ErrorAs(t, err, &failure)
	assert.False(t, failure.Transient, "malformed body will not improve on retry")
}

func TestRESTFetchGetWithQueryKey(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	conn := newTestConnector(t,
		Config{
			SourceID:  "fbi_crime",
			Type:      TypeREST,
			AuthStyle: AuthQueryKey,
			APIKey:    "k123",
		},
		func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"results": []any{map[string]any{"year": 2020.0, "violent_crime": 1277696.0}},
			})
		})

	payload, err := conn.Fetch(context.Background(), map[string]any{
		"endpoint": "estimates/national",
		"from":     "2020",
		"to":       "2020",
	})
	require.NoError(t, err)

	assert.Equal(t, "/estimates/national", gotPath)
	assert.Contains(t, gotQuery, "api_key=k123")
	assert.Contains(t, gotQuery, "from=2020")
	assert.Empty(t, gotAuth)

	doc, ok := payload.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, doc, "results")
}

func TestRESTFetchPostWithBearer(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	conn := newTestConnector(t,
		Config{
			SourceID:  "internal_api",
			Type:      TypeREST,
			Method:    "POST",
			AuthStyle: AuthBearer,
			APIKey:    "tok",
		},
		func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			_ = json.NewEncoder(w).Encode([]any{map[string]any{"id": "1"}})
		})

	_, err := conn.Fetch(context.Background(), map[string]any{
		"endpoint": "search",
		"filters":  map[string]any{"state": "CA"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, map[string]any{"state": "CA"}, gotBody["filters"])
	assert.NotContains(t, gotBody, "endpoint")
}

func TestValidateProbe(t *testing.T) {
	calls := 0
	conn := newTestConnector(t,
		Config{
			SourceID:    "fbi_crime",
			Type:        TypeREST,
			ProbeParams: map[string]any{"endpoint": "agencies/count"},
		},
		func(w http.ResponseWriter, r *http.Request) {
			calls++
			assert.Equal(t, "/agencies/count", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]any{"count": 18000.0})
		})

	assert.True(t, conn.Validate(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestValidateFailsOnError(t *testing.T) {
	conn := newTestConnector(t,
		Config{SourceID: "api", Type: TypeREST},
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusForbidden)
		})

	assert.False(t, conn.Validate(context.Background()))
}

func TestQueryStringFlattening(t *testing.T) {
	values := queryValues(map[string]any{
		"vars":  []any{"NAME", "B01001_001E"},
		"year":  2020.0,
		"flag":  true,
		"skip":  "me",
		"empty": nil,
	}, "skip")

	assert.Equal(t, "NAME,B01001_001E", values.Get("vars"))
	assert.Equal(t, "2020", values.Get("year"))
	assert.Equal(t, "true", values.Get("flag"))
	assert.Equal(t, "", values.Get("empty"))
	assert.False(t, values.Has("skip"))
}
