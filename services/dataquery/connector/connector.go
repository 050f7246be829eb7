// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package connector implements the pluggable data-source connectors.
//
// Each variant knows its own authentication scheme and response shape
// but presents the same operations to the engine: Fetch resolved
// parameters into a raw decoded JSON payload, and Validate reachability
// with a cheap probe. Connector types form a closed set resolved
// through New; there is no reflection-based dispatch.
//
// Connectors perform network I/O only. They never mutate shared state,
// so a single instance is safe for concurrent use.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Connector variant names. The set is closed: adding a variant means
// adding a case to New.
const (
	TypeCensus = "census"
	TypeREST   = "rest"
)

// Auth styles supported across variants.
const (
	AuthNone     = ""          // anonymous access
	AuthBearer   = "bearer"    // Authorization: Bearer <key>
	AuthQueryKey = "query_key" // ?<key_param>=<key>
)

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config is the resolved configuration for one data source. It is read
// by the engine and never mutated after resolution; updates flow
// through the external config store.
type Config struct {
	SourceID string `yaml:"source_id" json:"source_id"`
	Type     string `yaml:"type" json:"type"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// APIKey and AuthStyle describe credential injection. KeyParam
	// names the query parameter for AuthQueryKey (default "api_key").
	APIKey    string `yaml:"api_key" json:"api_key,omitempty"`
	AuthStyle string `yaml:"auth_style" json:"auth_style,omitempty"`
	KeyParam  string `yaml:"key_param" json:"key_param,omitempty"`

	// Method is GET or POST for the REST variant. POST sends the
	// resolved parameters as a JSON body.
	Method string `yaml:"method" json:"method,omitempty"`

	Format string `yaml:"format" json:"format,omitempty"`

	// DataPath is a dotted path into the response locating the tabular
	// portion. Empty means the document root.
	DataPath string `yaml:"data_path" json:"data_path,omitempty"`

	MaxRetries    int     `yaml:"max_retries" json:"max_retries,omitempty"`
	RetryDelaySec float64 `yaml:"retry_delay_seconds" json:"retry_delay_seconds,omitempty"`
	TimeoutSec    float64 `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`

	// RatePerSec throttles outgoing requests client-side. Zero means
	// unlimited.
	RatePerSec float64 `yaml:"rate_per_sec" json:"rate_per_sec,omitempty"`

	// ProbeParams are the parameters Validate uses for its lightweight
	// reachability check.
	ProbeParams map[string]any `yaml:"probe_params" json:"probe_params,omitempty"`
}

// Timeout returns the per-attempt request timeout, defaulting to 30s.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSec * float64(time.Second))
}

// RetryDelay returns the base backoff delay, defaulting to 1s.
func (c Config) RetryDelay() time.Duration {
	if c.RetryDelaySec <= 0 {
		return time.Second
	}
	return time.Duration(c.RetryDelaySec * float64(time.Second))
}

// Retries returns the retry budget, defaulting to 3.
func (c Config) Retries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

// Connector is the uniform capability every variant presents.
type Connector interface {
	// SourceID identifies the configured data source.
	SourceID() string

	// Connect prepares the connector. REST-style sources hold no
	// persistent connection, so this is a probe at most.
	Connect(ctx context.Context) error

	// Fetch executes one upstream request with the resolved parameters
	// and returns the decoded JSON payload. Failures are reported as
	// *FetchFailure.
	Fetch(ctx context.Context, parameters map[string]any) (any, error)

	// Validate performs a cheap reachability/shape check without
	// consuming a full quota unit where the upstream allows it.
	Validate(ctx context.Context) bool

	// Disconnect releases any held resources.
	Disconnect() error
}

// FetchFailure is the typed error surfaced for transport and upstream
// failures. 4xx client errors are permanent; 5xx, timeouts and
// connection errors are transient and eligible for retry.
type FetchFailure struct {
	StatusCode int
	Message    string
	Transient  bool

	// RetryIn carries an upstream Retry-After hint, if any.
	RetryIn time.Duration
}

func (f *FetchFailure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("fetch failed (status %d): %s", f.StatusCode, f.Message)
	}
	return fmt.Sprintf("fetch failed: %s", f.Message)
}

// Retryable implements the retry package's classification interface.
func (f *FetchFailure) Retryable() bool { return f.Transient }

// RetryAfter exposes the upstream backoff hint to the retry policy.
func (f *FetchFailure) RetryAfter() (time.Duration, bool) {
	return f.RetryIn, f.RetryIn > 0
}

// New resolves a Config into a concrete connector variant.
//
// An unknown Type is a configuration error, reported immediately rather
// than at first fetch.
func New(cfg Config, client HTTPClient, logger *slog.Logger) (Connector, error) {
	if cfg.SourceID == "" {
		return nil, fmt.Errorf("connector config missing source_id")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("connector %q missing endpoint", cfg.SourceID)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout()}
	}
	if logger == nil {
		logger = slog.Default()
	}

	base := baseConnector{
		cfg:     cfg,
		client:  client,
		logger:  logger.With("source_id", cfg.SourceID, "connector_type", cfg.Type),
		limiter: newLimiter(cfg.RatePerSec),
	}

	switch cfg.Type {
	case TypeCensus:
		return &censusConnector{baseConnector: base}, nil
	case TypeREST:
		return &restConnector{baseConnector: base}, nil
	default:
		return nil, fmt.Errorf("unknown connector type %q for source %q", cfg.Type, cfg.SourceID)
	}
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// parseRetryAfter interprets a Retry-After header as delay seconds.
// HTTP-date forms are ignored; the backoff schedule covers those.
func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
