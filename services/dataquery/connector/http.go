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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// maxErrorBodyBytes bounds how much of an upstream error body is kept
// for the failure message.
const maxErrorBodyBytes = 512

// baseConnector carries the pieces every HTTP variant shares: the
// injected client, per-source rate limiting and structured logging.
type baseConnector struct {
	cfg     Config
	client  HTTPClient
	logger  *slog.Logger
	limiter *rate.Limiter
}

func (b *baseConnector) SourceID() string { return b.cfg.SourceID }

func (b *baseConnector) Disconnect() error { return nil }

// doJSON issues one HTTP request and decodes the JSON response.
// Each call is a single attempt; the retry policy lives above the
// connector, in the engine.
func (b *baseConnector) doJSON(ctx context.Context, method, rawURL string, query url.Values, body any) (any, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, &FetchFailure{Message: fmt.Sprintf("rate limiter: %v", err), Transient: false}
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout())
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &FetchFailure{Message: fmt.Sprintf("encode request body: %v", err)}
		}
		reader = bytes.NewReader(encoded)
	}

	fullURL := rawURL
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		fullURL = rawURL + sep + query.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, method, fullURL, reader)
	if err != nil {
		return nil, &FetchFailure{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.cfg.AuthStyle == AuthBearer && b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient.
		return nil, &FetchFailure{Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, b.failureFromResponse(resp)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchFailure{Message: fmt.Sprintf("read response: %v", err), Transient: true}
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, &FetchFailure{
			StatusCode: resp.StatusCode,
			Message:    "empty response body",
		}
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &FetchFailure{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("parse response as JSON: %v", err),
		}
	}
	return decoded, nil
}

// failureFromResponse classifies a non-2xx response.
// 429 and 5xx are transient; other 4xx are permanent client errors.
func (b *baseConnector) failureFromResponse(resp *http.Response) *FetchFailure {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	failure := &FetchFailure{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(snippet)),
	}
	if failure.Message == "" {
		failure.Message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		failure.Transient = true
		failure.RetryIn = parseRetryAfter(resp.Header.Get("Retry-After"))
		b.logger.Warn("upstream rate limited",
			slog.Int("status", resp.StatusCode),
			slog.Duration("retry_after", failure.RetryIn))
	case resp.StatusCode >= 500:
		failure.Transient = true
	}
	return failure
}

// queryValues flattens resolved parameters into a URL query string.
// Arrays join with commas (the census variable-list convention), nested
// maps encode as compact JSON, scalars use their canonical string form.
func queryValues(parameters map[string]any, skip ...string) url.Values {
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}

	values := url.Values{}
	for key, v := range parameters {
		if skipped[key] {
			continue
		}
		values.Set(key, queryString(v))
	}
	return values
}

func queryString(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case []any:
		parts := make([]string, len(tv))
		for i, el := range tv {
			parts[i] = queryString(el)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		encoded, err := json.Marshal(tv)
		if err != nil {
			return ""
		}
		return string(encoded)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(tv)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", tv)
	}
}
