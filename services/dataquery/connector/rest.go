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
	"fmt"
	"net/http"
	"strings"
)

// restConnector covers generic JSON APIs (the FBI crime-data style):
// an optional "endpoint" parameter extends the base URL path, auth is
// either a bearer header or a query-string key, and parameters travel
// as a query string on GET or a JSON body on POST.
type restConnector struct {
	baseConnector
}

// Fetch executes one request against the configured endpoint.
//
// The "endpoint" parameter, when present, is consumed into the URL
// path. For GET, remaining parameters flatten into the query string.
// For POST they are sent as the JSON body, with the API key still in
// the query string when AuthStyle is query_key.
func (c *restConnector) Fetch(ctx context.Context, parameters map[string]any) (any, error) {
	requestURL := strings.TrimSuffix(c.cfg.Endpoint, "/")
	if ep, _ := parameters["endpoint"].(string); ep != "" {
		requestURL += "/" + strings.Trim(ep, "/")
	}

	method := strings.ToUpper(c.cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	switch method {
	case http.MethodGet:
		query := queryValues(parameters, "endpoint")
		c.applyQueryKey(query)
		return c.doJSON(ctx, http.MethodGet, requestURL, query, nil)
	case http.MethodPost:
		body := make(map[string]any, len(parameters))
		for k, v := range parameters {
			if k == "endpoint" {
				continue
			}
			body[k] = v
		}
		query := queryValues(nil)
		c.applyQueryKey(query)
		return c.doJSON(ctx, http.MethodPost, requestURL, query, body)
	default:
		return nil, &FetchFailure{
			Message: fmt.Sprintf("unsupported method %q for source %q", method, c.cfg.SourceID),
		}
	}
}

func (c *restConnector) applyQueryKey(query map[string][]string) {
	if c.cfg.AuthStyle == AuthQueryKey && c.cfg.APIKey != "" {
		param := c.cfg.KeyParam
		if param == "" {
			param = "api_key"
		}
		query[param] = []string{c.cfg.APIKey}
	}
}

// Connect probes the upstream; REST sources hold no persistent session.
func (c *restConnector) Connect(ctx context.Context) error {
	if c.Validate(ctx) {
		return nil
	}
	return fmt.Errorf("rest source %q validation failed", c.cfg.SourceID)
}

// Validate issues the configured probe request. Without probe
// parameters it falls back to a bare GET of the endpoint, which many
// APIs answer cheaply.
func (c *restConnector) Validate(ctx context.Context) bool {
	probe := c.cfg.ProbeParams
	if probe == nil {
		probe = map[string]any{}
	}
	_, err := c.Fetch(ctx, probe)
	if err != nil {
		c.logger.Warn("rest probe failed", "error", err)
		return false
	}
	return true
}
