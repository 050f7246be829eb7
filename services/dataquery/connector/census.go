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

// censusConnector speaks the census.gov style of API: a dataset path
// segment appended to the base URL, remaining parameters as a query
// string, optional API key as a query parameter, and a column-matrix
// response (header row followed by value rows).
type censusConnector struct {
	baseConnector
}

// Fetch executes one GET against {endpoint}/{dataset}.
//
// The "dataset" parameter is required and consumed into the URL path;
// every other parameter becomes a query-string pair. A missing dataset
// is a permanent client error: retrying cannot fix it.
func (c *censusConnector) Fetch(ctx context.Context, parameters map[string]any) (any, error) {
	dataset, _ := parameters["dataset"].(string)
	if dataset == "" {
		return nil, &FetchFailure{
			StatusCode: http.StatusBadRequest,
			Message:    "dataset parameter is required",
		}
	}

	query := queryValues(parameters, "dataset")
	if c.cfg.APIKey != "" {
		query.Set(c.keyParam(), c.cfg.APIKey)
	}

	requestURL := strings.TrimSuffix(c.cfg.Endpoint, "/") + "/" + strings.Trim(dataset, "/")
	return c.doJSON(ctx, http.MethodGet, requestURL, query, nil)
}

// Connect probes the upstream; census APIs hold no persistent session.
func (c *censusConnector) Connect(ctx context.Context) error {
	if c.Validate(ctx) {
		return nil
	}
	return fmt.Errorf("census source %q validation failed", c.cfg.SourceID)
}

// Validate issues the configured probe request (a one-row lookup by
// default) and reports whether it parsed as JSON.
func (c *censusConnector) Validate(ctx context.Context) bool {
	probe := c.cfg.ProbeParams
	if probe == nil {
		probe = map[string]any{
			"dataset": "2020/acs/acs5",
			"get":     "NAME",
			"for":     "state:01",
		}
	}
	_, err := c.Fetch(ctx, probe)
	if err != nil {
		c.logger.Warn("census probe failed", "error", err)
		return false
	}
	return true
}

func (c *censusConnector) keyParam() string {
	if c.cfg.KeyParam != "" {
		return c.cfg.KeyParam
	}
	return "key"
}
