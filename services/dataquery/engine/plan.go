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
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianData/services/dataquery/join"
	"github.com/AleutianAI/AleutianData/services/dataquery/plan"
	"github.com/AleutianAI/AleutianData/services/dataquery/tabular"
)

// planSampleRows caps how much joined data rides along in responses;
// the full table only feeds the analysis runner.
const planSampleRows = 10

// PlanExecution is the outcome of running a full analysis plan.
//
// Results always holds one entry per constituent query, in plan order,
// so callers can attribute failures to individual queries. DataSample
// and Analysis are present only when every constituent succeeded.
type PlanExecution struct {
	PlanID      string            `json:"plan_id"`
	ExecutionID string            `json:"execution_id"`
	Success     bool              `json:"success"`
	Results     []ExecutionResult `json:"results"`
	Columns     []string          `json:"columns,omitempty"`
	RecordCount int               `json:"record_count"`
	DataSample  []tabular.Row     `json:"data_sample,omitempty"`
	Analysis    map[string]any    `json:"analysis,omitempty"`
	Errors      []string          `json:"errors,omitempty"`
}

// executeRefs runs the constituent queries concurrently and pairs each
// successful result with its join source. Individual failures never
// abort the batch; they are reported per query.
func (e *Engine) executeRefs(ctx context.Context, refs []plan.QueryRef) ([]ExecutionResult, []join.Source, []string) {
	results := make([]ExecutionResult, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			result, err := e.ExecuteQuery(gctx, ref.QueryID, ref.ParameterOverrides, true)
			if err != nil {
				result = ExecutionResult{
					QueryID: ref.QueryID,
					Error:   err.Error(),
				}
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; failures live in results

	var sources []join.Source
	var failures []string
	for i, ref := range refs {
		if !results[i].Success {
			failures = append(failures, fmt.Sprintf("query %q: %s", ref.QueryID, results[i].Error))
			continue
		}
		sources = append(sources, join.Source{
			Table:      *results[i].Data,
			Alias:      e.aliasFor(ref),
			JoinColumn: ref.JoinColumn,
		})
	}
	return results, sources, failures
}

// aliasFor resolves a constituent's column alias: explicit alias, then
// the stored query's name, then the query ID.
func (e *Engine) aliasFor(ref plan.QueryRef) string {
	if ref.Alias != "" {
		return ref.Alias
	}
	if q, ok := e.configs.Query(ref.QueryID); ok && q.Name != "" {
		return q.Name
	}
	return ref.QueryID
}

// ColumnsResult is the joined schema of a query set plus a small row
// sample for eyeballing the data.
type ColumnsResult struct {
	Columns     []string      `json:"columns"`
	RecordCount int           `json:"record_count"`
	Sample      []tabular.Row `json:"sample"`
}

// Columns executes the given queries, joins them, and returns the
// joined schema. Any constituent failure fails the whole call: a
// partial schema would be misleading.
func (e *Engine) Columns(ctx context.Context, refs []plan.QueryRef) (ColumnsResult, error) {
	if len(refs) == 0 {
		return ColumnsResult{}, fmt.Errorf("at least one query is required")
	}

	_, sources, failures := e.executeRefs(ctx, refs)
	if len(failures) > 0 {
		return ColumnsResult{}, fmt.Errorf("column discovery failed: %v", failures)
	}

	joined := join.Tables(sources)
	return ColumnsResult{
		Columns:     joined.Columns,
		RecordCount: joined.RecordCount(),
		Sample:      joined.Sample(planSampleRows),
	}, nil
}

// ValidatePlan checks a plan's analysis columns against the joined
// schema of its constituent queries. Every missing column is reported
// in one pass.
func (e *Engine) ValidatePlan(ctx context.Context, doc plan.Document) (plan.Result, error) {
	if err := plan.CheckShape(&doc); err != nil {
		return plan.Result{}, err
	}
	// No queries means no joined schema to check against; such plans
	// are trivially valid (they only fail at execution time).
	if len(doc.Queries) == 0 {
		return plan.ValidateColumns(&doc, nil), nil
	}

	_, sources, failures := e.executeRefs(ctx, doc.Queries)
	if len(failures) > 0 {
		return plan.Result{}, fmt.Errorf("plan %q validation failed: %v", doc.PlanID, failures)
	}

	joined := join.Tables(sources)
	return plan.ValidateColumns(&doc, joined.Columns), nil
}

// ValidatePlanByID validates a stored plan.
func (e *Engine) ValidatePlanByID(ctx context.Context, planID string) (plan.Result, error) {
	doc, ok := e.configs.Plan(planID)
	if !ok {
		return plan.Result{}, fmt.Errorf("%w: %q", ErrPlanNotFound, planID)
	}
	return e.ValidatePlan(ctx, doc)
}

// ExecutePlan runs every constituent query, joins the results, checks
// the analysis columns, and runs the configured analyses.
//
// Constituent failures do not abort the rest of the batch; the
// execution comes back Success=false with per-query attribution.
func (e *Engine) ExecutePlan(ctx context.Context, doc plan.Document) (PlanExecution, error) {
	if err := plan.CheckShape(&doc); err != nil {
		return PlanExecution{}, err
	}
	if doc.Disabled {
		return PlanExecution{}, fmt.Errorf("%w: %q", ErrPlanDisabled, doc.PlanID)
	}
	if len(doc.Queries) == 0 {
		return PlanExecution{}, fmt.Errorf("plan %q has no queries", doc.PlanID)
	}

	execution := PlanExecution{PlanID: doc.PlanID, ExecutionID: uuid.NewString()}
	results, sources, failures := e.executeRefs(ctx, doc.Queries)
	execution.Results = results
	if len(failures) > 0 {
		execution.Errors = failures
		return execution, nil
	}

	joined := join.Tables(sources)
	execution.Columns = joined.Columns
	execution.RecordCount = joined.RecordCount()
	execution.DataSample = joined.Sample(planSampleRows)

	if validation := plan.ValidateColumns(&doc, joined.Columns); !validation.Valid {
		execution.Errors = validation.Errors
		return execution, nil
	}

	analysis, err := e.runner.Run(ctx, joined, doc.Analyses)
	if err != nil {
		execution.Errors = []string{fmt.Sprintf("analysis failed: %v", err)}
		return execution, nil
	}
	execution.Analysis = analysis
	execution.Success = true
	return execution, nil
}

// ExecutePlanByID executes a stored plan.
func (e *Engine) ExecutePlanByID(ctx context.Context, planID string) (PlanExecution, error) {
	doc, ok := e.configs.Plan(planID)
	if !ok {
		return PlanExecution{}, fmt.Errorf("%w: %q", ErrPlanNotFound, planID)
	}
	return e.ExecutePlan(ctx, doc)
}
