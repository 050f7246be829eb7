// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan models analysis plans: which stored queries to join and
// which analyses to run over the joined table, plus validation of the
// requested columns against the joined schema.
package plan

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianData/services/dataquery/tabular"
)

// QueryRef names one constituent query of a plan.
type QueryRef struct {
	QueryID string `yaml:"query_id" json:"query_id" validate:"required"`

	// Alias qualifies this query's columns in the joined table.
	// Falls back to the stored query's name, then the query ID.
	Alias string `yaml:"alias" json:"alias,omitempty"`

	// JoinColumn switches the join into keyed mode for this source.
	JoinColumn string `yaml:"join_column" json:"join_column,omitempty"`

	// ParameterOverrides merge onto the stored query's parameters at
	// execution time.
	ParameterOverrides map[string]any `yaml:"parameter_overrides" json:"parameter_overrides,omitempty"`
}

// Analysis is one requested analysis over the joined table. The Type
// tag selects the algorithm; Target and Features name the columns it
// consumes.
type Analysis struct {
	Type     string   `yaml:"type" json:"type" validate:"required"`
	Target   string   `yaml:"target" json:"target,omitempty"`
	Features []string `yaml:"features" json:"features,omitempty"`
}

// Columns returns every column the analysis names, in declaration
// order.
func (a Analysis) Columns() []string {
	var cols []string
	if a.Target != "" {
		cols = append(cols, a.Target)
	}
	cols = append(cols, a.Features...)
	return cols
}

// Document is a persisted analysis plan. The engine only validates and
// executes documents; creation and status persistence belong to the
// external management collaborator.
type Document struct {
	PlanID      string     `yaml:"plan_id" json:"plan_id" validate:"required"`
	Name        string     `yaml:"name" json:"name,omitempty"`
	Description string     `yaml:"description" json:"description,omitempty"`
	Queries     []QueryRef `yaml:"queries" json:"queries" validate:"dive"`
	Analyses    []Analysis `yaml:"analyses" json:"analyses" validate:"dive"`
	Disabled    bool       `yaml:"disabled" json:"disabled,omitempty"`

	LastRunStatus string `yaml:"last_run_status" json:"last_run_status,omitempty"`
}

// Result is the outcome of validating a plan against a joined schema.
// Every violation is collected before returning so the caller can fix
// all of them in one pass.
type Result struct {
	Valid            bool     `json:"valid"`
	Errors           []string `json:"errors"`
	AvailableColumns []string `json:"available_columns"`
}

var documentValidator = validator.New(validator.WithRequiredStructEnabled())

// CheckShape validates the structural invariants of a plan document
// (required IDs, well-formed query and analysis entries) before any
// query executes.
func CheckShape(doc *Document) error {
	if err := documentValidator.Struct(doc); err != nil {
		return fmt.Errorf("plan %q is malformed: %w", doc.PlanID, err)
	}
	return nil
}

// ValidateColumns checks every analysis entry's named columns against
// the joined table's schema.
//
// All violations accumulate into Result.Errors; the check never fails
// fast. A plan with no analyses, or analyses naming no columns, is
// trivially valid.
func ValidateColumns(doc *Document, columns []string) Result {
	available := make(map[string]bool, len(columns))
	for _, c := range columns {
		available[c] = true
	}

	result := Result{Valid: true, Errors: []string{}, AvailableColumns: columns}
	for i, analysis := range doc.Analyses {
		for _, col := range analysis.Columns() {
			if !available[col] {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"analysis %d (%s): column %q not found in joined data",
					i+1, analysis.Type, col))
			}
		}
	}
	return result
}

// Runner consumes a joined table and the plan's analysis configuration
// and returns a results document. The statistical algorithms themselves
// live outside this module.
type Runner interface {
	Run(ctx context.Context, table tabular.Table, analyses []Analysis) (map[string]any, error)
}
