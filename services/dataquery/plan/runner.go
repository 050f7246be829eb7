// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"context"
	"strconv"

	"github.com/AleutianAI/AleutianData/services/dataquery/tabular"
)

// SummaryRunner is the built-in Runner: per analysis it reports row
// counts and basic numeric statistics for the named columns. Anything
// heavier plugs in behind the Runner interface.
type SummaryRunner struct{}

func (SummaryRunner) Run(_ context.Context, table tabular.Table, analyses []Analysis) (map[string]any, error) {
	results := make([]map[string]any, 0, len(analyses))
	for _, analysis := range analyses {
		entry := map[string]any{
			"type":      analysis.Type,
			"row_count": table.RecordCount(),
		}
		columns := make(map[string]any, len(analysis.Columns()))
		for _, col := range analysis.Columns() {
			columns[col] = summarizeColumn(table, col)
		}
		entry["columns"] = columns
		results = append(results, entry)
	}
	return map[string]any{"analyses": results}, nil
}

func summarizeColumn(table tabular.Table, col string) map[string]any {
	var (
		nonNull int
		numeric int
		sum     float64
		min     float64
		max     float64
	)
	for _, row := range table.Rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		nonNull++
		f, ok := asFloat(v)
		if !ok {
			continue
		}
		if numeric == 0 || f < min {
			min = f
		}
		if numeric == 0 || f > max {
			max = f
		}
		numeric++
		sum += f
	}

	summary := map[string]any{"non_null": nonNull}
	if numeric > 0 {
		summary["numeric"] = numeric
		summary["mean"] = sum / float64(numeric)
		summary["min"] = min
		summary["max"] = max
	}
	return summary
}

// asFloat coerces the value shapes upstream APIs actually produce:
// JSON numbers, YAML integers, and numeric strings such as census
// matrix cells.
func asFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case int:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case string:
		f, err := strconv.ParseFloat(tv, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
