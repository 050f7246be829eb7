// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package join merges N query result tables into one wide table.
//
// Two modes exist, selected by whether any source names a join column:
//
//   - positional: rows align by index, truncated to the shortest source
//   - inner join: rows match on per-source join-column values; a key
//     must be present in every keyed source, and duplicate keys emit
//     the Cartesian product of their matches
//
// Joining is pure in-memory computation; it never blocks and never
// touches shared state.
package join

import (
	"fmt"
	"strconv"

	"github.com/AleutianAI/AleutianData/services/dataquery/tabular"
)

// Source is one input to a join.
type Source struct {
	Table tabular.Table

	// Alias qualifies column names on collision. Defaults to srcN.
	Alias string

	// JoinColumn, when set, switches the whole join into keyed mode
	// and names this source's key column.
	JoinColumn string
}

// Tables merges the sources per the mode rules above.
//
// An empty source list yields an empty table with no columns. Output
// column names are unique: a bare name used by more than one source is
// prefixed "{alias}." in every source that carries it, while the join
// column appears once, unprefixed.
func Tables(sources []Source) tabular.Table {
	if len(sources) == 0 {
		return tabular.Table{Columns: []string{}, Rows: []tabular.Row{}}
	}

	for i := range sources {
		if sources[i].Alias == "" {
			sources[i].Alias = fmt.Sprintf("src%d", i+1)
		}
	}

	keyed := false
	for _, s := range sources {
		if s.JoinColumn != "" {
			keyed = true
			break
		}
	}
	if keyed {
		return innerJoin(sources)
	}
	return positional(sources)
}

// outName resolves a source column to its output name, prefixing with
// the alias when the bare name is claimed by more than one source.
func outName(collisions map[string]int, alias, column string) string {
	if collisions[column] > 1 {
		return alias + "." + column
	}
	return column
}

// collisionCounts tallies how many sources carry each bare column name.
// Join columns are excluded: they collapse into a single output column.
func collisionCounts(sources []Source) map[string]int {
	counts := make(map[string]int)
	for _, s := range sources {
		for _, col := range s.Table.Columns {
			if col == s.JoinColumn {
				continue
			}
			counts[col]++
		}
	}
	return counts
}

// positional concatenates sources row-by-row up to the shortest
// source's row count. Truncation is deliberate: index alignment beyond
// the shortest source would fabricate rows from nothing.
func positional(sources []Source) tabular.Table {
	collisions := collisionCounts(sources)

	shortest := sources[0].Table.RecordCount()
	for _, s := range sources[1:] {
		if n := s.Table.RecordCount(); n < shortest {
			shortest = n
		}
	}

	var columns []string
	type mapping struct {
		source int
		column string
		out    string
	}
	var mappings []mapping
	for i, s := range sources {
		for _, col := range s.Table.Columns {
			out := outName(collisions, s.Alias, col)
			columns = append(columns, out)
			mappings = append(mappings, mapping{source: i, column: col, out: out})
		}
	}
	if columns == nil {
		columns = []string{}
	}

	rows := make([]tabular.Row, 0, shortest)
	for i := 0; i < shortest; i++ {
		row := make(tabular.Row, len(mappings))
		for _, m := range mappings {
			row[m.out] = sources[m.source].Table.Rows[i][m.column]
		}
		rows = append(rows, row)
	}

	return tabular.Table{Columns: columns, Rows: rows}
}

// innerJoin matches rows across keyed sources and attaches keyless
// sources positionally to the driving (first keyed) source.
func innerJoin(sources []Source) tabular.Table {
	collisions := collisionCounts(sources)

	driving := -1
	for i, s := range sources {
		if s.JoinColumn != "" {
			driving = i
			break
		}
	}

	// Lookup tables for every keyed source except the driving one.
	type lookup struct {
		source int
		byKey  map[string][]int
	}
	var lookups []lookup
	for i, s := range sources {
		if i == driving || s.JoinColumn == "" {
			continue
		}
		byKey := make(map[string][]int)
		for rowIdx, row := range s.Table.Rows {
			k := keyString(row[s.JoinColumn])
			byKey[k] = append(byKey[k], rowIdx)
		}
		lookups = append(lookups, lookup{source: i, byKey: byKey})
	}

	columns := joinColumns(sources, collisions, driving)

	drv := sources[driving]
	var rows []tabular.Row
	for drvIdx, drvRow := range drv.Table.Rows {
		key := keyString(drvRow[drv.JoinColumn])

		// Inner semantics: the key must match in every keyed source.
		matches := make([][]int, len(lookups))
		matched := true
		for li, l := range lookups {
			found := l.byKey[key]
			if len(found) == 0 {
				matched = false
				break
			}
			matches[li] = found
		}
		if !matched {
			continue
		}

		// Cartesian product across keyed sources within this key.
		combos := [][]int{{}}
		for _, found := range matches {
			var next [][]int
			for _, combo := range combos {
				for _, rowIdx := range found {
					extended := make([]int, len(combo), len(combo)+1)
					copy(extended, combo)
					next = append(next, append(extended, rowIdx))
				}
			}
			combos = next
		}

		for _, combo := range combos {
			row := make(tabular.Row)
			row[drv.JoinColumn] = drvRow[drv.JoinColumn]

			for _, col := range drv.Table.Columns {
				if col == drv.JoinColumn {
					continue
				}
				row[outName(collisions, drv.Alias, col)] = drvRow[col]
			}

			for li, l := range lookups {
				s := sources[l.source]
				srcRow := s.Table.Rows[combo[li]]
				for _, col := range s.Table.Columns {
					if col == s.JoinColumn {
						continue
					}
					row[outName(collisions, s.Alias, col)] = srcRow[col]
				}
			}

			// Keyless sources ride along positionally with the
			// driving source.
			for _, s := range sources {
				if s.JoinColumn != "" {
					continue
				}
				if drvIdx >= s.Table.RecordCount() {
					continue
				}
				srcRow := s.Table.Rows[drvIdx]
				for _, col := range s.Table.Columns {
					row[outName(collisions, s.Alias, col)] = srcRow[col]
				}
			}

			rows = append(rows, row)
		}
	}

	if rows == nil {
		rows = []tabular.Row{}
	}
	return tabular.Table{Columns: columns, Rows: rows}
}

// joinColumns assembles the output column order: the join column
// first, then each source's remaining columns in source order.
func joinColumns(sources []Source, collisions map[string]int, driving int) []string {
	columns := []string{sources[driving].JoinColumn}
	seen := map[string]bool{sources[driving].JoinColumn: true}

	for _, s := range sources {
		for _, col := range s.Table.Columns {
			if col == s.JoinColumn && s.JoinColumn != "" {
				continue
			}
			out := outName(collisions, s.Alias, col)
			if !seen[out] {
				seen[out] = true
				columns = append(columns, out)
			}
		}
	}
	return columns
}

// keyString normalizes join-key values so "06" and 6 from different
// upstreams still compare predictably within their own type family.
func keyString(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
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
