// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tabular defines the row/table model shared by connectors, the
// join engine and plan validation, plus extraction of tabular data from
// arbitrary nested JSON documents.
package tabular

import (
	"fmt"
	"sort"
	"strings"
)

// Row is a single record, column name to value.
type Row = map[string]any

// Table is an ordered sequence of rows plus the ordered column list.
// Tables are constructed per request and never persisted.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// RecordCount returns the number of rows.
func (t Table) RecordCount() int { return len(t.Rows) }

// Empty reports whether the table has no rows.
func (t Table) Empty() bool { return len(t.Rows) == 0 }

// Sample returns at most n leading rows. The backing rows are shared,
// not copied; callers must treat the sample as read-only.
func (t Table) Sample(n int) []Row {
	if n < 0 {
		n = 0
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return t.Rows[:n]
}

// FromRows builds a Table from a row list. Column order is the
// first-seen order across rows, with each row's unseen keys appended in
// sorted order so the result is deterministic regardless of map
// iteration.
func FromRows(rows []Row) Table {
	seen := make(map[string]bool)
	var columns []string
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			seen[k] = true
			columns = append(columns, k)
		}
	}
	if rows == nil {
		rows = []Row{}
	}
	if columns == nil {
		columns = []string{}
	}
	return Table{Columns: columns, Rows: rows}
}

// TraversePath walks a dotted path through nested maps.
// Returns the value at the path and whether every segment was present.
// An empty path returns the document itself.
func TraversePath(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	current := doc
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Extract locates the tabular portion of a raw document via dataPath
// and converts it to a Table.
//
// Absent path segments and non-list terminal values both yield an empty
// table, never an error: downstream consumers treat "field absent" and
// "field empty" uniformly.
func Extract(doc any, dataPath string) Table {
	value, ok := TraversePath(doc, dataPath)
	if !ok {
		return FromRows(nil)
	}
	list, ok := value.([]any)
	if !ok {
		return FromRows(nil)
	}
	return FromRows(RowsFromList(list))
}

// RowsFromList converts a decoded JSON array into rows.
//
// Two layouts are recognized:
//   - array of objects: each object becomes a row
//   - array of arrays (column matrix): the first inner array is the
//     header row, remaining arrays are value rows
//
// Elements of any other type are skipped.
func RowsFromList(list []any) []Row {
	if len(list) == 0 {
		return nil
	}
	if _, isMatrix := list[0].([]any); isMatrix {
		return matrixRows(list)
	}

	rows := make([]Row, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows
}

// matrixRows converts header-row matrix payloads (the census wire
// format) into row maps. Short value rows are padded with empty
// strings; surplus cells are dropped.
func matrixRows(list []any) []Row {
	header, ok := list[0].([]any)
	if !ok || len(list) < 2 {
		return nil
	}

	names := make([]string, len(header))
	for i, h := range header {
		if s, isStr := h.(string); isStr {
			names[i] = s
		} else {
			names[i] = fmt.Sprintf("col_%d", i)
		}
	}

	rows := make([]Row, 0, len(list)-1)
	for _, el := range list[1:] {
		cells, isRow := el.([]any)
		if !isRow {
			continue
		}
		row := make(Row, len(names))
		for i, name := range names {
			if i < len(cells) {
				row[name] = cells[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}
