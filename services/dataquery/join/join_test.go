// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package join

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianData/services/dataquery/tabular"
)

func table(rows ...tabular.Row) tabular.Table {
	return tabular.FromRows(rows)
}

func TestEmptySourceList(t *testing.T) {
	got := Tables(nil)
	assert.Empty(t, got.Columns)
	assert.Empty(t, got.Rows)
}

func TestKeyedJoinMatchingRows(t *testing.T) {
	got := Tables([]Source{
		{Table: table(tabular.Row{"id": 1.0, "a": "x"}), Alias: "left", JoinColumn: "id"},
		{Table: table(tabular.Row{"id": 1.0, "b": "y"}), Alias: "right", JoinColumn: "id"},
	})

	require.Len(t, got.Rows, 1)
	assert.Equal(t, tabular.Row{"id": 1.0, "a": "x", "b": "y"}, got.Rows[0])
	assert.Equal(t, []string{"id", "a", "b"}, got.Columns)
}

func TestKeyedJoinNoMatchYieldsZeroRows(t *testing.T) {
	got := Tables([]Source{
		{Table: table(tabular.Row{"id": 1.0, "a": "x"}), Alias: "left", JoinColumn: "id"},
		{Table: table(tabular.Row{"id": 2.0, "b": "y"}), Alias: "right", JoinColumn: "id"},
	})
	assert.Empty(t, got.Rows)
}

func TestKeyedJoinEmptySourceYieldsZeroRows(t *testing.T) {
	got := Tables([]Source{
		{Table: table(tabular.Row{"id": 1.0, "a": "x"}), Alias: "left", JoinColumn: "id"},
		{Table: table(), Alias: "right", JoinColumn: "id"},
	})
	assert.Empty(t, got.Rows)
}

func TestPositionalTruncatesToShortest(t *testing.T) {
	got := Tables([]Source{
		{Table: table(tabular.Row{"a": 1.0}, tabular.Row{"a": 2.0}), Alias: "one"},
		{Table: table(tabular.Row{"b": 9.0}), Alias: "two"},
	})

	require.Len(t, got.Rows, 1)
	assert.Equal(t, tabular.Row{"a": 1.0, "b": 9.0}, got.Rows[0])
	assert.Equal(t, []string{"a", "b"}, got.Columns)
}

func TestPositionalCollisionPrefixing(t *testing.T) {
	got := Tables([]Source{
		{Table: table(tabular.Row{"pop": 100.0, "state": "CA"}), Alias: "census"},
		{Table: table(tabular.Row{"pop": 200.0}), Alias: "fbi"},
	})

	require.Len(t, got.Rows, 1)
	assert.Equal(t, tabular.Row{
		"census.pop": 100.0,
		"state":      "CA",
		"fbi.pop":    200.0,
	}, got.Rows[0])
	assert.ElementsMatch(t, []string{"census.pop", "state", "fbi.pop"}, got.Columns)
}

func TestKeyedJoinCollisionPrefixing(t *testing.T) {
	got := Tables([]Source{
		{Table: table(tabular.Row{"state": "06", "pop": 100.0}), Alias: "census", JoinColumn: "state"},
		{Table: table(tabular.Row{"state": "06", "pop": 5.0}), Alias: "fbi", JoinColumn: "state"},
	})

	require.Len(t, got.Rows, 1)
	assert.Equal(t, tabular.Row{
		"state":      "06",
		"census.pop": 100.0,
		"fbi.pop":    5.0,
	}, got.Rows[0])
	assert.Equal(t, []string{"state", "census.pop", "fbi.pop"}, got.Columns)
}

func TestKeyedJoinCartesianOnDuplicateKeys(t *testing.T) {
	got := Tables([]Source{
		{
			Table: table(
				tabular.Row{"id": "k", "a": "a1"},
				tabular.Row{"id": "k", "a": "a2"},
			),
			Alias:      "left",
			JoinColumn: "id",
		},
		{
			Table: table(
				tabular.Row{"id": "k", "b": "b1"},
				tabular.Row{"id": "k", "b": "b2"},
			),
			Alias:      "right",
			JoinColumn: "id",
		},
	})

	// 2 x 2 combinations within the shared key.
	require.Len(t, got.Rows, 4)
	seen := make(map[string]bool)
	for _, row := range got.Rows {
		seen[row["a"].(string)+"/"+row["b"].(string)] = true
	}
	assert.Len(t, seen, 4)
}

func TestKeyedJoinKeylessSourceRidesAlong(t *testing.T) {
	got := Tables([]Source{
		{
			Table: table(
				tabular.Row{"id": "1", "a": "x"},
				tabular.Row{"id": "2", "a": "y"},
			),
			Alias:      "left",
			JoinColumn: "id",
		},
		{
			Table: table(
				tabular.Row{"id": "2", "b": "m"},
				tabular.Row{"id": "1", "b": "n"},
			),
			Alias:      "right",
			JoinColumn: "id",
		},
		{
			Table: table(
				tabular.Row{"note": "first"},
				tabular.Row{"note": "second"},
			),
			Alias: "notes",
		},
	})

	require.Len(t, got.Rows, 2)
	for _, row := range got.Rows {
		switch row["id"] {
		case "1":
			assert.Equal(t, "n", row["b"])
			assert.Equal(t, "first", row["note"], "keyless source aligns to the driving row index")
		case "2":
			assert.Equal(t, "m", row["b"])
			assert.Equal(t, "second", row["note"])
		default:
			t.Errorf("unexpected id %v", row["id"])
		}
	}
}

func TestKeyedJoinNumericAndStringKeysDistinct(t *testing.T) {
	// "06" (string) and 6 (number) must not match each other.
	got := Tables([]Source{
		{Table: table(tabular.Row{"id": "06", "a": "x"}), Alias: "left", JoinColumn: "id"},
		{Table: table(tabular.Row{"id": 6.0, "b": "y"}), Alias: "right", JoinColumn: "id"},
	})
	assert.Empty(t, got.Rows)
}

func TestDefaultAliases(t *testing.T) {
	got := Tables([]Source{
		{Table: table(tabular.Row{"v": 1.0})},
		{Table: table(tabular.Row{"v": 2.0})},
	})

	require.Len(t, got.Rows, 1)
	assert.Equal(t, tabular.Row{"src1.v": 1.0, "src2.v": 2.0}, got.Rows[0])
}
