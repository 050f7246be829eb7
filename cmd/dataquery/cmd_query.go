// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianData/services/dataquery/plan"
)

var (
	queryParams  string
	queryRefresh bool
)

// queryCmd executes a single stored query.
//
// # Examples
//
//	dataquery query census_pop
//	dataquery query census_pop --params '{"state_code": "36"}'
//	dataquery query census_pop --refresh
var queryCmd = &cobra.Command{
	Use:   "query <query_id>",
	Short: "Execute a stored query and print the result table",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryCommand,
}

var columnsCmd = &cobra.Command{
	Use:   "columns <query_id>...",
	Short: "Show the joined column schema of one or more stored queries",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runColumnsCommand,
}

var columnsJoinOn string

func init() {
	queryCmd.Flags().StringVar(&queryParams, "params", "",
		"Parameter overrides as a JSON object")
	queryCmd.Flags().BoolVar(&queryRefresh, "refresh", false,
		"Bypass the cache and fetch live")

	columnsCmd.Flags().StringVar(&columnsJoinOn, "join-on", "",
		"Join column applied to every query (positional join when empty)")
}

func runQueryCommand(cmd *cobra.Command, args []string) error {
	var overrides map[string]any
	if queryParams != "" {
		if err := json.Unmarshal([]byte(queryParams), &overrides); err != nil {
			return fmt.Errorf("invalid --params: %w", err)
		}
	}

	eng, _, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := eng.ExecuteQuery(cmd.Context(), args[0], overrides, !queryRefresh)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runColumnsCommand(cmd *cobra.Command, args []string) error {
	refs := make([]plan.QueryRef, 0, len(args))
	for _, id := range args {
		refs = append(refs, plan.QueryRef{QueryID: id, JoinColumn: columnsJoinOn})
	}

	eng, _, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := eng.Columns(cmd.Context(), refs)
	if err != nil {
		return err
	}
	return printJSON(result)
}
