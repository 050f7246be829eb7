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
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and invalidate the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print hit/miss counters and the persisted entry count",
	Args:  cobra.NoArgs,
	RunE:  runCacheStatsCommand,
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <source_id>",
	Short: "Drop every cached result for a data source",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheInvalidateCommand,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}

func runCacheStatsCommand(cmd *cobra.Command, _ []string) error {
	_, store, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runCacheInvalidateCommand(cmd *cobra.Command, args []string) error {
	_, store, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	removed, err := store.InvalidateSource(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"source_id": args[0], "removed": removed})
}
