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
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianData/pkg/logging"
	"github.com/AleutianAI/AleutianData/services/dataquery/cache"
	"github.com/AleutianAI/AleutianData/services/dataquery/configstore"
	"github.com/AleutianAI/AleutianData/services/dataquery/engine"
)

var (
	flagConfigDir string
	flagCacheDir  string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "dataquery",
	Short: "Execute stored queries and analysis plans against external data sources",
	Long: `dataquery runs the Aleutian data query engine in-process.

Definitions (connectors, stored queries, plans) are loaded from the
config directory; results are cached in a local BadgerDB store so
repeated invocations do not re-fetch from the upstream APIs.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "./config",
		"Directory holding connector, query and plan YAML definitions")
	rootCmd.PersistentFlags().StringVar(&flagCacheDir, "cache-dir", "",
		"BadgerDB cache directory (empty uses an in-memory cache)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(columnsCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(cacheCmd)
}

// buildEngine wires the in-process engine from the CLI flags. The
// returned cleanup closes the cache store.
func buildEngine() (*engine.Engine, *cache.Store, func(), error) {
	level := "info"
	if flagVerbose {
		level = "debug"
	}
	logger, _, err := logging.New(logging.Config{Level: level, Service: "dataquery"})
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)

	configs, err := configstore.Open(configstore.Options{Dir: flagConfigDir, Logger: logger})
	if err != nil {
		return nil, nil, nil, err
	}

	opts := cache.Options{Logger: logger}
	if flagCacheDir == "" {
		opts.InMemory = true
	} else {
		opts.Dir = flagCacheDir
	}
	store, err := cache.Open(opts)
	if err != nil {
		return nil, nil, nil, err
	}

	eng, err := engine.New(engine.Options{Configs: configs, Cache: store, Logger: logger})
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return eng, store, func() { store.Close() }, nil
}

// printJSON renders a result document to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
