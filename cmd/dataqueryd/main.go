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
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianData/pkg/logging"
	"github.com/AleutianAI/AleutianData/services/dataquery/api"
	"github.com/AleutianAI/AleutianData/services/dataquery/cache"
	"github.com/AleutianAI/AleutianData/services/dataquery/configstore"
	"github.com/AleutianAI/AleutianData/services/dataquery/engine"
	"github.com/AleutianAI/AleutianData/services/dataquery/metrics"
)

// Configuration from environment
var (
	configDir = os.Getenv("DATAQUERY_CONFIG_DIR")
	cacheDir  = os.Getenv("DATAQUERY_CACHE_DIR")
	cacheTTL  = os.Getenv("DATAQUERY_CACHE_TTL")
)

func main() {
	logger, closeLogs, err := logging.New(logging.Config{
		Level:   os.Getenv("DATAQUERY_LOG_LEVEL"),
		JSON:    true,
		Service: "dataqueryd",
		Output:  os.Stdout,
		LogDir:  os.Getenv("DATAQUERY_LOG_DIR"),
	})
	if err != nil {
		slog.Error("Failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer closeLogs()
	slog.SetDefault(logger)

	if configDir == "" {
		configDir = "./config"
	}
	if cacheDir == "" {
		cacheDir = "./cache-data"
	}
	successTTL := time.Hour
	if cacheTTL != "" {
		parsed, err := time.ParseDuration(cacheTTL)
		if err != nil {
			slog.Error("Invalid DATAQUERY_CACHE_TTL", "value", cacheTTL, "error", err)
			os.Exit(1)
		}
		successTTL = parsed
	}

	slog.Info("Starting Aleutian Data Query",
		"config_dir", configDir,
		"cache_dir", cacheDir,
		"cache_ttl", successTTL)

	configs, err := configstore.Open(configstore.Options{Dir: configDir, Logger: logger})
	if err != nil {
		slog.Error("Failed to load definitions", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := configs.Watch(ctx); err != nil {
		slog.Error("Failed to watch config directory", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store, err := cache.Open(cache.Options{
		Dir:        cacheDir,
		SuccessTTL: successTTL,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		slog.Error("Failed to open cache store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	eng, err := engine.New(engine.Options{
		Configs: configs,
		Cache:   store,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("Failed to build engine", "error", err)
		os.Exit(1)
	}

	router := api.Router(&api.Server{
		Engine:   eng,
		Cache:    store,
		Logger:   logger,
		Gatherer: registry,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8002"
	}

	slog.Info("Starting data query API server", "port", port)
	if err := router.Run(":" + port); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
