// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the query engine over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianData/services/dataquery/cache"
	"github.com/AleutianAI/AleutianData/services/dataquery/engine"
	"github.com/AleutianAI/AleutianData/services/dataquery/plan"
)

// Server holds the handler dependencies.
type Server struct {
	Engine   *engine.Engine
	Cache    *cache.Store
	Logger   *slog.Logger
	Gatherer prometheus.Gatherer
}

// Router builds the gin router with every endpoint mounted.
func Router(s *Server) *gin.Engine {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "aleutian-data-query"})
	})
	if s.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	v1.POST("/query/execute", s.handleExecuteQuery)
	v1.POST("/query/columns", s.handleColumns)
	v1.POST("/plans/validate", s.handleValidatePlan)
	v1.POST("/plans/:id/validate", s.handleValidatePlanByID)
	v1.POST("/plans/:id/execute", s.handleExecutePlan)
	v1.GET("/cache/stats", s.handleCacheStats)
	v1.DELETE("/cache/source/:id", s.handleInvalidateSource)

	return router
}

// requestID tags every response with an X-Request-ID so client reports
// can be matched to server logs. Incoming IDs are preserved.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// ExecuteQueryRequest is the body for POST /v1/query/execute.
// UseCache defaults to true; set it to false to force a live fetch.
type ExecuteQueryRequest struct {
	QueryID    string         `json:"query_id" binding:"required"`
	Parameters map[string]any `json:"parameters"`
	UseCache   *bool          `json:"use_cache"`
}

func (s *Server) handleExecuteQuery(c *gin.Context) {
	var req ExecuteQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	useCache := req.UseCache == nil || *req.UseCache
	result, err := s.Engine.ExecuteQuery(c.Request.Context(), req.QueryID, req.Parameters, useCache)
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ColumnsRequest is the body for POST /v1/query/columns.
type ColumnsRequest struct {
	Queries []plan.QueryRef `json:"queries" binding:"required"`
}

func (s *Server) handleColumns(c *gin.Context) {
	var req ColumnsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := s.Engine.Columns(c.Request.Context(), req.Queries)
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleValidatePlan(c *gin.Context) {
	var doc plan.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan document", "details": err.Error()})
		return
	}

	result, err := s.Engine.ValidatePlan(c.Request.Context(), doc)
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleValidatePlanByID(c *gin.Context) {
	result, err := s.Engine.ValidatePlanByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleExecutePlan(c *gin.Context) {
	execution, err := s.Engine.ExecutePlanByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	stats, err := s.Cache.Stats(c.Request.Context())
	if err != nil {
		s.Logger.Error("cache stats failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cache stats failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleInvalidateSource(c *gin.Context) {
	sourceID := c.Param("id")
	removed, err := s.Cache.InvalidateSource(c.Request.Context(), sourceID)
	if err != nil {
		s.Logger.Error("cache invalidation failed", "source_id", sourceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalidation failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"source_id": sourceID, "removed": removed})
}

// renderEngineError maps engine errors onto HTTP statuses: lookup
// failures are 404, disabled definitions 409, caller mistakes 400.
// Error bodies carry success=false so every outcome shares the shape.
func (s *Server) renderEngineError(c *gin.Context, err error) {
	body := gin.H{"success": false, "error": err.Error()}
	var paramErr *engine.ParameterError
	switch {
	case errors.Is(err, engine.ErrQueryNotFound),
		errors.Is(err, engine.ErrSourceNotFound),
		errors.Is(err, engine.ErrPlanNotFound):
		c.JSON(http.StatusNotFound, body)
	case errors.Is(err, engine.ErrQueryDisabled),
		errors.Is(err, engine.ErrPlanDisabled):
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &paramErr):
		c.JSON(http.StatusBadRequest, body)
	default:
		s.Logger.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, body)
	}
}
