// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/jitbench/services/harness/history"
	"github.com/AleutianAI/jitbench/services/harness/report"
	"github.com/AleutianAI/jitbench/services/harness/runner"
)

// DefaultListLimit caps /v1/runs when no limit is given.
const DefaultListLimit = 50

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// RunsResponse is returned by /v1/runs.
type RunsResponse struct {
	Runs  []history.Summary `json:"runs"`
	Count int               `json:"count"`
}

// Handlers holds the history endpoints.
type Handlers struct {
	store  *history.Store
	logger *slog.Logger
}

// NewHandlers creates handlers over store.
func NewHandlers(store *history.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: store, logger: logger}
}

// RegisterRoutes registers the /v1 history endpoints on rg.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	runs := rg.Group("/runs")
	{
		runs.GET("", h.HandleListRuns)
		runs.GET("/latest", h.HandleLatest)
		runs.GET("/:id", h.HandleGetRun)
		runs.GET("/:id/report", h.HandleReport)
	}
	rg.GET("/diff", h.HandleDiff)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

// HandleListRuns handles GET /v1/runs.
//
// Query Parameters:
//   - limit: Maximum number of runs (default DefaultListLimit, 0 for all).
func (h *Handlers) HandleListRuns(c *gin.Context) {
	limit := DefaultListLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a non-negative integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = n
	}

	runs, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if runs == nil {
		runs = []history.Summary{}
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// HandleLatest handles GET /v1/runs/latest.
func (h *Handlers) HandleLatest(c *gin.Context) {
	res, err := h.store.Latest(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleGetRun handles GET /v1/runs/:id.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	res, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleReport handles GET /v1/runs/:id/report.
//
// Query Parameters:
//   - format: markdown (default), json or console.
//   - verbose: "true" adds the verbose statistics columns.
func (h *Handlers) HandleReport(c *gin.Context) {
	format := report.Format(c.DefaultQuery("format", string(report.FormatMarkdown)))
	opts := report.Options{Verbose: c.Query("verbose") == "true"}

	var buf bytes.Buffer
	rep, err := report.New(format, &buf, opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_FORMAT"})
		return
	}
	res, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := rep.Report(res); err != nil {
		h.fail(c, err)
		return
	}

	contentType := "text/plain; charset=utf-8"
	switch format {
	case report.FormatMarkdown, "md":
		contentType = "text/markdown; charset=utf-8"
	case report.FormatJSON:
		contentType = "application/json"
	}
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// HandleDiff handles GET /v1/diff.
//
// Query Parameters:
//   - old, new: Run IDs or prefixes. Both omitted diffs the two latest runs.
//   - threshold: Percent change treated as noise (default 5).
func (h *Handlers) HandleDiff(c *gin.Context) {
	threshold := history.DefaultDiffThreshold
	if s := c.Query("threshold"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "threshold must be a non-negative number",
				Code:  "INVALID_THRESHOLD",
			})
			return
		}
		threshold = v
	}

	ctx := c.Request.Context()
	oldID, newID := c.Query("old"), c.Query("new")

	var older, newer *runner.Result
	var err error
	switch {
	case oldID == "" && newID == "":
		older, newer, err = h.store.LatestPair(ctx)
	case oldID == "" || newID == "":
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "old and new must be given together",
			Code:  "INVALID_DIFF",
		})
		return
	default:
		if older, err = h.store.Get(ctx, oldID); err == nil {
			newer, err = h.store.Get(ctx, newID)
		}
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, history.Diff(older, newer, threshold))
}

// fail maps history errors to status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, history.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case errors.Is(err, history.ErrAmbiguousID):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "AMBIGUOUS_ID"})
	default:
		h.logger.Error("history request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL"})
	}
}
