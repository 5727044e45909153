// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package onboard

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/onboard/services/onboard/events"
	"github.com/AleutianAI/onboard/services/onboard/memory"
	"github.com/AleutianAI/onboard/services/onboard/resolve"
	"github.com/AleutianAI/onboard/services/onboard/source"
)

// Handlers carries the HTTP-facing dependencies.
//
// # Thread Safety
//
// Safe for concurrent requests. The run mutex serializes demo-triggered
// onboarding runs so two button presses do not race one client's memory
// write-back.
type Handlers struct {
	pipeline *Pipeline
	memory   *memory.Store
	sessions *resolve.Manager
	broker   *events.Broker
	local    *source.LocalSource
	logger   *slog.Logger

	runMu sync.Mutex
}

// NewHandlers builds the handler set.
func NewHandlers(pipeline *Pipeline, mem *memory.Store, sessions *resolve.Manager, broker *events.Broker, local *source.LocalSource, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		pipeline: pipeline,
		memory:   mem,
		sessions: sessions,
		broker:   broker,
		local:    local,
		logger:   logger,
	}
}

// ===== Onboarding =====

// HandleRun starts an onboarding run for the client named in the path and
// blocks until it completes.
func (h *Handlers) HandleRun(c *gin.Context) {
	client := c.Param("client")
	if client == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client is required"})
		return
	}

	h.runMu.Lock()
	defer h.runMu.Unlock()

	summary, err := h.pipeline.Onboard(c.Request.Context(), client)
	if err != nil {
		h.logger.Error("handlers: onboarding run failed",
			slog.String("client", client),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ===== Demo control =====

// HandleDemoStart kicks off an onboarding run in the background. Progress
// arrives over the event stream; the response only acknowledges the start.
func (h *Handlers) HandleDemoStart(c *gin.Context) {
	client := c.Query("client")
	if client == "" {
		client = "acme"
	}
	go func() {
		h.runMu.Lock()
		defer h.runMu.Unlock()
		if _, err := h.pipeline.Onboard(context.Background(), client); err != nil {
			h.logger.Error("handlers: demo run failed",
				slog.String("client", client),
				slog.String("error", err.Error()),
			)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "client": client})
}

// HandleDemoReset wipes the mapping memory and the event history so a demo
// starts from a blank slate.
func (h *Handlers) HandleDemoReset(c *gin.Context) {
	if err := h.memory.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.broker != nil {
		h.broker.Reset()
	}
	c.JSON(http.StatusOK, gin.H{"status": "demo reset"})
}

// ===== Memory =====

// HandleMemoryList returns every learned mapping.
func (h *Handlers) HandleMemoryList(c *gin.Context) {
	records, err := h.memory.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	type entry struct {
		SourceColumn string `json:"source_column"`
		TargetField  string `json:"target_field"`
		OriginClient string `json:"origin_client"`
		UseCount     int    `json:"use_count"`
	}
	out := make([]entry, len(records))
	for i, r := range records {
		out[i] = entry{
			SourceColumn: r.SourceText,
			TargetField:  r.TargetField,
			OriginClient: r.OriginClient,
			UseCount:     r.UseCount,
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "mappings": out})
}

// HandleMemoryReset wipes the mapping memory. Demo tooling only; there is
// no undo.
func (h *Handlers) HandleMemoryReset(c *gin.Context) {
	if err := h.memory.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.broker != nil {
		h.broker.Reset()
	}
	c.JSON(http.StatusOK, gin.H{"status": "memory reset"})
}

// ===== Demo portal =====

// HandlePortalExport serves a bundled client export, standing in for a
// real client data portal during demos.
func (h *Handlers) HandlePortalExport(c *gin.Context) {
	client := c.Param("client")
	ds, err := h.local.Fetch(c.Request.Context(), client)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", client))
	writeCSV(c.Writer, ds)
}

// HandlePortalClients lists the clients with bundled exports.
func (h *Handlers) HandlePortalClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": h.local.Clients()})
}

func writeCSV(w io.Writer, ds *source.Dataset) {
	cw := csv.NewWriter(w)
	_ = cw.Write(ds.Columns)
	for _, record := range ds.Records {
		values := make([]string, len(ds.Columns))
		for i, col := range ds.Columns {
			values[i] = record[col]
		}
		_ = cw.Write(values)
	}
	cw.Flush()
}

// ===== Events =====

// HandleEvents streams pipeline progress as server-sent events.
func (h *Handlers) HandleEvents(c *gin.Context) {
	if h.broker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event streaming disabled"})
		return
	}

	ch, cancel := h.broker.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// Keepalives stop proxies from reaping an idle stream between runs.
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(e.Type, e)
			return true
		case <-keepalive.C:
			c.SSEvent("keepalive", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// ===== Health =====

// HandleHealth reports liveness plus memory size.
func (h *Handlers) HandleHealth(c *gin.Context) {
	count, err := h.memory.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "memory_count": count})
}
