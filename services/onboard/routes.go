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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the onboarding routes with the router group.
//
// Description:
//
//	Registers all /v1/* endpoints with the given Gin router group. The
//	group should already carry any required middleware.
//
// Core Endpoints:
//
//	POST /v1/onboard/:client - Run the onboarding pipeline for a client
//	GET  /v1/memory - List learned mappings
//	DELETE /v1/memory - Reset the mapping memory
//
// Voice Webhooks:
//
//	POST /v1/voice/answer - Carrier answer callback
//	POST /v1/voice/input - Carrier speech/DTMF callback
//
// Demo Endpoints:
//
//	POST /v1/demo/start - Run onboarding in the background
//	POST /v1/demo/reset - Wipe memory and event history
//	GET /v1/portal/clients - List bundled client exports
//	GET /v1/portal/:client/export.csv - Serve a bundled export
//	GET /v1/events - Stream pipeline progress (SSE)
//
// Health Endpoints:
//
//	GET /v1/health - Liveness plus memory size
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.POST("/onboard/:client", handlers.HandleRun)

	rg.GET("/memory", handlers.HandleMemoryList)
	rg.DELETE("/memory", handlers.HandleMemoryReset)

	rg.POST("/voice/answer", handlers.HandleVoiceAnswer)
	rg.POST("/voice/input", handlers.HandleVoiceInput)

	rg.POST("/demo/start", handlers.HandleDemoStart)
	rg.POST("/demo/reset", handlers.HandleDemoReset)

	rg.GET("/portal/clients", handlers.HandlePortalClients)
	rg.GET("/portal/:client/export.csv", handlers.HandlePortalExport)
	rg.GET("/events", handlers.HandleEvents)

	rg.GET("/health", handlers.HandleHealth)
}
