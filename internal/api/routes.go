// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, h *Handler) {
	// Health check
	e.GET("/health", h.HandleHealth)

	// Instrument registry
	e.GET("/api/instruments", h.HandleListInstruments)

	// Record build sessions
	sessionGroup := e.Group("/api/sessions")
	sessionGroup.POST("", h.HandleStartBuild)
	sessionGroup.GET("", h.HandleListSessions)
	sessionGroup.GET("/:id", h.HandleGetSession)

	// Stored record documents
	recordGroup := e.Group("/api/records")
	recordGroup.GET("", h.HandleListRecords)
	recordGroup.GET("/:id", h.HandleGetRecord)
	recordGroup.DELETE("/:id", h.HandleDeleteRecord)

	// File index maintenance
	e.POST("/api/index/scan", h.HandleScanIndex)
}
