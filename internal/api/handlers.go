package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/instrument-catalog/backend/internal/fileindex"
	"github.com/instrument-catalog/backend/internal/instruments"
	"github.com/instrument-catalog/backend/internal/session"
	"github.com/instrument-catalog/backend/internal/storage"
)

// Handler handles API requests.
type Handler struct {
	registry *instruments.Registry
	sessions *session.Manager
	store    storage.Store
	index    *fileindex.Index
}

// NewHandler creates a new API handler.
func NewHandler(registry *instruments.Registry, sessions *session.Manager, store storage.Store, index *fileindex.Index) *Handler {
	return &Handler{
		registry: registry,
		sessions: sessions,
		store:    store,
		index:    index,
	}
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	count, err := h.index.Count()
	if err != nil {
		return NewServiceUnavailableError("file index unavailable")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"indexedFiles": count,
	})
}

// HandleListInstruments returns the instrument registry.
func (h *Handler) HandleListInstruments(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.List())
}

// HandleStartBuild starts an asynchronous record build for an instrument
// session window. Accepts {"instrumentId": ..., "start": ..., "end": ...}
// with RFC 3339 timestamps.
func (h *Handler) HandleStartBuild(c echo.Context) error {
	var req struct {
		InstrumentID string `json:"instrumentId"`
		Start        string `json:"start"`
		End          string `json:"end"`
	}
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.InstrumentID == "" {
		return NewValidationError("instrumentId")
	}

	instr, ok := h.registry.Get(req.InstrumentID)
	if !ok {
		return NewNotFoundError("instrument", req.InstrumentID)
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return NewValidationError("start")
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		return NewValidationError("end")
	}
	if !end.After(start) {
		return NewBadRequestError("end must be after start", nil)
	}

	sess, err := h.sessions.StartBuild(instr, start, end)
	if err != nil {
		return NewConflictError(err.Error())
	}

	return c.JSON(http.StatusAccepted, sess)
}

// HandleGetSession returns the status of a build session.
func (h *Handler) HandleGetSession(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.sessions.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleListSessions returns all tracked build sessions.
func (h *Handler) HandleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessions.ListSessions())
}

// HandleListRecords returns stored record documents, newest first.
func (h *Handler) HandleListRecords(c echo.Context) error {
	records, err := h.store.List(100)
	if err != nil {
		return NewInternalError("failed to list records", err)
	}
	return c.JSON(http.StatusOK, records)
}

// HandleGetRecord serves a stored record document as XML.
func (h *Handler) HandleGetRecord(c echo.Context) error {
	id := c.Param("id")
	info, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("record", id)
	}
	path, err := h.store.GetFilePath(id)
	if err != nil {
		return NewInternalError("failed to resolve record path", err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("inline; filename=%q", info.Name))
	return c.File(path)
}

// HandleDeleteRecord removes a stored record document.
func (h *Handler) HandleDeleteRecord(c echo.Context) error {
	id := c.Param("id")
	if err := h.store.Delete(id); err != nil {
		return NewNotFoundError("record", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleScanIndex walks an instrument's data root and refreshes the file
// index. Scans run synchronously; roots are local directories.
func (h *Handler) HandleScanIndex(c echo.Context) error {
	var req struct {
		InstrumentID string `json:"instrumentId"`
	}
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.InstrumentID == "" {
		return NewValidationError("instrumentId")
	}

	instr, ok := h.registry.Get(req.InstrumentID)
	if !ok {
		return NewNotFoundError("instrument", req.InstrumentID)
	}

	added, err := h.index.ScanDir(instr.RootPath)
	if err != nil {
		return NewInternalError("index scan failed", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"instrumentId": instr.ID,
		"indexed":      added,
	})
}
