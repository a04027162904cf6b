package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instrument-catalog/backend/internal/detector"
	"github.com/instrument-catalog/backend/internal/fileindex"
	"github.com/instrument-catalog/backend/internal/instruments"
	"github.com/instrument-catalog/backend/internal/session"
	"github.com/instrument-catalog/backend/internal/storage"
)

var testWindow = time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)

type fixedExtractor struct{}

func (fixedExtractor) Extract(path string) (map[string]string, []string, error) {
	return map[string]string{
		"DatasetType": "Image",
		"Mode":        "TEM",
		"Exposure":    filepath.Base(path),
	}, nil, nil
}

func newTestHandler(t *testing.T) (*Handler, *instruments.Instrument, storage.Store) {
	t.Helper()

	root := t.TempDir()
	for i, name := range []string{"a.dm3", "b.dm3", "c.dm3"} {
		path := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(path, []byte("raw"), 0644))
		mtime := testWindow.Add(time.Duration(i) * time.Second)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	ix, err := fileindex.Open(filepath.Join(t.TempDir(), "index.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	_, err = ix.ScanDir(root)
	require.NoError(t, err)

	instr := &instruments.Instrument{
		ID:          "FEI-Titan-TEM",
		DisplayName: "FEI Titan TEM",
		RootPath:    root,
		DefaultMode: "IMAGING",
	}
	reg, err := instruments.LoadFromReader(strings.NewReader(
		"instruments:\n  - id: FEI-Titan-TEM\n    display_name: FEI Titan TEM\n    root_path: " + root + "\n    default_mode: IMAGING\n"))
	require.NoError(t, err)

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	builder := &session.Builder{
		Index:        ix,
		Extractor:    fixedExtractor{},
		Detector:     &detector.Detector{},
		Reservations: session.StaticReservations{SampleID: "sample-1"},
	}
	mgr := session.NewManager(builder, store)

	return NewHandler(reg, mgr, store, ix), instr, store
}

func waitComplete(t *testing.T, h *Handler, e *echo.Echo, id string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(id)
		require.NoError(t, h.HandleGetSession(c))

		body := rec.Body.String()
		if strings.Contains(body, `"status":"complete"`) {
			return
		}
		if strings.Contains(body, `"status":"error"`) {
			t.Fatalf("build failed: %s", body)
		}
		if time.Now().After(deadline) {
			t.Fatalf("build never completed: %s", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthAndInstruments(t *testing.T) {
	e := echo.New()
	h, instr, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if assert.NoError(t, h.HandleHealth(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
		assert.Contains(t, rec.Body.String(), `"indexedFiles":3`)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/instruments", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	if assert.NoError(t, h.HandleListInstruments(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), instr.ID)
	}
}

func TestBuildSessionLifecycle(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	body := bytes.NewBufferString(
		`{"instrumentId":"FEI-Titan-TEM","start":"2024-03-14T09:00:00Z","end":"2024-03-14T10:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, h.HandleStartBuild(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)

	waitComplete(t, h, e, resp.ID)

	// The finished session shows up in the listing.
	req = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	if assert.NoError(t, h.HandleListSessions(c)) {
		assert.Contains(t, rec.Body.String(), resp.ID)
	}

	// The stored record is listed and served as XML.
	req = httptest.NewRequest(http.MethodGet, "/api/records", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	require.NoError(t, h.HandleListRecords(c))
	assert.Contains(t, rec.Body.String(), ".xml")

	var records []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)

	req = httptest.NewRequest(http.MethodGet, "/api/records/"+records[0].ID, nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(records[0].ID)
	if assert.NoError(t, h.HandleGetRecord(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `seqno="0"`)
		assert.Contains(t, rec.Body.String(), "<sampleID>sample-1</sampleID>")
	}

	// Delete and confirm it is gone.
	req = httptest.NewRequest(http.MethodDelete, "/api/records/"+records[0].ID, nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(records[0].ID)
	require.NoError(t, h.HandleDeleteRecord(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/records/"+records[0].ID, nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(records[0].ID)
	err := h.HandleGetRecord(c)
	if assert.Error(t, err) {
		apiErr, ok := err.(*APIError)
		require.True(t, ok)
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
	}
}

func TestStartBuildValidation(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	cases := map[string]string{
		"missing instrument": `{"start":"2024-03-14T09:00:00Z","end":"2024-03-14T10:00:00Z"}`,
		"unknown instrument": `{"instrumentId":"nope","start":"2024-03-14T09:00:00Z","end":"2024-03-14T10:00:00Z"}`,
		"bad start":          `{"instrumentId":"FEI-Titan-TEM","start":"yesterday","end":"2024-03-14T10:00:00Z"}`,
		"inverted window":    `{"instrumentId":"FEI-Titan-TEM","start":"2024-03-14T10:00:00Z","end":"2024-03-14T09:00:00Z"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString(body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			assert.Error(t, h.HandleStartBuild(c))
		})
	}
}

func TestScanIndex(t *testing.T) {
	e := echo.New()
	h, instr, _ := newTestHandler(t)

	// Add one more file after the initial scan.
	path := filepath.Join(instr.RootPath, "d.dm3")
	require.NoError(t, os.WriteFile(path, []byte("raw"), 0644))

	body := bytes.NewBufferString(`{"instrumentId":"FEI-Titan-TEM"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/index/scan", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if assert.NoError(t, h.HandleScanIndex(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"indexed":4`)
	}
}

func TestErrorHandler(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	ErrorHandler(NewNotFoundError("record", "abc"), c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)
	assert.Contains(t, rec.Body.String(), "record not found: abc")
}
