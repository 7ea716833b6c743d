package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/infra/codefile"
	"github.com/Spok95/shipment-recon/internal/infra/memstore"
	"github.com/Spok95/shipment-recon/internal/recon"
)

type testAPI struct {
	t       *testing.T
	store   *memstore.Store
	router  http.Handler
	variant int64
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := memstore.New()
	v := st.AddVariant("LIP-01", "Помада")
	st.AddMaster("CASE-001", 24, v.ID)
	st.AddUnique("U-1", v.ID, "CASE-001")
	st.AddUnique("U-3", v.ID, "")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := recon.New(recon.Config{ReversalBackoff: time.Millisecond}, codes.Classifier{MasterPrefix: "CASE-"}, recon.Deps{
		UoW: st, Orders: st, Ledger: st, Catalog: st, Log: log,
	})
	return &testAPI{
		t:       t,
		store:   st,
		router:  NewRouter(Deps{Engine: eng, Stock: st, Log: log, ExposeMetrics: true}),
		variant: v.ID,
	}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (a *testAPI) openSession() int64 {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/v1/sessions", obj{"origin_id": 1, "destination_id": 2})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	return decode[sessionDTO](a.t, w).ID
}

type obj = map[string]any

func sessionPath(id int64, suffix string) string {
	return "/api/v1/sessions/" + itoa(id) + suffix
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = a.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpenSessionValidation(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/api/v1/sessions", obj{"origin_id": 1, "destination_id": 1})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[apiError](t, w)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.Equal(t, "nefield", body.Details["destination_id"])

	w = a.do(http.MethodPost, "/api/v1/sessions", obj{"origin_id": 1})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "required", decode[apiError](t, w).Details["destination_id"])
}

func TestScanAndConfirmFlow(t *testing.T) {
	a := newTestAPI(t)
	id := a.openSession()

	w := a.do(http.MethodPost, sessionPath(id, "/scan"), obj{"code": "CASE-001"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, recon.OutcomeShipped, decode[recon.ScanResult](t, w).Outcome)

	w = a.do(http.MethodPost, sessionPath(id, "/scan"), obj{"code": "CASE-001"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, recon.OutcomeDuplicate, decode[recon.ScanResult](t, w).Outcome)

	w = a.do(http.MethodGet, sessionPath(id, ""), nil)
	require.Equal(t, http.StatusOK, w.Code)
	s := decode[sessionDTO](t, w)
	assert.Equal(t, []string{"CASE-001"}, s.MasterCodes)
	assert.EqualValues(t, 24, s.Stats.FinalTotal)

	w = a.do(http.MethodPost, sessionPath(id, "/confirm"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[map[string]any](t, w)
	assert.EqualValues(t, 24, first["units_shipped"])

	w = a.do(http.MethodPost, sessionPath(id, "/confirm"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first["shipment_ref"], decode[map[string]any](t, w)["shipment_ref"])

	w = a.do(http.MethodPost, sessionPath(id, "/scan"), obj{"code": "U-3"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, recon.ErrSessionClosed.Code, decode[apiError](t, w).Code)
}

func TestConfirmErrors(t *testing.T) {
	a := newTestAPI(t)
	id := a.openSession()

	w := a.do(http.MethodPost, sessionPath(id, "/confirm"), obj{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, recon.ErrNothingToShip.Code, decode[apiError](t, w).Code)

	w = a.do(http.MethodPost, sessionPath(id, "/confirm"), obj{"manual_variant_id": a.variant, "manual_qty": 2})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, recon.ErrInsufficientManualBalance.Code, decode[apiError](t, w).Code)

	w = a.do(http.MethodPost, "/api/v1/sessions/abc/confirm", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodPost, "/api/v1/sessions/999/confirm", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfirmRollbackDetails(t *testing.T) {
	a := newTestAPI(t)
	id := a.openSession()

	w := a.do(http.MethodPost, "/api/v1/stock/receive", obj{"warehouse_id": 1, "variant_id": a.variant, "qty": 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	a.do(http.MethodPost, sessionPath(id, "/scan"), obj{"code": "U-3"})
	a.store.Fail("MarkShipped", errors.New("registry down"), 1)

	w = a.do(http.MethodPost, sessionPath(id, "/confirm"), obj{"manual_variant_id": a.variant, "manual_qty": 5})
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	body := decode[apiError](t, w)
	assert.Equal(t, recon.ErrPartialCommitRolledBack.Code, body.Code)
	assert.True(t, body.Retryable)
	assert.Equal(t, "true", body.Details["manual_stock_reversed"])
	assert.NotEmpty(t, body.Details["movement_id"])

	w = a.do(http.MethodGet, "/api/v1/stock/1/"+itoa(a.variant), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 10, decode[map[string]any](t, w)["balance"])
}

func TestUnlinkAndCancel(t *testing.T) {
	a := newTestAPI(t)
	id := a.openSession()
	a.do(http.MethodPost, sessionPath(id, "/scan"), obj{"code": "U-3"})

	w := a.do(http.MethodDelete, sessionPath(id, "/codes/U-1"), nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, recon.ErrCodeNotInSession.Code, decode[apiError](t, w).Code)

	w = a.do(http.MethodDelete, sessionPath(id, "/codes/U-3"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[sessionDTO](t, w).UniqueCodes)

	w = a.do(http.MethodPost, sessionPath(id, "/cancel"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, "cancelled", decode[sessionDTO](t, w).Status)
}

func readStream(t *testing.T, w *httptest.ResponseRecorder) []recon.BatchEvent {
	t.Helper()
	var evs []recon.BatchEvent
	require.NoError(t, recon.ReadNDJSON(w.Body, func(ev recon.BatchEvent) error {
		evs = append(evs, ev)
		return nil
	}))
	return evs
}

func TestBatchStream(t *testing.T) {
	a := newTestAPI(t)
	id := a.openSession()

	w := a.do(http.MethodPost, sessionPath(id, "/batch"), obj{"codes": []string{"CASE-001", "U-1", "U-1", "nope!"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, recon.NDJSONContentType, w.Header().Get("Content-Type"))

	evs := readStream(t, w)
	require.NotEmpty(t, evs)
	assert.Equal(t, recon.EventStatus, evs[0].Type)
	last := evs[len(evs)-1]
	require.Equal(t, recon.EventComplete, last.Type)
	assert.Equal(t, recon.BatchSummary{Total: 4, Success: 2, Duplicates: 1, Errors: 1}, *last.Summary)

	w = a.do(http.MethodPost, sessionPath(id, "/batch"), obj{"codes": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchXLSX(t *testing.T) {
	a := newTestAPI(t)
	id := a.openSession()

	var file bytes.Buffer
	require.NoError(t, codefile.WriteXLSX(&file, []string{"CASE-001", "U-3"}))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "codes.xlsx")
	require.NoError(t, err)
	_, err = fw.Write(file.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, sessionPath(id, "/batch/xlsx"), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	evs := readStream(t, w)
	last := evs[len(evs)-1]
	require.Equal(t, recon.EventComplete, last.Type)
	assert.Equal(t, 2, last.Summary.Success)
	assert.EqualValues(t, 25, last.Scanned.TotalUnits)
}
