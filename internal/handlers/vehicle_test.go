package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcastrodev/taxi-fleet/internal/ledger"
	"github.com/rcastrodev/taxi-fleet/internal/models"
	"github.com/rcastrodev/taxi-fleet/internal/session"
	"github.com/rcastrodev/taxi-fleet/internal/status"
	"github.com/rcastrodev/taxi-fleet/internal/store"
)

func newTestMux(t *testing.T) (*http.ServeMux, *store.Local) {
	t.Helper()
	l, err := store.NewLocal(filepath.Join(t.TempDir(), "fleet.json"))
	require.NoError(t, err)

	resolver := func(r *http.Request) session.Resolver {
		return session.ResolverFunc(func(ctx context.Context) (*models.User, error) {
			return &models.User{ID: LocalOwnerID}, nil
		})
	}
	h := NewVehicleHandler(l, l, ledger.NewRecorder(l, l), status.DefaultThresholds(), resolver)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vehicles", h.List)
	mux.HandleFunc("POST /api/vehicles", h.Create)
	mux.HandleFunc("DELETE /api/vehicles/{id}", h.Delete)
	mux.HandleFunc("POST /api/vehicles/{id}/maintenance", h.RecordMaintenance)
	mux.HandleFunc("GET /api/vehicles/{id}/history", h.History)
	mux.HandleFunc("GET /api/vehicles/{id}/status", h.Status)
	mux.HandleFunc("GET /api/vehicles/stream", h.Stream)
	return mux, l
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestVehicleHandler_CreateAndList(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/vehicles", CreateVehicleRequest{
		Plate:         "abc-123",
		Model:         "Toyota Yaris",
		CurrentKm:     10000,
		LastServiceKm: 10000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created VehicleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ABC-123", created.Plate)
	assert.Equal(t, status.SeverityOK, created.Status.Maintenance)
	assert.Equal(t, status.SeverityDanger, created.Status.Afocat.Severity, "missing certificate is danger")
	assert.Equal(t, -1, created.Status.Afocat.DaysRemaining)

	rec = doJSON(t, mux, http.MethodGet, "/api/vehicles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []VehicleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, created.ID, views[0].ID)
}

func TestVehicleHandler_CreateValidation(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/vehicles", CreateVehicleRequest{Model: "no plate"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/vehicles", strings.NewReader("{broken"))
	out := httptest.NewRecorder()
	mux.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestVehicleHandler_Delete(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/vehicles", CreateVehicleRequest{Plate: "DEL-123"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created VehicleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, mux, http.MethodDelete, "/api/vehicles/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/vehicles", nil)
	var views []VehicleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Empty(t, views)

	rec = doJSON(t, mux, http.MethodDelete, "/api/vehicles/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVehicleHandler_MaintenanceFlow(t *testing.T) {
	mux, l := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/vehicles", CreateVehicleRequest{
		Plate:         "SVC-123",
		CurrentKm:     19000,
		LastServiceKm: 15000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created VehicleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, mux, http.MethodPost, "/api/vehicles/"+created.ID+"/maintenance", ledger.MaintenanceInput{
		Km:             20000,
		OilUsed:        "10W-40",
		FiltersChanged: []models.FilterTag{models.FilterOil, models.FilterFuel},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var event models.HistoryEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, 20000, event.Km)

	vehicles, err := l.List(context.Background(), LocalOwnerID)
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, 20000, vehicles[0].CurrentKm)
	assert.Equal(t, 20000, vehicles[0].LastServiceKm)
	assert.Equal(t, 1, vehicles[0].ServiceCount)

	rec = doJSON(t, mux, http.MethodGet, "/api/vehicles/"+created.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.HistoryEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMaintenance, events[0].Type)
}

func TestVehicleHandler_MaintenanceRejectsUnknownFilter(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/vehicles", CreateVehicleRequest{Plate: "FLT-123"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created VehicleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, mux, http.MethodPost, "/api/vehicles/"+created.ID+"/maintenance", map[string]interface{}{
		"km":              20000,
		"filters_changed": []string{"cabin_filter"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVehicleHandler_Status(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/vehicles", CreateVehicleRequest{
		Plate:         "STA-123",
		CurrentKm:     15000,
		LastServiceKm: 10000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created VehicleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, mux, http.MethodGet, "/api/vehicles/"+created.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report status.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 5000, report.KmDiff)
	assert.Equal(t, status.SeverityDanger, report.Maintenance, "km diff at the interval is danger")

	rec = doJSON(t, mux, http.MethodGet, "/api/vehicles/missing/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVehicleHandler_StreamDeliversSnapshot(t *testing.T) {
	mux, l := newTestMux(t)

	_, err := l.Create(context.Background(), LocalOwnerID, models.Vehicle{Plate: "STR-001"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/vehicles/stream", nil).WithContext(ctx)

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		mux.ServeHTTP(rec, req)
		close(done)
	}()

	// wait for the handler to exit on context timeout, then inspect output
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream handler did not terminate")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	scanner := bufio.NewScanner(rec.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, data, "expected at least one snapshot event")
	var views []VehicleView
	require.NoError(t, json.Unmarshal([]byte(data), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "STR-001", views[0].Plate)
}
