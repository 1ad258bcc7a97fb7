package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/aqiforecast/internal/api"
	"github.com/lox/aqiforecast/internal/aqi"
	"github.com/lox/aqiforecast/internal/forecast"
	"github.com/lox/aqiforecast/internal/forest"
	"github.com/lox/aqiforecast/internal/models"
	"github.com/lox/aqiforecast/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db, time.UTC)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

func nf(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

// seedObservations stores n hourly observations ending at the current hour.
func seedObservations(t *testing.T, s *store.Store, n int) []models.Observation {
	t.Helper()
	end := time.Now().UTC().Truncate(time.Hour)
	obs := make([]models.Observation, n)
	for i := range obs {
		at := end.Add(-time.Duration(n-1-i) * time.Hour)
		obs[i] = models.Observation{
			ObservedAt: at,
			PM25:       nf(20 + 10*math.Sin(float64(at.Hour())/24*2*math.Pi)),
			PM10:       nf(40),
			Source:     "open-meteo",
		}
	}
	if _, err := s.UpsertObservations(obs); err != nil {
		t.Fatal(err)
	}
	return obs
}

func trainModels(t *testing.T, s *store.Store, obs []models.Observation, horizons ...int) *forecast.Registry {
	t.Helper()
	dir := t.TempDir()
	tr := forecast.NewTrainer(dir)
	tr.SetForestConfig(forest.Config{Estimators: 10, Seed: 42})
	tr.SetRunRecorder(s)
	if _, err := tr.TrainAll(context.Background(), obs, horizons); err != nil {
		t.Fatal(err)
	}
	return forecast.NewRegistry(dir)
}

func recordIngest(t *testing.T, s *store.Store, fetchErr error) {
	t.Helper()
	run, err := s.StartIngestRun("open-meteo", "v1/air-quality")
	if err != nil {
		t.Fatal(err)
	}
	run.Success = fetchErr == nil
	if fetchErr != nil {
		run.ErrorMessage = sql.NullString{String: fetchErr.Error(), Valid: true}
	}
	if err := s.CompleteIngestRun(run); err != nil {
		t.Fatal(err)
	}
}

func get(t *testing.T, srv *api.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint_NoData(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	recordIngest(t, s, errors.New("status 503"))
	srv := api.NewServer(s, forecast.NewRegistry(t.TempDir()), "8080")

	w := get(t, srv, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "degraded" || !health.Stale {
		t.Errorf("health = %+v, want degraded and stale", health)
	}
	if health.MissingModels != 24 {
		t.Errorf("MissingModels = %d, want 24", health.MissingModels)
	}
	if health.LastIngest != nil || len(health.IngestErrors) != 1 || !strings.Contains(health.IngestErrors[0], "status 503") {
		t.Errorf("ingest status = %v %v", health.LastIngest, health.IngestErrors)
	}
}

func TestHealthEndpoint_OK(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	obs := seedObservations(t, s, 48)
	recordIngest(t, s, nil)
	srv := api.NewServer(s, trainModels(t, s, obs, 1), "8080")

	w := get(t, srv, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.LastIngest == nil || len(health.IngestErrors) != 0 {
		t.Errorf("health = %+v", health)
	}
}

func TestAPICurrent_NoObservations(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, forecast.NewRegistry(t.TempDir()), "8080")

	w := get(t, srv, "/api/current")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAPICurrent(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	at := time.Now().UTC().Truncate(time.Hour)
	if _, err := s.UpsertObservations([]models.Observation{{ObservedAt: at, PM25: nf(35.5), NO2: nf(12), Source: "csv"}}); err != nil {
		t.Fatal(err)
	}
	srv := api.NewServer(s, forecast.NewRegistry(t.TempDir()), "8080")

	w := get(t, srv, "/api/current")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var data api.CurrentData
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	if data.AQI != 101 {
		t.Errorf("AQI = %v, want 101", data.AQI)
	}
	if data.Category != aqi.UnhealthyForSensitiveGroups {
		t.Errorf("Category = %q", data.Category)
	}
	if data.Color != "#FF9800" {
		t.Errorf("Color = %q", data.Color)
	}
	if data.PM10 != nil {
		t.Errorf("PM10 = %v, want null", *data.PM10)
	}
	if data.NO2 == nil || *data.NO2 != 12 {
		t.Errorf("NO2 = %v, want 12", data.NO2)
	}
	if data.Advice != aqi.UnhealthyForSensitiveGroups.Advice() || data.AdviceGenerated {
		t.Errorf("Advice = %q (generated %v), want static advice", data.Advice, data.AdviceGenerated)
	}
}

func TestAPIForecast(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	obs := seedObservations(t, s, 72)
	srv := api.NewServer(s, trainModels(t, s, obs, 1, 3), "8080")

	w := get(t, srv, "/api/forecast")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var data api.ForecastData
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Points) != 2 {
		t.Fatalf("points = %d, want 2", len(data.Points))
	}
	if data.Points[0].Horizon != 1 || data.Points[1].Horizon != 3 {
		t.Errorf("horizons = %d, %d", data.Points[0].Horizon, data.Points[1].Horizon)
	}
	latest := obs[len(obs)-1].ObservedAt
	if !data.Points[1].ValidAt.Equal(latest.Add(3 * time.Hour)) {
		t.Errorf("ValidAt = %v, want %v", data.Points[1].ValidAt, latest.Add(3*time.Hour))
	}
	if len(data.Missing) != 22 {
		t.Errorf("missing = %d, want 22", len(data.Missing))
	}
	if data.Peak == nil {
		t.Error("expected peak")
	}
	for _, p := range data.Points {
		if p.Category != aqi.CategoryForValue(p.AQI) || p.Color != p.Category.Color() {
			t.Errorf("point %+v has inconsistent category", p)
		}
	}
}

func TestAPIForecast_NoModels(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	seedObservations(t, s, 5)
	srv := api.NewServer(s, forecast.NewRegistry(t.TempDir()), "8080")

	w := get(t, srv, "/api/forecast")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var data api.ForecastData
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Points) != 0 || len(data.Missing) != 24 {
		t.Errorf("points=%d missing=%d, want 0 and 24", len(data.Points), len(data.Missing))
	}
}

func TestAPIHistory(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	seedObservations(t, s, 24*10)
	srv := api.NewServer(s, forecast.NewRegistry(t.TempDir()), "8080")

	w := get(t, srv, "/api/history")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var data api.HistoryData
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	if n := len(data.Daily); n < 10 || n > 11 {
		t.Errorf("daily = %d, want 10 or 11", n)
	}
	if n := len(data.Heatmap.Dates); n < 7 || n > 8 {
		t.Errorf("heatmap dates = %d, want 7 or 8", n)
	}
	if data.Best == nil || data.Worst == nil || data.Best.AQI > data.Worst.AQI {
		t.Errorf("best = %+v, worst = %+v", data.Best, data.Worst)
	}
}

func TestAPIAccuracy(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	obs := seedObservations(t, s, 48)
	srv := api.NewServer(s, trainModels(t, s, obs, 1, 2), "8080")

	w := get(t, srv, "/api/accuracy")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rows []api.AccuracyRow
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for _, r := range rows {
		if !r.Success || r.MAE == nil || r.RMSE == nil || *r.RMSE < *r.MAE {
			t.Errorf("row = %+v", r)
		}
	}
}

func TestIndexPage_NoData(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, forecast.NewRegistry(t.TempDir()), "8080")

	w := get(t, srv, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"No observations yet.", "No forecast available.", "No training runs recorded.", "Very-Unhealthy"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in page", want)
		}
	}
}

func TestIndexPage_WithData(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	obs := seedObservations(t, s, 72)
	srv := api.NewServer(s, trainModels(t, s, obs, 1), "8080")

	w := get(t, srv, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Current AQI", "Peak in the next 24 hours", "class=\"heatmap\"", "Average AQI", "1h"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in page", want)
		}
	}
	if strings.Contains(body, "ZgotmplZ") {
		t.Error("template escaped an unsafe value")
	}
}

func TestUnknownPath(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, forecast.NewRegistry(t.TempDir()), "8080")

	if w := get(t, srv, "/nope"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, forecast.NewRegistry(t.TempDir()), "8080")

	w := get(t, srv, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default Go collector metrics")
	}
}
