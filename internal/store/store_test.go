package store

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/aqiforecast/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, time.FixedZone("KGT", 6*3600))
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func nf(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != 3 {
		t.Errorf("version = %d, want 3", version)
	}
}

func TestUpsertAndGetObservations(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, store.Location())

	var obs []models.Observation
	for i := range 5 {
		obs = append(obs, models.Observation{
			ObservedAt: base.Add(time.Duration(i) * time.Hour),
			PM25:       nf(float64(10 + i)),
			PM10:       nf(float64(20 + i)),
			Source:     "open-meteo",
		})
	}
	obs[2].AQIExternal = nf(55)

	n, err := store.UpsertObservations(obs)
	if err != nil {
		t.Fatalf("UpsertObservations: %v", err)
	}
	if n != 5 {
		t.Errorf("stored = %d, want 5", n)
	}

	got, err := store.GetObservations(base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("GetObservations: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].ObservedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("first ObservedAt = %v, want %v", got[0].ObservedAt, base.Add(time.Hour))
	}
	if got[0].ObservedAt.Location() != store.Location() {
		t.Errorf("ObservedAt location = %v, want store location", got[0].ObservedAt.Location())
	}
	if got[0].ObservedAt.Hour() != 1 {
		t.Errorf("local hour = %d, want 1", got[0].ObservedAt.Hour())
	}
	if !got[1].AQIExternal.Valid || got[1].AQIExternal.Float64 != 55 {
		t.Errorf("AQIExternal = %+v, want 55", got[1].AQIExternal)
	}
	if got[1].Temperature.Valid {
		t.Error("Temperature should be NULL")
	}

	latest, err := store.GetLatestObservation()
	if err != nil {
		t.Fatalf("GetLatestObservation: %v", err)
	}
	if latest == nil || latest.PM25.Float64 != 14 {
		t.Errorf("latest = %+v, want PM25 14", latest)
	}

	count, err := store.CountObservations()
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}

func TestUpsertObservations_ReplacesSameHour(t *testing.T) {
	store := setupTestStore(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.UpsertObservations([]models.Observation{{ObservedAt: at, PM25: nf(10), Temperature: nf(4), Source: "csv"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertObservations([]models.Observation{{ObservedAt: at, PM25: nf(30), Source: "open-meteo"}}); err != nil {
		t.Fatal(err)
	}

	all, err := store.GetAllObservations()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1", len(all))
	}
	if all[0].PM25.Float64 != 30 {
		t.Errorf("PM25 = %v, want 30", all[0].PM25.Float64)
	}
	if !all[0].Temperature.Valid || all[0].Temperature.Float64 != 4 {
		t.Errorf("Temperature = %+v, want preserved 4", all[0].Temperature)
	}
	if all[0].Source != "open-meteo" {
		t.Errorf("Source = %q, want open-meteo", all[0].Source)
	}
}

func TestGetLatestObservation_Empty(t *testing.T) {
	store := setupTestStore(t)

	latest, err := store.GetLatestObservation()
	if err != nil {
		t.Fatalf("GetLatestObservation: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil, got %+v", latest)
	}
}

func TestIngestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartIngestRun("open-meteo", "v1/air-quality")
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	run.Success = false
	run.ErrorMessage = sql.NullString{String: "status 500", Valid: true}
	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}

	ok, err := store.StartIngestRun("open-meteo", "v1/air-quality")
	if err != nil {
		t.Fatal(err)
	}
	ok.Success = true
	ok.RecordsStored = sql.NullInt64{Int64: 24, Valid: true}
	if err := store.CompleteIngestRun(ok); err != nil {
		t.Fatal(err)
	}

	errs, err := store.GetRecentIngestErrors(10)
	if err != nil {
		t.Fatalf("GetRecentIngestErrors: %v", err)
	}
	if len(errs) != 1 || errs[0].ErrorMessage.String != "status 500" {
		t.Errorf("errors = %+v, want one with status 500", errs)
	}

	last, err := store.GetLastSuccessfulIngest()
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.ID != ok.ID || last.RecordsStored.Int64 != 24 {
		t.Errorf("last successful = %+v, want run %d", last, ok.ID)
	}
	if !last.FinishedAt.Valid {
		t.Error("FinishedAt should be set")
	}
}

func TestRawPayloadRoundTripAndDedup(t *testing.T) {
	store := setupTestStore(t)
	payload := []byte(`{"hourly":{"time":["2024-01-01T00:00"],"pm2_5":[12.5]}}`)

	id, err := store.StoreRawPayload(0, "open-meteo", "v1/air-quality", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	dup, err := store.StoreRawPayload(0, "open-meteo", "v1/air-quality", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload dup: %v", err)
	}
	if dup != 0 {
		t.Errorf("duplicate id = %d, want 0", dup)
	}

	got, err := store.GetRawPayload(id)
	if err != nil {
		t.Fatalf("GetRawPayload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %s, want %s", got, payload)
	}

	listed, err := store.ListRawPayloads("open-meteo", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListRawPayloads: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != id || listed[0].Endpoint != "v1/air-quality" {
		t.Errorf("listed = %+v", listed)
	}
	if listed, _ := store.ListRawPayloads("csv", time.Time{}); len(listed) != 0 {
		t.Errorf("csv payloads = %d, want 0", len(listed))
	}

	deleted, err := store.CleanupOldRawPayloads(30)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0 for fresh payload", deleted)
	}
}

func TestTrainingRuns_LatestPerHorizon(t *testing.T) {
	store := setupTestStore(t)
	now := time.Now().UTC()

	runs := []models.TrainingRun{
		{RunID: "a", Horizon: 1, StartedAt: now, FinishedAt: now, Success: true, MAE: nf(9), RMSE: nf(11), Features: []string{"pm25"}},
		{RunID: "a", Horizon: 2, StartedAt: now, FinishedAt: now, Success: false, ErrorMessage: sql.NullString{String: "insufficient data", Valid: true}},
		{RunID: "b", Horizon: 1, StartedAt: now, FinishedAt: now, Success: true, MAE: nf(4), RMSE: nf(6), Samples: 100, TrainSamples: 80, ValSamples: 20,
			Features: []string{"pm25", "hour"}, DroppedFeatures: []string{"wind_speed"}},
	}
	for _, r := range runs {
		if err := store.InsertTrainingRun(r); err != nil {
			t.Fatalf("InsertTrainingRun: %v", err)
		}
	}

	latest, err := store.GetLatestTrainingRuns()
	if err != nil {
		t.Fatalf("GetLatestTrainingRuns: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("len = %d, want 2", len(latest))
	}
	h1 := latest[0]
	if h1.Horizon != 1 || h1.RunID != "b" || h1.MAE.Float64 != 4 {
		t.Errorf("horizon 1 = %+v, want run b with MAE 4", h1)
	}
	if len(h1.Features) != 2 || h1.Features[1] != "hour" {
		t.Errorf("features = %v", h1.Features)
	}
	if len(h1.DroppedFeatures) != 1 || h1.DroppedFeatures[0] != "wind_speed" {
		t.Errorf("dropped = %v", h1.DroppedFeatures)
	}
	if latest[1].Success || latest[1].ErrorMessage.String != "insufficient data" {
		t.Errorf("horizon 2 = %+v, want failed run", latest[1])
	}
}
