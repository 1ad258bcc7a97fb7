package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lox/aqiforecast/internal/forecast"
	"github.com/lox/aqiforecast/internal/metrics"
	"github.com/lox/aqiforecast/internal/models"
	"github.com/lox/aqiforecast/internal/store"
)

const DefaultRetrainSchedule = "15 3 * * *"

type Scheduler struct {
	store         *store.Store
	client        *OpenMeteo
	trainer       *forecast.Trainer
	loc           *time.Location
	interval      time.Duration
	pastDays      int
	forecastDays  int
	retrainSched  string
	retentionDays int
}

func NewScheduler(store *store.Store, client *OpenMeteo, trainer *forecast.Trainer) *Scheduler {
	return &Scheduler{
		store:         store,
		client:        client,
		trainer:       trainer,
		loc:           store.Location(),
		interval:      time.Hour,
		pastDays:      2,
		forecastDays:  1,
		retrainSched:  DefaultRetrainSchedule,
		retentionDays: 30,
	}
}

// SetInterval sets how often observations are fetched.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.interval = d
}

// SetWindow sets the past/forecast day window requested from the API.
func (s *Scheduler) SetWindow(pastDays, forecastDays int) {
	s.pastDays = pastDays
	s.forecastDays = forecastDays
}

// SetRetrainSchedule sets the cron expression for full retrains. An empty
// schedule disables retraining.
func (s *Scheduler) SetRetrainSchedule(schedule string) {
	s.retrainSched = schedule
}

func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if s.retrainSched != "" {
		if _, err := c.AddFunc(s.retrainSched, func() {
			if _, err := s.Retrain(ctx); err != nil {
				log.Printf("scheduler: retrain: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule retrain %q: %w", s.retrainSched, err)
		}
	}
	if _, err := c.AddFunc("0 4 * * *", s.cleanupPayloads); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	if _, err := s.IngestOnce(ctx); err != nil {
		log.Printf("scheduler: ingest: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return nil
		case <-ticker.C:
			if _, err := s.IngestOnce(ctx); err != nil {
				log.Printf("scheduler: ingest: %v", err)
			}
		}
	}
}

// IngestOnce fetches the recent hourly series and stores the valid rows.
func (s *Scheduler) IngestOnce(ctx context.Context) (int, error) {
	log.Println("scheduler: ingesting air quality")
	run, err := s.store.StartIngestRun(SourceOpenMeteo, EndpointAirQuality)
	if err != nil {
		log.Printf("scheduler: start ingest run: %v", err)
	}

	obs, result, fetchErr := s.client.FetchHourly(ctx, s.pastDays, s.forecastDays)

	if run != nil && result != nil {
		run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: result.HTTPStatus > 0}
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(result.ResponseSize), Valid: result.ResponseSize > 0}
		run.RecordsParsed = sql.NullInt64{Int64: int64(result.RecordCount), Valid: fetchErr == nil}
		if len(result.Body) > 0 {
			if _, err := s.store.StoreRawPayload(run.ID, SourceOpenMeteo, EndpointAirQuality, result.Body); err != nil {
				log.Printf("scheduler: store raw payload: %v", err)
			}
		}
	}

	if fetchErr != nil {
		s.failRun(run, fetchErr)
		return 0, fmt.Errorf("fetch: %w", fetchErr)
	}

	stored, rejected, err := storeObservations(s.store, obs, SourceOpenMeteo)
	if run != nil {
		run.RecordsRejected = sql.NullInt64{Int64: int64(rejected), Valid: true}
	}
	if err != nil {
		s.failRun(run, err)
		return 0, err
	}

	if run != nil {
		run.Success = true
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
		if err := s.store.CompleteIngestRun(run); err != nil {
			log.Printf("scheduler: complete ingest run: %v", err)
		}
	}
	log.Printf("scheduler: stored %d observations (%d rejected, %d future hours skipped)", stored, rejected, result.Skipped)
	return stored, nil
}

func (s *Scheduler) failRun(run *store.IngestRun, err error) {
	if run == nil {
		return
	}
	run.Success = false
	run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	if err := s.store.CompleteIngestRun(run); err != nil {
		log.Printf("scheduler: complete ingest run: %v", err)
	}
}

// Retrain fits every horizon on the full observation record.
func (s *Scheduler) Retrain(ctx context.Context) ([]*forecast.Result, error) {
	obs, err := s.store.GetAllObservations()
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	log.Printf("scheduler: retraining on %d observations", len(obs))
	return s.trainer.TrainAll(ctx, obs, forecast.Horizons())
}

func (s *Scheduler) cleanupPayloads() {
	n, err := s.store.CleanupOldRawPayloads(s.retentionDays)
	if err != nil {
		log.Printf("scheduler: cleanup raw payloads: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: removed %d raw payloads older than %d days", n, s.retentionDays)
	}
}

// ImportCSV loads an hourly CSV export into the store and returns the number
// of stored and rejected rows.
func ImportCSV(st *store.Store, r io.Reader, name string) (stored, rejected int, err error) {
	run, runErr := st.StartIngestRun(SourceCSV, name)
	if runErr != nil {
		log.Printf("ingest: start import run: %v", runErr)
	}
	defer func() {
		if run == nil {
			return
		}
		run.Success = err == nil
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: err == nil}
		run.RecordsRejected = sql.NullInt64{Int64: int64(rejected), Valid: true}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if cerr := st.CompleteIngestRun(run); cerr != nil {
			log.Printf("ingest: complete import run: %v", cerr)
		}
	}()

	obs, err := ReadCSV(r, st.Location())
	if err != nil {
		return 0, 0, fmt.Errorf("read csv: %w", err)
	}
	if run != nil {
		run.RecordsParsed = sql.NullInt64{Int64: int64(len(obs)), Valid: true}
	}
	return storeObservations(st, obs, SourceCSV)
}

func storeObservations(st *store.Store, obs []models.Observation, source string) (int, int, error) {
	kept, rejected := Filter(obs)
	if len(kept) == 0 {
		return 0, rejected, nil
	}
	stored, err := st.UpsertObservations(kept)
	if err != nil {
		return 0, rejected, fmt.Errorf("store observations: %w", err)
	}
	metrics.ObservationsIngested.WithLabelValues(source).Add(float64(stored))
	return stored, rejected, nil
}
