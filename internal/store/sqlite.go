package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/aqiforecast/internal/models"
)

type Store struct {
	db  *sql.DB
	loc *time.Location
}

// New wraps db. Timestamps are stored in UTC and returned in loc.
func New(db *sql.DB, loc *time.Location) *Store {
	return &Store{db: db, loc: loc}
}

// Location is the city's time zone.
func (s *Store) Location() *time.Location {
	return s.loc
}

const observationColumns = `id, observed_at, pm25, pm10, no2, temperature, humidity, wind_speed, aqi_external, source, created_at`

// UpsertObservations stores observations in one transaction. A later fetch of
// the same hour replaces the stored values.
func (s *Store) UpsertObservations(obs []models.Observation) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO observations (observed_at, pm25, pm10, no2, temperature, humidity, wind_speed, aqi_external, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(observed_at) DO UPDATE SET
			pm25 = excluded.pm25,
			pm10 = excluded.pm10,
			no2 = excluded.no2,
			temperature = COALESCE(excluded.temperature, observations.temperature),
			humidity = COALESCE(excluded.humidity, observations.humidity),
			wind_speed = COALESCE(excluded.wind_speed, observations.wind_speed),
			aqi_external = excluded.aqi_external,
			source = excluded.source
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.Exec(o.ObservedAt.UTC(), o.PM25, o.PM10, o.NO2, o.Temperature, o.Humidity, o.WindSpeed, o.AQIExternal, o.Source); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", o.ObservedAt.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(obs), nil
}

func (s *Store) GetLatestObservation() (*models.Observation, error) {
	row := s.db.QueryRow(`SELECT ` + observationColumns + ` FROM observations ORDER BY observed_at DESC LIMIT 1`)

	obs, err := s.scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return obs, nil
}

// GetObservations returns observations in [start, end], oldest first.
func (s *Store) GetObservations(start, end time.Time) ([]models.Observation, error) {
	rows, err := s.db.Query(`
		SELECT `+observationColumns+`
		FROM observations
		WHERE observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return s.collectObservations(rows)
}

// GetAllObservations returns the full observation record, oldest first.
func (s *Store) GetAllObservations() ([]models.Observation, error) {
	rows, err := s.db.Query(`SELECT ` + observationColumns + ` FROM observations ORDER BY observed_at ASC`)
	if err != nil {
		return nil, err
	}
	return s.collectObservations(rows)
}

func (s *Store) CountObservations() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanObservation(row scanner) (*models.Observation, error) {
	var obs models.Observation
	if err := row.Scan(&obs.ID, &obs.ObservedAt, &obs.PM25, &obs.PM10, &obs.NO2, &obs.Temperature, &obs.Humidity, &obs.WindSpeed, &obs.AQIExternal, &obs.Source, &obs.CreatedAt); err != nil {
		return nil, err
	}
	obs.ObservedAt = obs.ObservedAt.In(s.loc)
	return &obs, nil
}

func (s *Store) collectObservations(rows *sql.Rows) ([]models.Observation, error) {
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		obs, err := s.scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, *obs)
	}
	return observations, rows.Err()
}
