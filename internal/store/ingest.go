package store

import (
	"database/sql"
	"time"
)

// IngestRun represents a single API fetch operation for auditing.
type IngestRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "open-meteo", "csv"
	Endpoint          string
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	RecordsStored     sql.NullInt64
	RecordsRejected   sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(source, endpoint string) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, source, endpoint, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.Endpoint)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			records_parsed = ?,
			records_stored = ?,
			records_rejected = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.RecordsParsed,
		run.RecordsStored, run.RecordsRejected, run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetLastSuccessfulIngest returns the most recent successful run, or nil.
func (s *Store) GetLastSuccessfulIngest() (*IngestRun, error) {
	runs, err := s.queryIngestRuns(`WHERE success = TRUE ORDER BY started_at DESC LIMIT 1`)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// GetRecentIngestErrors returns recent failed ingest runs.
func (s *Store) GetRecentIngestErrors(limit int) ([]IngestRun, error) {
	return s.queryIngestRuns(`WHERE success = FALSE ORDER BY started_at DESC LIMIT ?`, limit)
}

func (s *Store) queryIngestRuns(where string, args ...any) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, source, endpoint,
			   http_status, response_size_bytes, records_parsed, records_stored, records_rejected,
			   success, error_message
		FROM ingest_runs
		`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint,
			&r.HTTPStatus, &r.ResponseSizeBytes, &r.RecordsParsed, &r.RecordsStored, &r.RecordsRejected,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
