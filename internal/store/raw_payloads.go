package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawPayload describes a stored upstream response without its body.
type RawPayload struct {
	ID          int64
	IngestRunID sql.NullInt64
	FetchedAt   time.Time
	Source      string
	Endpoint    string
}

// StoreRawPayload stores a gzip-compressed API response.
// Returns the payload ID, or 0 if an identical payload was already stored.
func (s *Store) StoreRawPayload(runID int64, source, endpoint string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)

	var ingestRunID sql.NullInt64
	if runID > 0 {
		ingestRunID = sql.NullInt64{Int64: runID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_payloads (ingest_run_id, fetched_at, source, endpoint, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, ingestRunID, time.Now().UTC(), source, endpoint, buf.Bytes(), hex.EncodeToString(hash[:]))
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}

	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return 0, err
	}
	return result.LastInsertId()
}

// GetRawPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// ListRawPayloads returns payloads from source fetched at or after since,
// oldest first.
func (s *Store) ListRawPayloads(source string, since time.Time) ([]RawPayload, error) {
	rows, err := s.db.Query(`
		SELECT id, ingest_run_id, fetched_at, source, endpoint
		FROM raw_payloads
		WHERE source = ? AND fetched_at >= ?
		ORDER BY fetched_at, id
	`, source, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query raw payloads: %w", err)
	}
	defer rows.Close()

	var payloads []RawPayload
	for rows.Next() {
		var p RawPayload
		if err := rows.Scan(&p.ID, &p.IngestRunID, &p.FetchedAt, &p.Source, &p.Endpoint); err != nil {
			return nil, err
		}
		p.FetchedAt = p.FetchedAt.In(s.loc)
		payloads = append(payloads, p)
	}
	return payloads, rows.Err()
}

// CleanupOldRawPayloads deletes raw payloads older than retentionDays and
// returns the number removed.
func (s *Store) CleanupOldRawPayloads(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec(`DELETE FROM raw_payloads WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
