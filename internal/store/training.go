package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lox/aqiforecast/internal/models"
)

// InsertTrainingRun records one horizon's training outcome.
func (s *Store) InsertTrainingRun(run models.TrainingRun) error {
	feats, err := json.Marshal(run.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	dropped, err := json.Marshal(run.DroppedFeatures)
	if err != nil {
		return fmt.Errorf("marshal dropped features: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO training_runs (run_id, horizon, started_at, finished_at, samples, train_samples, val_samples, mae, rmse, features, dropped_features, artifact_path, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.Horizon, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Samples, run.TrainSamples, run.ValSamples,
		run.MAE, run.RMSE, string(feats), string(dropped), run.ArtifactPath, run.Success, run.ErrorMessage)
	return err
}

// GetLatestTrainingRuns returns the most recent run for each horizon, ordered
// by horizon.
func (s *Store) GetLatestTrainingRuns() ([]models.TrainingRun, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.run_id, t.horizon, t.started_at, t.finished_at, t.samples, t.train_samples, t.val_samples,
			t.mae, t.rmse, t.features, t.dropped_features, t.artifact_path, t.success, t.error_message
		FROM training_runs t
		WHERE t.id = (SELECT MAX(id) FROM training_runs WHERE horizon = t.horizon)
		ORDER BY t.horizon
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.TrainingRun
	for rows.Next() {
		var r models.TrainingRun
		var feats, dropped sql.NullString
		if err := rows.Scan(&r.ID, &r.RunID, &r.Horizon, &r.StartedAt, &r.FinishedAt, &r.Samples, &r.TrainSamples, &r.ValSamples,
			&r.MAE, &r.RMSE, &feats, &dropped, &r.ArtifactPath, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		if feats.Valid {
			if err := json.Unmarshal([]byte(feats.String), &r.Features); err != nil {
				return nil, fmt.Errorf("unmarshal features: %w", err)
			}
		}
		if dropped.Valid {
			if err := json.Unmarshal([]byte(dropped.String), &r.DroppedFeatures); err != nil {
				return nil, fmt.Errorf("unmarshal dropped features: %w", err)
			}
		}
		r.StartedAt = r.StartedAt.In(s.loc)
		r.FinishedAt = r.FinishedAt.In(s.loc)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
