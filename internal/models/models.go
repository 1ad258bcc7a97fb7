package models

import (
	"database/sql"
	"time"
)

// Observation is one hourly air-quality record for the configured city.
type Observation struct {
	ID          int64
	ObservedAt  time.Time
	PM25        sql.NullFloat64 // µg/m³, required for AQI derivation
	PM10        sql.NullFloat64
	NO2         sql.NullFloat64
	Temperature sql.NullFloat64
	Humidity    sql.NullFloat64
	WindSpeed   sql.NullFloat64
	AQIExternal sql.NullFloat64 // provider-supplied index, not used for training
	Source      string          // "open-meteo", "csv"
	CreatedAt   time.Time
}

// TrainingRun records the outcome of training one horizon.
type TrainingRun struct {
	ID              int64
	RunID           string
	Horizon         int
	StartedAt       time.Time
	FinishedAt      time.Time
	Samples         int
	TrainSamples    int
	ValSamples      int
	MAE             sql.NullFloat64
	RMSE            sql.NullFloat64
	Features        []string
	DroppedFeatures []string
	ArtifactPath    sql.NullString
	Success         bool
	ErrorMessage    sql.NullString
}
