package forecast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/lox/aqiforecast/internal/features"
	"github.com/lox/aqiforecast/internal/forest"
	"github.com/lox/aqiforecast/internal/metrics"
	"github.com/lox/aqiforecast/internal/models"
)

// ErrInsufficientData is returned when too few supervised samples remain to
// split into training and validation sets.
var ErrInsufficientData = errors.New("insufficient data")

const (
	MinHorizon = 1
	MaxHorizon = 24

	minSamples = 2
)

// Horizons returns every forecast horizon, 1..24.
func Horizons() []int {
	hs := make([]int, 0, MaxHorizon)
	for h := MinHorizon; h <= MaxHorizon; h++ {
		hs = append(hs, h)
	}
	return hs
}

// Metrics summarise a model's error on the held-out validation window.
type Metrics struct {
	MAE          float64   `json:"mae"`
	RMSE         float64   `json:"rmse"`
	TrainSamples int       `json:"train_samples"`
	ValSamples   int       `json:"val_samples"`
	TrainUntil   time.Time `json:"train_until"`
	ValidFrom    time.Time `json:"valid_from"`
}

// Result is the outcome of training one horizon.
type Result struct {
	Horizon  int
	Metrics  Metrics
	Artifact *Artifact
	Dropped  []string
	Samples  []features.Sample
	Path     string
}

// Exporter receives each horizon's supervised frame.
type Exporter interface {
	ExportTrainingFrame(horizon int, samples []features.Sample, columns []string) error
}

// RunRecorder persists per-horizon training outcomes.
type RunRecorder interface {
	InsertTrainingRun(run models.TrainingRun) error
}

// Trainer fits and persists one model per horizon.
type Trainer struct {
	modelsDir string
	columns   []string
	forest    forest.Config
	exporter  Exporter
	runs      RunRecorder
}

func NewTrainer(modelsDir string) *Trainer {
	return &Trainer{
		modelsDir: modelsDir,
		columns:   features.CandidateColumns,
		forest:    forest.DefaultConfig(),
	}
}

// SetColumns overrides the candidate feature columns.
func (t *Trainer) SetColumns(cols []string) {
	t.columns = cols
}

// SetForestConfig overrides the regressor configuration.
func (t *Trainer) SetForestConfig(cfg forest.Config) {
	t.forest = cfg
}

// SetExporter configures export of each horizon's training frame.
func (t *Trainer) SetExporter(e Exporter) {
	t.exporter = e
}

// SetRunRecorder configures recording of training outcomes.
func (t *Trainer) SetRunRecorder(r RunRecorder) {
	t.runs = r
}

// Fit builds the supervised frame for horizon from a feature frame, splits it
// chronologically with the most recent 20% held out, and fits a model. Nothing
// is persisted.
func (t *Trainer) Fit(ctx context.Context, frame features.Frame, horizon int) (*Result, error) {
	if horizon < MinHorizon || horizon > MaxHorizon {
		return nil, fmt.Errorf("horizon %d outside %d..%d", horizon, MinHorizon, MaxHorizon)
	}

	samples, err := features.MakeSupervised(frame, horizon)
	if err != nil {
		return nil, err
	}
	if len(samples) < minSamples {
		return nil, fmt.Errorf("horizon %dh: %d samples from %d rows: %w", horizon, len(samples), len(frame), ErrInsufficientData)
	}

	cols, dropped := features.SelectColumns(samples, t.columns)
	if len(dropped) > 0 {
		log.Printf("trainer: horizon %dh: excluding unavailable features %v", horizon, dropped)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("horizon %dh: no usable feature columns: %w", horizon, ErrInsufficientData)
	}

	x, y, err := features.Matrix(samples, cols)
	if err != nil {
		return nil, err
	}

	nVal := (len(samples) + 4) / 5
	nTrain := len(samples) - nVal

	model, err := forest.Fit(ctx, x[:nTrain], y[:nTrain], t.forest)
	if err != nil {
		return nil, fmt.Errorf("horizon %dh: fit: %w", horizon, err)
	}

	pred, err := model.PredictBatch(x[nTrain:])
	if err != nil {
		return nil, fmt.Errorf("horizon %dh: validate: %w", horizon, err)
	}
	mae, rmse := errorStats(pred, y[nTrain:])

	m := Metrics{
		MAE:          mae,
		RMSE:         rmse,
		TrainSamples: nTrain,
		ValSamples:   nVal,
		TrainUntil:   samples[nTrain-1].ObservedAt,
		ValidFrom:    samples[nTrain].ObservedAt,
	}

	return &Result{
		Horizon: horizon,
		Metrics: m,
		Artifact: &Artifact{
			Horizon:   horizon,
			Features:  cols,
			Model:     model,
			Metrics:   m,
			TrainedAt: time.Now().UTC(),
		},
		Dropped: dropped,
		Samples: samples,
	}, nil
}

// Train derives features from raw observations, fits the horizon's model and
// writes its artifact.
func (t *Trainer) Train(ctx context.Context, obs []models.Observation, horizon int) (*Result, error) {
	frame, err := features.Build(obs)
	if err != nil {
		return nil, err
	}
	return t.train(ctx, frame, horizon, uuid.NewString())
}

// TrainAll trains each horizon independently. A failed horizon is logged and
// recorded, and the remaining horizons still run; the returned error
// aggregates every failure.
func (t *Trainer) TrainAll(ctx context.Context, obs []models.Observation, horizons []int) ([]*Result, error) {
	frame, err := features.Build(obs)
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}

	runID := uuid.NewString()
	log.Printf("trainer: run %s: %d observations, %d horizons", runID, len(frame), len(horizons))
	if gaps := features.Gaps(frame); len(gaps) > 0 {
		log.Printf("trainer: run %s: %d missing hours in observation record", runID, len(gaps))
	}

	var results []*Result
	var errs error
	for _, h := range horizons {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		res, err := t.train(ctx, frame, h, runID)
		if err != nil {
			log.Printf("trainer: horizon %dh failed: %v", h, err)
			errs = multierror.Append(errs, fmt.Errorf("horizon %dh: %w", h, err))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

func (t *Trainer) train(ctx context.Context, frame features.Frame, horizon int, runID string) (*Result, error) {
	label := strconv.Itoa(horizon)
	run := models.TrainingRun{RunID: runID, Horizon: horizon, StartedAt: time.Now().UTC()}

	res, err := t.Fit(ctx, frame, horizon)
	if err == nil {
		res.Artifact.RunID = runID
		res.Path, err = SaveArtifact(t.modelsDir, res.Artifact)
	}
	if err == nil && t.exporter != nil {
		if exportErr := t.exporter.ExportTrainingFrame(horizon, res.Samples, res.Artifact.Features); exportErr != nil {
			log.Printf("trainer: horizon %dh: export training frame: %v", horizon, exportErr)
		}
	}

	run.FinishedAt = time.Now().UTC()
	metrics.TrainingDuration.WithLabelValues(label).Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())

	if err != nil {
		metrics.TrainingFailures.WithLabelValues(label).Inc()
		run.ErrorMessage.String, run.ErrorMessage.Valid = err.Error(), true
		t.recordRun(run)
		return nil, err
	}

	m := res.Metrics
	metrics.ValidationMAE.WithLabelValues(label).Set(m.MAE)
	metrics.ValidationRMSE.WithLabelValues(label).Set(m.RMSE)
	log.Printf("trainer: horizon %dh: MAE %.2f, RMSE %.2f (%d train, %d validation) -> %s",
		horizon, m.MAE, m.RMSE, m.TrainSamples, m.ValSamples, res.Path)

	run.Success = true
	run.Samples = len(res.Samples)
	run.TrainSamples = m.TrainSamples
	run.ValSamples = m.ValSamples
	run.MAE.Float64, run.MAE.Valid = m.MAE, true
	run.RMSE.Float64, run.RMSE.Valid = m.RMSE, true
	run.Features = res.Artifact.Features
	run.DroppedFeatures = res.Dropped
	run.ArtifactPath.String, run.ArtifactPath.Valid = res.Path, true
	t.recordRun(run)
	return res, nil
}

func (t *Trainer) recordRun(run models.TrainingRun) {
	if t.runs == nil {
		return
	}
	if err := t.runs.InsertTrainingRun(run); err != nil {
		log.Printf("trainer: record run for horizon %dh: %v", run.Horizon, err)
	}
}

func errorStats(pred, actual []float64) (mae, rmse float64) {
	var absSum, sqSum float64
	for i := range pred {
		d := pred[i] - actual[i]
		absSum += math.Abs(d)
		sqSum += d * d
	}
	n := float64(len(pred))
	return absSum / n, math.Sqrt(sqSum / n)
}
