package forecast

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/aqiforecast/internal/features"
	"github.com/lox/aqiforecast/internal/forest"
	"github.com/lox/aqiforecast/internal/models"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func nf(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func syntheticObservations(n int) []models.Observation {
	obs := make([]models.Observation, n)
	for i := range obs {
		hour := float64(i % 24)
		obs[i] = models.Observation{
			ObservedAt:  start.Add(time.Duration(i) * time.Hour),
			PM25:        nf(20 + 15*math.Sin(hour/24*2*math.Pi) + float64(i%7)),
			Temperature: nf(5 + hour/2),
			Humidity:    nf(60 - hour),
		}
	}
	return obs
}

func newTestTrainer(t *testing.T) *Trainer {
	t.Helper()
	tr := NewTrainer(t.TempDir())
	tr.SetForestConfig(forest.Config{Estimators: 15, Seed: 42})
	return tr
}

type recordedRuns struct{ runs []models.TrainingRun }

func (r *recordedRuns) InsertTrainingRun(run models.TrainingRun) error {
	r.runs = append(r.runs, run)
	return nil
}

type countingExporter struct{ calls map[int]int }

func (e *countingExporter) ExportTrainingFrame(h int, samples []features.Sample, cols []string) error {
	if e.calls == nil {
		e.calls = map[int]int{}
	}
	e.calls[h] = len(samples)
	return nil
}

func TestFit_ChronologicalSplit(t *testing.T) {
	tr := newTestTrainer(t)
	frame, err := features.Build(syntheticObservations(10))
	require.NoError(t, err)

	res, err := tr.Fit(context.Background(), frame, 1)
	require.NoError(t, err)

	m := res.Metrics
	assert.Equal(t, 7, m.TrainSamples)
	assert.Equal(t, 2, m.ValSamples)
	assert.True(t, m.ValidFrom.After(m.TrainUntil), "validation must be strictly later than training")
	assert.Equal(t, start.Add(6*time.Hour), m.TrainUntil)
	assert.Equal(t, start.Add(7*time.Hour), m.ValidFrom)
	assert.GreaterOrEqual(t, m.RMSE, m.MAE)
}

func TestFit_InsufficientData(t *testing.T) {
	tr := newTestTrainer(t)
	frame, err := features.Build(syntheticObservations(3))
	require.NoError(t, err)

	_, err = tr.Fit(context.Background(), frame, 2)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = tr.Fit(context.Background(), frame, 5)
	assert.ErrorIs(t, err, ErrInsufficientData)

	res, err := tr.Fit(context.Background(), frame, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Metrics.TrainSamples)
	assert.Equal(t, 1, res.Metrics.ValSamples)
}

func TestFit_HorizonRange(t *testing.T) {
	tr := newTestTrainer(t)
	frame, err := features.Build(syntheticObservations(30))
	require.NoError(t, err)

	_, err = tr.Fit(context.Background(), frame, 0)
	assert.Error(t, err)
	_, err = tr.Fit(context.Background(), frame, 25)
	assert.Error(t, err)
}

func TestFit_AbsentColumnExcluded(t *testing.T) {
	tr := newTestTrainer(t)
	frame, err := features.Build(syntheticObservations(48))
	require.NoError(t, err)

	res, err := tr.Fit(context.Background(), frame, 3)
	require.NoError(t, err)

	want := []string{features.ColPM25, features.ColTemperature, features.ColHumidity, features.ColHour, features.ColDayOfWeek, features.ColMonth}
	assert.Equal(t, want, res.Artifact.Features)
	assert.Equal(t, []string{features.ColWindSpeed}, res.Dropped)
	assert.Equal(t, len(want), res.Artifact.Model.Features)

	_, err = res.Artifact.Predict(frame[len(frame)-1])
	assert.NoError(t, err)
}

func TestTrain_PersistsAndRoundTrips(t *testing.T) {
	tr := newTestTrainer(t)
	runs := &recordedRuns{}
	exp := &countingExporter{}
	tr.SetRunRecorder(runs)
	tr.SetExporter(exp)

	obs := syntheticObservations(72)
	res, err := tr.Train(context.Background(), obs, 6)
	require.NoError(t, err)
	require.FileExists(t, res.Path)

	loaded, err := LoadArtifact(tr.modelsDir, 6)
	require.NoError(t, err)
	assert.Equal(t, res.Artifact.Features, loaded.Features)
	assert.Equal(t, res.Artifact.RunID, loaded.RunID)

	frame, err := features.Build(obs)
	require.NoError(t, err)
	for _, row := range frame {
		want, err := res.Artifact.Predict(row)
		require.NoError(t, err)
		got, err := loaded.Predict(row)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.Len(t, runs.runs, 1)
	assert.True(t, runs.runs[0].Success)
	assert.Equal(t, 6, runs.runs[0].Horizon)
	assert.Equal(t, 66, exp.calls[6])
}

func TestTrain_DeterministicAcrossRuns(t *testing.T) {
	obs := syntheticObservations(60)
	a, err := newTestTrainer(t).Train(context.Background(), obs, 2)
	require.NoError(t, err)
	b, err := newTestTrainer(t).Train(context.Background(), obs, 2)
	require.NoError(t, err)

	assert.Equal(t, a.Artifact.Model, b.Artifact.Model)
	assert.Equal(t, a.Metrics.MAE, b.Metrics.MAE)
}

func TestTrain_MissingPM25(t *testing.T) {
	obs := syntheticObservations(10)
	obs[4].PM25 = sql.NullFloat64{}

	_, err := newTestTrainer(t).Train(context.Background(), obs, 1)
	assert.ErrorIs(t, err, features.ErrMissingField)
}

func TestTrainAll_IsolatesFailures(t *testing.T) {
	tr := newTestTrainer(t)
	runs := &recordedRuns{}
	tr.SetRunRecorder(runs)

	results, err := tr.TrainAll(context.Background(), syntheticObservations(10), []int{1, 9, 2, 24})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)

	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Horizon)
	assert.Equal(t, 2, results[1].Horizon)

	for _, h := range []int{1, 2} {
		_, err := os.Stat(ArtifactPath(tr.modelsDir, h))
		assert.NoError(t, err)
	}
	_, err = LoadArtifact(tr.modelsDir, 9)
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	require.Len(t, runs.runs, 4)
	var failed int
	for _, r := range runs.runs {
		if !r.Success {
			failed++
			assert.True(t, r.ErrorMessage.Valid)
		}
	}
	assert.Equal(t, 2, failed)
}

func TestTrainAll_AllHorizons(t *testing.T) {
	tr := newTestTrainer(t)
	tr.SetForestConfig(forest.Config{Estimators: 3, Seed: 1})

	results, err := tr.TrainAll(context.Background(), syntheticObservations(24*5), Horizons())
	require.NoError(t, err)
	assert.Len(t, results, MaxHorizon)
	assert.Len(t, NewRegistry(tr.modelsDir).Available(), MaxHorizon)
}

func TestHorizons(t *testing.T) {
	hs := Horizons()
	require.Len(t, hs, 24)
	assert.Equal(t, 1, hs[0])
	assert.Equal(t, 24, hs[23])
}
