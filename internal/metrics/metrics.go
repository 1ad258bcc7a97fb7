package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OpenMeteoAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqiforecast_openmeteo_api_calls_total",
			Help: "Total Open-Meteo air-quality API calls",
		},
		[]string{"status"},
	)

	OpenMeteoAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aqiforecast_openmeteo_api_latency_seconds",
			Help:    "Open-Meteo API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ObservationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqiforecast_observations_ingested_total",
			Help: "Total observations stored",
		},
		[]string{"source"},
	)

	ObservationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqiforecast_observations_rejected_total",
			Help: "Observations rejected by validation, by flag",
		},
		[]string{"flag"},
	)

	TrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqiforecast_training_duration_seconds",
			Help:    "Time to fit and persist one horizon's model",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"horizon"},
	)

	TrainingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqiforecast_training_failures_total",
			Help: "Horizons whose training failed",
		},
		[]string{"horizon"},
	)

	ValidationMAE = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aqiforecast_validation_mae",
			Help: "Validation mean absolute error of the latest model per horizon",
		},
		[]string{"horizon"},
	)

	ValidationRMSE = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aqiforecast_validation_rmse",
			Help: "Validation root mean squared error of the latest model per horizon",
		},
		[]string{"horizon"},
	)

	ModelCacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqiforecast_model_cache_events_total",
			Help: "Model registry lookups by outcome (hit, load, missing)",
		},
		[]string{"event"},
	)

	ForecastsServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aqiforecast_forecasts_served_total",
			Help: "Forecast curves computed for the dashboard",
		},
	)
)
