package ingest

import (
	"github.com/lox/aqiforecast/internal/metrics"
	"github.com/lox/aqiforecast/internal/models"
)

const (
	FlagPM25Missing      = "pm25_missing"
	FlagPM25Negative     = "pm25_negative"
	FlagPM10Negative     = "pm10_negative"
	FlagNO2Negative      = "no2_negative"
	FlagHumidityInvalid  = "humidity_invalid"
	FlagWindSpeedInvalid = "wind_speed_invalid"
)

// ValidateObservation returns the quality flags raised by obs. Any flag means
// the row is not stored.
func ValidateObservation(obs *models.Observation) []string {
	var flags []string

	switch {
	case !obs.PM25.Valid:
		flags = append(flags, FlagPM25Missing)
	case obs.PM25.Float64 < 0:
		flags = append(flags, FlagPM25Negative)
	}

	if obs.PM10.Valid && obs.PM10.Float64 < 0 {
		flags = append(flags, FlagPM10Negative)
	}
	if obs.NO2.Valid && obs.NO2.Float64 < 0 {
		flags = append(flags, FlagNO2Negative)
	}

	if obs.Humidity.Valid {
		if obs.Humidity.Float64 < 0 || obs.Humidity.Float64 > 100 {
			flags = append(flags, FlagHumidityInvalid)
		}
	}

	if obs.WindSpeed.Valid && obs.WindSpeed.Float64 < 0 {
		flags = append(flags, FlagWindSpeedInvalid)
	}

	return flags
}

// Filter splits obs into rows fit for storage and a count of rejected rows.
func Filter(obs []models.Observation) ([]models.Observation, int) {
	kept := make([]models.Observation, 0, len(obs))
	rejected := 0
	for i := range obs {
		flags := ValidateObservation(&obs[i])
		if len(flags) == 0 {
			kept = append(kept, obs[i])
			continue
		}
		rejected++
		for _, f := range flags {
			metrics.ObservationsRejected.WithLabelValues(f).Inc()
		}
	}
	return kept, rejected
}
