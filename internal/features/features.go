// Package features turns raw observations into model-ready rows.
package features

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/lox/aqiforecast/internal/aqi"
	"github.com/lox/aqiforecast/internal/models"
)

// ErrMissingField is returned when a required value is absent from a row.
var ErrMissingField = errors.New("missing field")

// Column names, matching the raw table and the persisted feature lists.
const (
	ColPM25        = "pm25"
	ColPM10        = "pm10"
	ColNO2         = "no2"
	ColTemperature = "temperature"
	ColHumidity    = "humidity"
	ColWindSpeed   = "wind_speed"
	ColAQIExternal = "aqi_external"
	ColHour        = "hour"
	ColDayOfWeek   = "dayofweek"
	ColMonth       = "month"
	ColAQI         = "aqi"
)

// Row is an observation extended with calendar features and the derived AQI.
type Row struct {
	models.Observation

	HasTime   bool
	Hour      int // 0-23
	DayOfWeek int // Monday=0 .. Sunday=6
	Month     int // 1-12

	AQI sql.NullFloat64
}

// Frame is an ordered table of rows.
type Frame []Row

// FromObservations wraps observations in a frame without deriving anything.
func FromObservations(obs []models.Observation) Frame {
	f := make(Frame, len(obs))
	for i, o := range obs {
		f[i] = Row{Observation: o}
	}
	return f
}

// AddTimeFeatures returns a copy of f with hour, day of week and month set from
// each row's local timestamp.
func AddTimeFeatures(f Frame) Frame {
	out := slices.Clone(f)
	for i := range out {
		t := out[i].ObservedAt
		out[i].HasTime = true
		out[i].Hour = t.Hour()
		out[i].DayOfWeek = (int(t.Weekday()) + 6) % 7
		out[i].Month = int(t.Month())
	}
	return out
}

// AddAQIColumn returns a copy of f with the AQI derived from PM2.5. It fails on
// the first row without a PM2.5 value or with an invalid concentration.
func AddAQIColumn(f Frame) (Frame, error) {
	out := slices.Clone(f)
	for i := range out {
		if !out[i].PM25.Valid {
			return nil, fmt.Errorf("row %d (%s): %s: %w", i, out[i].ObservedAt.Format("2006-01-02T15:04"), ColPM25, ErrMissingField)
		}
		v, err := aqi.PM25ToAQI(out[i].PM25.Float64)
		if err != nil {
			return nil, fmt.Errorf("row %d (%s): %w", i, out[i].ObservedAt.Format("2006-01-02T15:04"), err)
		}
		out[i].AQI = sql.NullFloat64{Float64: v, Valid: true}
	}
	return out, nil
}

// Build applies both derivations to a set of observations.
func Build(obs []models.Observation) (Frame, error) {
	return AddAQIColumn(AddTimeFeatures(FromObservations(obs)))
}

// Value looks up a named column on the row.
func (r Row) Value(col string) (float64, bool) {
	switch col {
	case ColPM25:
		return r.PM25.Float64, r.PM25.Valid
	case ColPM10:
		return r.PM10.Float64, r.PM10.Valid
	case ColNO2:
		return r.NO2.Float64, r.NO2.Valid
	case ColTemperature:
		return r.Temperature.Float64, r.Temperature.Valid
	case ColHumidity:
		return r.Humidity.Float64, r.Humidity.Valid
	case ColWindSpeed:
		return r.WindSpeed.Float64, r.WindSpeed.Valid
	case ColAQIExternal:
		return r.AQIExternal.Float64, r.AQIExternal.Valid
	case ColHour:
		return float64(r.Hour), r.HasTime
	case ColDayOfWeek:
		return float64(r.DayOfWeek), r.HasTime
	case ColMonth:
		return float64(r.Month), r.HasTime
	case ColAQI:
		return r.AQI.Float64, r.AQI.Valid
	}
	return 0, false
}

// Vector assembles the named columns in order.
func (r Row) Vector(cols []string) ([]float64, error) {
	x := make([]float64, len(cols))
	for i, col := range cols {
		v, ok := r.Value(col)
		if !ok {
			return nil, fmt.Errorf("%s: %w", col, ErrMissingField)
		}
		x[i] = v
	}
	return x, nil
}
