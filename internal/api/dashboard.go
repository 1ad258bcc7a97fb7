package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lox/aqiforecast/internal/advisory"
	"github.com/lox/aqiforecast/internal/aqi"
	"github.com/lox/aqiforecast/internal/features"
	"github.com/lox/aqiforecast/internal/forecast"
	"github.com/lox/aqiforecast/internal/models"
)

var errNoObservations = errors.New("no observations")

// CurrentData is the latest observation with its derived index.
type CurrentData struct {
	ObservedAt      time.Time    `json:"observed_at"`
	AgeMinutes      int          `json:"age_minutes"`
	AQI             float64      `json:"aqi"`
	Category        aqi.Category `json:"category"`
	Color           string       `json:"color"`
	PM25            *float64     `json:"pm25"`
	PM10            *float64     `json:"pm10"`
	NO2             *float64     `json:"no2"`
	ExternalAQI     *float64     `json:"aqi_external,omitempty"`
	Advice          string       `json:"advice"`
	AdviceGenerated bool         `json:"advice_generated"`
}

// ForecastData is the forecast curve issued from the latest observation.
type ForecastData struct {
	IssuedFrom time.Time        `json:"issued_from"`
	Points     []forecast.Point `json:"points"`
	Missing    []int            `json:"missing,omitempty"`
	Peak       *forecast.Point  `json:"peak,omitempty"`
}

func newForecastData(c *forecast.Curve) *ForecastData {
	data := &ForecastData{IssuedFrom: c.IssuedFrom, Points: c.Points, Missing: c.Missing}
	if data.Points == nil {
		data.Points = []forecast.Point{}
	}
	if p, ok := c.Peak(); ok {
		data.Peak = &p
	}
	return data
}

// DayStat is one local day's mean index.
type DayStat struct {
	Date     string       `json:"date"`
	AQI      float64      `json:"aqi"`
	Rounded  int          `json:"aqi_rounded"`
	Hours    int          `json:"hours"`
	Category aqi.Category `json:"category"`
	Color    string       `json:"color"`
}

// Heatmap holds mean AQI by local date (rows) and hour of day (columns).
// Cells without data are nil.
type Heatmap struct {
	Dates  []string     `json:"dates"`
	Values [][]*float64 `json:"values"`
}

type HistoryData struct {
	Heatmap         Heatmap      `json:"heatmap"`
	Daily           []DayStat    `json:"daily"`
	Average         float64      `json:"average"`
	AverageCategory aqi.Category `json:"average_category,omitempty"`
	Best            *DayStat     `json:"best,omitempty"`
	Worst           *DayStat     `json:"worst,omitempty"`
}

type AccuracyRow struct {
	Horizon   int       `json:"horizon"`
	RunID     string    `json:"run_id"`
	TrainedAt time.Time `json:"trained_at"`
	Success   bool      `json:"success"`
	MAE       *float64  `json:"mae,omitempty"`
	RMSE      *float64  `json:"rmse,omitempty"`
	Samples   int       `json:"samples"`
	Features  []string  `json:"features"`
	Dropped   []string  `json:"dropped,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// latestRow loads the most recent observation and derives its features.
func (s *Server) latestRow() (features.Row, error) {
	obs, err := s.store.GetLatestObservation()
	if err != nil {
		return features.Row{}, fmt.Errorf("latest observation: %w", err)
	}
	if obs == nil {
		return features.Row{}, errNoObservations
	}
	frame, err := features.Build([]models.Observation{*obs})
	if err != nil {
		return features.Row{}, err
	}
	return frame[0], nil
}

func (s *Server) getForecastData() (*ForecastData, error) {
	row, err := s.latestRow()
	if err != nil {
		return nil, err
	}
	return newForecastData(s.forecaster.Forecast(row)), nil
}

func (s *Server) getCurrentData(ctx context.Context) (*CurrentData, *ForecastData, error) {
	row, err := s.latestRow()
	if err != nil {
		return nil, nil, err
	}

	cat := aqi.CategoryForValue(row.AQI.Float64)
	data := &CurrentData{
		ObservedAt:  row.ObservedAt,
		AgeMinutes:  int(s.now().Sub(row.ObservedAt).Minutes()),
		AQI:         row.AQI.Float64,
		Category:    cat,
		Color:       cat.Color(),
		PM25:        ptr(row.PM25),
		PM10:        ptr(row.PM10),
		NO2:         ptr(row.NO2),
		ExternalAQI: ptr(row.AQIExternal),
	}

	fc := newForecastData(s.forecaster.Forecast(row))
	situation := advisory.Situation{
		Current: cat,
		AQI:     row.AQI.Float64,
		Hour:    row.Hour,
	}
	if fc.Peak != nil {
		situation.Peak = fc.Peak.Category
		situation.PeakAt = fc.Peak.ValidAt
	}
	data.Advice = s.advisor.Advice(ctx, situation)
	data.AdviceGenerated = s.advisor.Enabled()
	return data, fc, nil
}

func (s *Server) getHistoryData() (*HistoryData, error) {
	latest, err := s.store.GetLatestObservation()
	if err != nil {
		return nil, fmt.Errorf("latest observation: %w", err)
	}
	if latest == nil {
		return &HistoryData{}, nil
	}
	obs, err := s.store.GetObservations(latest.ObservedAt.Add(-30*24*time.Hour), latest.ObservedAt)
	if err != nil {
		return nil, fmt.Errorf("observations: %w", err)
	}
	return buildHistory(obs, latest.ObservedAt), nil
}

// buildHistory summarises observations in the windows ending at latest: an
// hour-by-date heatmap over the last 7 days and daily means over the last 30.
func buildHistory(obs []models.Observation, latest time.Time) *HistoryData {
	weekStart := latest.Add(-7 * 24 * time.Hour)
	monthStart := latest.Add(-30 * 24 * time.Hour)

	type acc struct {
		sum float64
		n   int
	}
	daily := map[string]*acc{}
	var dayOrder []string
	cells := map[string]*[24]acc{}
	var heatOrder []string

	for _, o := range obs {
		if !o.ObservedAt.After(monthStart) || o.ObservedAt.After(latest) || !o.PM25.Valid {
			continue
		}
		v, err := aqi.PM25ToAQI(o.PM25.Float64)
		if err != nil {
			continue
		}
		date := o.ObservedAt.Format("2006-01-02")

		d, ok := daily[date]
		if !ok {
			d = &acc{}
			daily[date] = d
			dayOrder = append(dayOrder, date)
		}
		d.sum += v
		d.n++

		if o.ObservedAt.After(weekStart) {
			row, ok := cells[date]
			if !ok {
				row = &[24]acc{}
				cells[date] = row
				heatOrder = append(heatOrder, date)
			}
			row[o.ObservedAt.Hour()].sum += v
			row[o.ObservedAt.Hour()].n++
		}
	}

	h := &HistoryData{}
	for _, date := range heatOrder {
		values := make([]*float64, 24)
		for hour, c := range cells[date] {
			if c.n > 0 {
				m := c.sum / float64(c.n)
				values[hour] = &m
			}
		}
		h.Heatmap.Dates = append(h.Heatmap.Dates, date)
		h.Heatmap.Values = append(h.Heatmap.Values, values)
	}

	var total float64
	for _, date := range dayOrder {
		d := daily[date]
		mean := d.sum / float64(d.n)
		rounded := int(math.Round(mean))
		cat := aqi.CategoryFor(rounded)
		h.Daily = append(h.Daily, DayStat{
			Date:     date,
			AQI:      mean,
			Rounded:  rounded,
			Hours:    d.n,
			Category: cat,
			Color:    cat.Color(),
		})
		total += mean
	}

	if len(h.Daily) == 0 {
		return h
	}
	h.Average = total / float64(len(h.Daily))
	h.AverageCategory = aqi.CategoryForValue(h.Average)
	best, worst := h.Daily[0], h.Daily[0]
	for _, d := range h.Daily[1:] {
		if d.AQI < best.AQI {
			best = d
		}
		if d.AQI > worst.AQI {
			worst = d
		}
	}
	h.Best, h.Worst = &best, &worst
	return h
}

func (s *Server) getAccuracyData() ([]AccuracyRow, error) {
	runs, err := s.store.GetLatestTrainingRuns()
	if err != nil {
		return nil, fmt.Errorf("training runs: %w", err)
	}
	rows := make([]AccuracyRow, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, AccuracyRow{
			Horizon:   r.Horizon,
			RunID:     r.RunID,
			TrainedAt: r.FinishedAt,
			Success:   r.Success,
			MAE:       ptr(r.MAE),
			RMSE:      ptr(r.RMSE),
			Samples:   r.Samples,
			Features:  r.Features,
			Dropped:   r.DroppedFeatures,
			Error:     r.ErrorMessage.String,
		})
	}
	return rows, nil
}

func ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
