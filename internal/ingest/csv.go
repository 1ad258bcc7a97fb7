package ingest

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/lox/aqiforecast/internal/models"
)

const SourceCSV = "csv"

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	time.RFC3339,
}

// ReadCSV parses an hourly export with a datetime column and any of the
// pollutant and weather columns. Naive timestamps are interpreted in loc.
func ReadCSV(r io.Reader, loc *time.Location) ([]models.Observation, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	timeCol, ok := cols["datetime"]
	if !ok {
		if timeCol, ok = cols["time"]; !ok {
			return nil, errors.New("missing datetime column")
		}
	}

	fields := map[string]func(*models.Observation) *sql.NullFloat64{
		"pm25":         func(o *models.Observation) *sql.NullFloat64 { return &o.PM25 },
		"pm2_5":        func(o *models.Observation) *sql.NullFloat64 { return &o.PM25 },
		"pm10":         func(o *models.Observation) *sql.NullFloat64 { return &o.PM10 },
		"no2":          func(o *models.Observation) *sql.NullFloat64 { return &o.NO2 },
		"temperature":  func(o *models.Observation) *sql.NullFloat64 { return &o.Temperature },
		"humidity":     func(o *models.Observation) *sql.NullFloat64 { return &o.Humidity },
		"wind_speed":   func(o *models.Observation) *sql.NullFloat64 { return &o.WindSpeed },
		"aqi_external": func(o *models.Observation) *sql.NullFloat64 { return &o.AQIExternal },
		"us_aqi":       func(o *models.Observation) *sql.NullFloat64 { return &o.AQIExternal },
	}

	var results []models.Observation
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		observedAt, err := parseTime(record[timeCol], loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		obs := models.Observation{ObservedAt: observedAt, Source: SourceCSV}

		for name, field := range fields {
			idx, ok := cols[name]
			if !ok || idx >= len(record) {
				continue
			}
			raw := strings.TrimSpace(record[idx])
			if raw == "" || strings.EqualFold(raw, "nan") {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
			*field(&obs) = sql.NullFloat64{Float64: v, Valid: true}
		}
		results = append(results, obs)
	}
	return results, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q", s)
}
