package features

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lox/aqiforecast/internal/aqi"
)

// ErrDuplicateTimestamp is returned when two rows share an observation time.
var ErrDuplicateTimestamp = errors.New("duplicate timestamp")

// Sample is a feature row paired with the AQI observed Horizon hours later.
type Sample struct {
	Row
	Target   float64
	TargetAt time.Time
}

// MakeSupervised pairs every row at time t with the AQI of the row at exactly
// t + horizon hours. Rows whose future row is missing, either because the
// series ends or because of a gap in the hourly record, are dropped. The result
// is sorted by time and may be empty.
func MakeSupervised(f Frame, horizon int) ([]Sample, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("horizon %d: %w", horizon, aqi.ErrInvalidInput)
	}

	sorted := SortByTime(f)
	byTime := make(map[int64]int, len(sorted))
	for i, r := range sorted {
		key := r.ObservedAt.Unix()
		if _, dup := byTime[key]; dup {
			return nil, fmt.Errorf("%s: %w", r.ObservedAt.Format(time.RFC3339), ErrDuplicateTimestamp)
		}
		byTime[key] = i
	}

	offset := time.Duration(horizon) * time.Hour
	var samples []Sample
	for _, r := range sorted {
		at := r.ObservedAt.Add(offset)
		j, ok := byTime[at.Unix()]
		if !ok || !sorted[j].AQI.Valid {
			continue
		}
		samples = append(samples, Sample{Row: r, Target: sorted[j].AQI.Float64, TargetAt: sorted[j].ObservedAt})
	}
	return samples, nil
}

// SortByTime returns a copy of f ordered by observation time.
func SortByTime(f Frame) Frame {
	out := slices.Clone(f)
	slices.SortStableFunc(out, func(a, b Row) int {
		return a.ObservedAt.Compare(b.ObservedAt)
	})
	return out
}

// Gaps returns the start of every missing hour between consecutive rows.
func Gaps(f Frame) []time.Time {
	sorted := SortByTime(f)
	var gaps []time.Time
	for i := 1; i < len(sorted); i++ {
		for t := sorted[i-1].ObservedAt.Add(time.Hour); t.Before(sorted[i].ObservedAt); t = t.Add(time.Hour) {
			gaps = append(gaps, t)
		}
	}
	return gaps
}
