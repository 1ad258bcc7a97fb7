package forecast

import (
	"errors"
	"log"
	"time"

	"github.com/lox/aqiforecast/internal/aqi"
	"github.com/lox/aqiforecast/internal/features"
	"github.com/lox/aqiforecast/internal/metrics"
)

// Point is one horizon of a forecast curve.
type Point struct {
	Horizon  int          `json:"horizon"`
	ValidAt  time.Time    `json:"valid_at"`
	AQI      float64      `json:"aqi"`
	Category aqi.Category `json:"category"`
	Color    string       `json:"color"`
}

// Curve is the multi-horizon forecast issued from one observation.
type Curve struct {
	IssuedFrom time.Time `json:"issued_from"`
	Points     []Point   `json:"points"`
	Missing    []int     `json:"missing,omitempty"`
}

// Peak returns the highest forecast point.
func (c *Curve) Peak() (Point, bool) {
	if len(c.Points) == 0 {
		return Point{}, false
	}
	peak := c.Points[0]
	for _, p := range c.Points[1:] {
		if p.AQI > peak.AQI {
			peak = p
		}
	}
	return peak, true
}

// Point returns the forecast for horizon, if one was produced.
func (c *Curve) Point(horizon int) (Point, bool) {
	for _, p := range c.Points {
		if p.Horizon == horizon {
			return p, true
		}
	}
	return Point{}, false
}

// Forecaster turns the latest feature row into a forecast curve.
type Forecaster struct {
	registry *Registry
}

func NewForecaster(r *Registry) *Forecaster {
	return &Forecaster{registry: r}
}

// Forecast predicts every horizon from row. A horizon without a usable model
// is reported in Missing rather than failing the whole curve.
func (f *Forecaster) Forecast(row features.Row) *Curve {
	curve := &Curve{IssuedFrom: row.ObservedAt}
	for _, h := range Horizons() {
		a, err := f.registry.Get(h)
		if err != nil {
			if !errors.Is(err, ErrArtifactNotFound) {
				log.Printf("forecast: load %s: %v", ArtifactName(h), err)
			}
			curve.Missing = append(curve.Missing, h)
			continue
		}
		v, err := a.Predict(row)
		if err != nil {
			log.Printf("forecast: predict %s: %v", ArtifactName(h), err)
			curve.Missing = append(curve.Missing, h)
			continue
		}
		cat := aqi.CategoryForValue(v)
		curve.Points = append(curve.Points, Point{
			Horizon:  h,
			ValidAt:  row.ObservedAt.Add(time.Duration(h) * time.Hour),
			AQI:      v,
			Category: cat,
			Color:    cat.Color(),
		})
	}
	metrics.ForecastsServed.Inc()
	return curve
}
