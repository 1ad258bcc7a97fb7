// Package aqi converts PM2.5 concentrations into US EPA air quality index
// values and severity categories.
package aqi

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned for concentrations outside the physical domain.
var ErrInvalidInput = errors.New("invalid input")

// Breakpoint is one linear segment of the index formula.
type Breakpoint struct {
	CLow, CHigh float64 // concentration, µg/m³
	ILow, IHigh float64 // index
}

// PM25Breakpoints are the EPA 24-hour PM2.5 segments, ascending.
var PM25Breakpoints = []Breakpoint{
	{0.0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 500.4, 301, 500},
}

// PM25ToAQI maps a PM2.5 concentration to an AQI value.
//
// A concentration falling between two published segments (e.g. 12.05) uses the
// next segment up. Concentrations above the top segment are extrapolated along
// the top segment's line rather than capped at 500.
func PM25ToAQI(concentration float64) (float64, error) {
	if math.IsNaN(concentration) || concentration < 0 {
		return 0, fmt.Errorf("pm2.5 concentration %v: %w", concentration, ErrInvalidInput)
	}

	bp := PM25Breakpoints[len(PM25Breakpoints)-1]
	for _, b := range PM25Breakpoints {
		if concentration <= b.CHigh {
			bp = b
			break
		}
	}
	return bp.apply(concentration), nil
}

func (b Breakpoint) apply(c float64) float64 {
	return (b.IHigh-b.ILow)/(b.CHigh-b.CLow)*(c-b.CLow) + b.ILow
}
