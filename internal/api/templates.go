package api

import (
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/lox/aqiforecast/internal/aqi"
)

//go:embed templates/*
var templateFS embed.FS

// LegendEntry is one row of the category scale shown on the page.
type LegendEntry struct {
	Category aqi.Category
	Range    string
	Color    string
	Advice   string
}

var categoryRanges = map[aqi.Category]string{
	aqi.Good:                        "0-50",
	aqi.Moderate:                    "51-100",
	aqi.UnhealthyForSensitiveGroups: "101-150",
	aqi.Unhealthy:                   "151-200",
	aqi.VeryUnhealthy:               "201-300",
	aqi.Hazardous:                   "301+",
}

func legend() []LegendEntry {
	entries := make([]LegendEntry, 0, len(aqi.Categories))
	for _, c := range aqi.Categories {
		entries = append(entries, LegendEntry{Category: c, Range: categoryRanges[c], Color: c.Color(), Advice: c.Advice()})
	}
	return entries
}

func hoursOfDay() []int {
	hours := make([]int, 24)
	for i := range hours {
		hours[i] = i
	}
	return hours
}

// newTemplates creates and parses the HTML templates with custom functions.
func newTemplates() *template.Template {
	funcs := template.FuncMap{
		"deref": func(f *float64) float64 {
			if f == nil {
				return 0
			}
			return *f
		},
		"aqi": func(f float64) string {
			return fmt.Sprintf("%.0f", f)
		},
		"color": func(f *float64) string {
			if f == nil {
				return "transparent"
			}
			return aqi.CategoryForValue(*f).Color()
		},
		"clock": func(t time.Time) string {
			return t.Format("Mon 15:04")
		},
		"stamp": func(t time.Time) string {
			return t.Format("2 Jan 15:04")
		},
		"pct": func(f, limit float64) float64 {
			if f >= limit {
				return 100
			}
			return f / limit * 100
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}
