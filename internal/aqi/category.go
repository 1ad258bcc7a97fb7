package aqi

// Category is a discrete AQI severity label, ordered from least to most severe.
type Category string

const (
	Good                        Category = "Good"
	Moderate                    Category = "Moderate"
	UnhealthyForSensitiveGroups Category = "Unhealthy-for-Sensitive-Groups"
	Unhealthy                   Category = "Unhealthy"
	VeryUnhealthy               Category = "Very-Unhealthy"
	Hazardous                   Category = "Hazardous"
)

// Categories lists every category in ascending severity.
var Categories = []Category{Good, Moderate, UnhealthyForSensitiveGroups, Unhealthy, VeryUnhealthy, Hazardous}

var categoryUpper = []int{50, 100, 150, 200, 300}

// CategoryFor maps an integer AQI to its category. Each upper bound is
// inclusive: 50 is Good, 51 is Moderate.
func CategoryFor(aqi int) Category {
	for i, upper := range categoryUpper {
		if aqi <= upper {
			return Categories[i]
		}
	}
	return Hazardous
}

// CategoryForValue truncates a fractional AQI before categorising it.
func CategoryForValue(aqi float64) Category {
	return CategoryFor(int(aqi))
}

// Severity returns the zero-based rank of c, or -1 for an unknown label.
func (c Category) Severity() int {
	for i, cat := range Categories {
		if cat == c {
			return i
		}
	}
	return -1
}

// Color returns the dashboard hex colour for the category.
func (c Category) Color() string {
	switch c {
	case Good:
		return "#4CAF50"
	case Moderate:
		return "#FFC107"
	case UnhealthyForSensitiveGroups:
		return "#FF9800"
	case Unhealthy:
		return "#F44336"
	case VeryUnhealthy:
		return "#9C27B0"
	default:
		return "#795548"
	}
}

// Advice is a short static recommendation for the category.
func (c Category) Advice() string {
	switch c {
	case Good:
		return "Air quality is satisfactory. Enjoy normal outdoor activity."
	case Moderate:
		return "Acceptable for most people. Unusually sensitive people should watch for symptoms."
	case UnhealthyForSensitiveGroups:
		return "Children, older adults and people with asthma or heart disease should reduce prolonged outdoor exertion."
	case Unhealthy:
		return "Everyone should reduce prolonged outdoor exertion. Sensitive groups should stay indoors."
	case VeryUnhealthy:
		return "Avoid outdoor exertion. Keep windows closed and use air filtration if available."
	default:
		return "Health warning of emergency conditions. Stay indoors."
	}
}
