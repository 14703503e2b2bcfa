package units

import (
	"fmt"
	"math"
	"strconv"

	"weather_station/internal/models"
)

const kelvinOffset = 273.15

// KelvinToCelsius converts an absolute temperature to Celsius.
// NaN and infinite inputs pass through unchanged.
func KelvinToCelsius(k float64) float64 {
	return k - kelvinOffset
}

// KelvinToFahrenheit converts an absolute temperature to Fahrenheit.
func KelvinToFahrenheit(k float64) float64 {
	return (k-kelvinOffset)*9/5 + 32
}

// Convert dispatches on the display unit. Unknown units fall back to Celsius.
func Convert(k float64, unit models.Unit) float64 {
	if unit == models.UnitFahrenheit {
		return KelvinToFahrenheit(k)
	}
	return KelvinToCelsius(k)
}

// Suffix returns the display suffix for a unit.
func Suffix(unit models.Unit) string {
	if unit == models.UnitFahrenheit {
		return "°F"
	}
	return "°C"
}

// Format renders a Kelvin temperature as a whole-degree display string,
// e.g. 290 K under CELSIUS becomes "17°C". NaN/Inf are rendered verbatim.
func Format(k float64, unit models.Unit) string {
	v := Convert(k, unit)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprintf("%v%s", v, Suffix(unit))
	}
	return strconv.Itoa(int(math.Round(v))) + Suffix(unit)
}
