// Package aqi converts PM2.5 concentrations to the US EPA Air Quality Index
// and maps index values to health guidance.
package aqi

import "math"

type breakpoint struct {
	pmLow, pmHigh   float64
	aqiLow, aqiHigh int
}

// EPA PM2.5 breakpoints (µg/m³, 24h).
var breakpoints = []breakpoint{
	{0.0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 500.4, 301, 500},
}

// AQIFromPM25 returns the AQI for a PM2.5 concentration. Values between two
// published segments fall into the upper one; values above the table use the
// last segment's slope. Negative and NaN inputs yield 0.
func AQIFromPM25(pm25 float64) int {
	if math.IsNaN(pm25) || pm25 <= 0 {
		return 0
	}
	if math.IsInf(pm25, 1) {
		return math.MaxInt32
	}

	bp := breakpoints[len(breakpoints)-1]
	for _, b := range breakpoints {
		if pm25 <= b.pmHigh {
			bp = b
			break
		}
	}

	slope := float64(bp.aqiHigh-bp.aqiLow) / (bp.pmHigh - bp.pmLow)
	v := math.Round(slope*(pm25-bp.pmLow) + float64(bp.aqiLow))
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

// Level is one of the six ordered severity bands.
type Level string

const (
	LevelGood               Level = "good"
	LevelModerate           Level = "moderate"
	LevelUnhealthySensitive Level = "unhealthy_sensitive"
	LevelUnhealthy          Level = "unhealthy"
	LevelVeryUnhealthy      Level = "very_unhealthy"
	LevelHazardous          Level = "hazardous"
)

// HealthPrecaution is the advisory attached to a severity band.
type HealthPrecaution struct {
	Level                Level    `json:"level"`
	Message              string   `json:"message"`
	Recommendations      []string `json:"recommendations"`
	MaskRequired         bool     `json:"mask_required"`
	AvoidOutdoorActivity bool     `json:"avoid_outdoor_activity"`
}

var precautions = []struct {
	maxAQI int
	HealthPrecaution
}{
	{50, HealthPrecaution{
		Level:           LevelGood,
		Message:         "Air quality is satisfactory. Enjoy outdoor activities.",
		Recommendations: []string{"Great day for outdoor exercise", "Open windows to ventilate your home"},
	}},
	{100, HealthPrecaution{
		Level:   LevelModerate,
		Message: "Air quality is acceptable. Unusually sensitive people should limit prolonged exertion.",
		Recommendations: []string{
			"Sensitive individuals should consider shorter outdoor sessions",
			"Watch for symptoms like coughing or shortness of breath",
		},
	}},
	{150, HealthPrecaution{
		Level:   LevelUnhealthySensitive,
		Message: "Members of sensitive groups may experience health effects.",
		Recommendations: []string{
			"Children, older adults and people with lung disease should reduce outdoor exertion",
			"Wear a mask if you are in a sensitive group",
			"Keep rescue medication close if you have asthma",
		},
		MaskRequired: true,
	}},
	{200, HealthPrecaution{
		Level:   LevelUnhealthy,
		Message: "Everyone may begin to experience health effects.",
		Recommendations: []string{
			"Avoid prolonged outdoor exertion",
			"Wear an N95 mask outdoors",
			"Run an air purifier indoors",
		},
		MaskRequired:         true,
		AvoidOutdoorActivity: true,
	}},
	{300, HealthPrecaution{
		Level:   LevelVeryUnhealthy,
		Message: "Health alert: everyone may experience more serious health effects.",
		Recommendations: []string{
			"Stay indoors and keep windows closed",
			"Wear an N95 mask if you must go outside",
			"Postpone outdoor events",
		},
		MaskRequired:         true,
		AvoidOutdoorActivity: true,
	}},
	{math.MaxInt, HealthPrecaution{
		Level:   LevelHazardous,
		Message: "Health warning of emergency conditions. The entire population is likely to be affected.",
		Recommendations: []string{
			"Remain indoors with filtered air",
			"Avoid all physical activity outdoors",
			"Follow local emergency guidance",
		},
		MaskRequired:         true,
		AvoidOutdoorActivity: true,
	}},
}

// HealthPrecautionsFromAQI returns the advisory for aqi. Band upper bounds
// are inclusive.
func HealthPrecautionsFromAQI(aqi int) HealthPrecaution {
	for _, p := range precautions {
		if aqi <= p.maxAQI {
			hp := p.HealthPrecaution
			hp.Recommendations = append([]string(nil), hp.Recommendations...)
			return hp
		}
	}
	return precautions[len(precautions)-1].HealthPrecaution
}

// Category is the display label and color for an AQI value.
type Category struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// CategoryForAQI returns the EPA display category for aqi.
func CategoryForAQI(aqi int) Category {
	switch {
	case aqi <= 50:
		return Category{"Good", "#00E400"}
	case aqi <= 100:
		return Category{"Moderate", "#FFFF00"}
	case aqi <= 150:
		return Category{"Unhealthy for Sensitive Groups", "#FF7E00"}
	case aqi <= 200:
		return Category{"Unhealthy", "#FF0000"}
	case aqi <= 300:
		return Category{"Very Unhealthy", "#8F3F97"}
	default:
		return Category{"Hazardous", "#7E0023"}
	}
}

// PM25FromAQI maps aqi back onto the breakpoint table. It is the piecewise
// inverse of AQIFromPM25 before rounding.
func PM25FromAQI(aqi int) float64 {
	if aqi <= 0 {
		return 0
	}
	bp := breakpoints[len(breakpoints)-1]
	for _, b := range breakpoints {
		if aqi <= b.aqiHigh {
			bp = b
			break
		}
	}
	slope := (bp.pmHigh - bp.pmLow) / float64(bp.aqiHigh-bp.aqiLow)
	return slope*float64(aqi-bp.aqiLow) + bp.pmLow
}
