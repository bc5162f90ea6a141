// Package models defines the core domain types for CleanSpace.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cleanspace/airquest/internal/aqi"
)

// ProviderTag identifies where a reading came from.
type ProviderTag string

// SourceSynthetic tags readings produced by the local fallback generator.
const SourceSynthetic ProviderTag = "synthetic"

// IsSynthetic reports whether the reading was generated locally rather than
// fetched from a real provider.
func (p ProviderTag) IsSynthetic() bool {
	return p == SourceSynthetic
}

// Location is a geographic point with optional place names.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
}

// String returns "lat,lon" with four decimals.
func (l Location) String() string {
	return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
}

// Valid reports whether the coordinates are within range.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// AirQualityReading is a pollutant measurement at a point in time.
// Concentrations are in µg/m³ except CO (mg/m³).
type AirQualityReading struct {
	AQI         int         `json:"aqi"`
	PM25        float64     `json:"pm25"`
	PM10        float64     `json:"pm10"`
	NO2         float64     `json:"no2"`
	O3          float64     `json:"o3"`
	CO          float64     `json:"co"`
	SO2         float64     `json:"so2"`
	Timestamp   time.Time   `json:"timestamp"`
	Source      ProviderTag `json:"source"`
	Uncertainty *float64    `json:"uncertainty,omitempty"`
}

// Consistent reports whether AQI matches the index derived from PM25.
func (r AirQualityReading) Consistent() bool {
	return r.AQI == aqi.AQIFromPM25(r.PM25)
}

// WeatherReading holds surface weather conditions.
type WeatherReading struct {
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct"`
	WindSpeedMS  float64   `json:"wind_speed_ms"`
	PressureHpa  float64   `json:"pressure_hpa"`
	PrecipMm     float64   `json:"precip_mm"`
	Condition    string    `json:"condition"`
	Timestamp    time.Time `json:"timestamp"`
}

// EnvironmentalSnapshot is the last-known combined view for a location.
// Snapshots are never mutated; a newer one replaces the old one.
type EnvironmentalSnapshot struct {
	Location   Location          `json:"location"`
	AirQuality AirQualityReading `json:"air_quality"`
	Weather    WeatherReading    `json:"weather"`
	CapturedAt time.Time         `json:"captured_at"`
	Source     ProviderTag       `json:"source"`
}

// ActionKind discriminates queued mutations.
type ActionKind string

const (
	KindTelemetry       ActionKind = "telemetry"
	KindAchievement     ActionKind = "achievement"
	KindGameSession     ActionKind = "game_session"
	KindMissionProgress ActionKind = "mission_progress"
)

// ActionKinds lists every queueable kind.
var ActionKinds = []ActionKind{KindTelemetry, KindAchievement, KindGameSession, KindMissionProgress}

// Table returns the remote table the kind is delivered to.
func (k ActionKind) Table() string {
	switch k {
	case KindTelemetry:
		return "telemetry_events"
	case KindAchievement:
		return "user_achievements"
	case KindGameSession:
		return "game_sessions"
	case KindMissionProgress:
		return "mission_progress"
	default:
		return ""
	}
}

// Valid reports whether k is a known kind.
func (k ActionKind) Valid() bool {
	return k.Table() != ""
}

// QueuedAction is a pending mutation destined for the remote store.
type QueuedAction struct {
	ID            string          `json:"id"`
	Kind          ActionKind      `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// DroppedAction is a ledger entry for an action removed without delivery.
type DroppedAction struct {
	ID          string     `json:"id"`
	ActionID    string     `json:"action_id"`
	Kind        ActionKind `json:"kind"`
	PayloadHash string     `json:"payload_hash"`
	Attempts    int        `json:"attempts"`
	Reason      string     `json:"reason"`
	DroppedAt   time.Time  `json:"dropped_at"`
}
