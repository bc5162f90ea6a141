package gateway

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cleanspace/airquest/internal/models"
)

// DataType is a category of environmental data with its own freshness.
type DataType string

const (
	RealtimeAQI    DataType = "realtime_aqi"
	Fires          DataType = "fires"
	Precipitation  DataType = "precipitation"
	GroundStations DataType = "ground_stations"
	Imagery        DataType = "imagery"
	AIRS           DataType = "airs"
	Weather        DataType = "weather"
)

// DataTypes lists every data type.
var DataTypes = []DataType{RealtimeAQI, Fires, Precipitation, GroundStations, Imagery, AIRS, Weather}

var ttls = map[DataType]time.Duration{
	RealtimeAQI:    10 * time.Minute,
	Fires:          15 * time.Minute,
	Weather:        30 * time.Minute,
	Precipitation:  time.Hour,
	GroundStations: time.Hour,
	AIRS:           6 * time.Hour,
	Imagery:        24 * time.Hour,
}

// TTL returns how long a reading of dt stays fresh. Unknown types get the
// shortest TTL.
func TTL(dt DataType) time.Duration {
	if d, ok := ttls[dt]; ok {
		return d
	}
	return ttls[RealtimeAQI]
}

// ParseDataType validates s.
func ParseDataType(s string) (DataType, error) {
	dt := DataType(s)
	if _, ok := ttls[dt]; !ok {
		return "", fmt.Errorf("unknown data type %q", s)
	}
	return dt, nil
}

// LocationKey is the cache key for dt at loc. Coordinates are rounded to two
// decimals, roughly 1.1 km.
func LocationKey(dt DataType, loc models.Location) string {
	return fmt.Sprintf("%s:%.2f:%.2f", dt, quantize(loc.Latitude), quantize(loc.Longitude))
}

func quantize(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0 // drop the sign of -0
	}
	return r
}

// Fire is a single active fire detection.
type Fire struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Brightness float64   `json:"brightness"`
	FRP        float64   `json:"frp"`
	Confidence string    `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

// Reading is the normalized result of a gateway lookup. Which fields are set
// depends on DataType; Metrics carries scalar series such as precipitation or
// aerosol depth.
type Reading struct {
	DataType   DataType                  `json:"data_type"`
	Location   models.Location           `json:"location"`
	AirQuality *models.AirQualityReading `json:"air_quality,omitempty"`
	Weather    *models.WeatherReading    `json:"weather,omitempty"`
	Fires      []Fire                    `json:"fires,omitempty"`
	Metrics    map[string]float64        `json:"metrics,omitempty"`
	Source     models.ProviderTag        `json:"source"`
	FetchedAt  time.Time                 `json:"fetched_at"`
	Cached     bool                      `json:"cached"`
}

// Provider fetches one data type from an external service.
type Provider interface {
	Name() string
	// Available reports whether the provider can be called at all, for
	// example whether its API key is configured.
	Available() bool
	Fetch(ctx context.Context, loc models.Location) (*Reading, error)
}
