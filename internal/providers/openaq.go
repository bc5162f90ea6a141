package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cleanspace/airquest/internal/aqi"
	"github.com/cleanspace/airquest/internal/gateway"
	"github.com/cleanspace/airquest/internal/models"
)

const openAQBase = "https://api.openaq.org"

// OpenAQ reads the nearest ground monitoring station from OpenAQ v3. It
// serves both ground_stations and realtime_aqi.
type OpenAQ struct {
	c      *client
	apiKey string
	radius int
}

// NewOpenAQ creates the provider. It is unavailable without an API key.
func NewOpenAQ(apiKey string, opts Options) *OpenAQ {
	return &OpenAQ{c: newClient(opts, openAQBase, 1), apiKey: apiKey, radius: 25000}
}

func (p *OpenAQ) Name() string    { return "openaq" }
func (p *OpenAQ) Available() bool { return p.apiKey != "" }

type openAQLocation struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
	Sensors  []struct {
		ID        int `json:"id"`
		Parameter struct {
			Name string `json:"name"`
		} `json:"parameter"`
	} `json:"sensors"`
}

// Fetch implements gateway.Provider.
func (p *OpenAQ) Fetch(ctx context.Context, loc models.Location) (*gateway.Reading, error) {
	headers := map[string]string{"X-API-Key": p.apiKey}

	q := url.Values{}
	q.Set("coordinates", fmt.Sprintf("%.4f,%.4f", loc.Latitude, loc.Longitude))
	q.Set("radius", strconv.Itoa(p.radius))
	q.Set("limit", "10")

	var locs struct {
		Results []openAQLocation `json:"results"`
	}
	if err := p.c.getJSON(ctx, "/v3/locations?"+q.Encode(), headers, &locs); err != nil {
		return nil, err
	}
	if len(locs.Results) == 0 {
		return nil, fmt.Errorf("no stations within %dm", p.radius)
	}

	nearest := locs.Results[0]
	for _, l := range locs.Results[1:] {
		if l.Distance < nearest.Distance {
			nearest = l
		}
	}
	params := make(map[int]string, len(nearest.Sensors))
	for _, s := range nearest.Sensors {
		params[s.ID] = s.Parameter.Name
	}

	var latest struct {
		Results []struct {
			SensorID int     `json:"sensorsId"`
			Value    float64 `json:"value"`
			Datetime struct {
				UTC string `json:"utc"`
			} `json:"datetime"`
		} `json:"results"`
	}
	if err := p.c.getJSON(ctx, fmt.Sprintf("/v3/locations/%d/latest", nearest.ID), headers, &latest); err != nil {
		return nil, err
	}

	reading := models.AirQualityReading{Source: models.ProviderTag(p.Name())}
	hasPM25 := false
	for _, m := range latest.Results {
		switch params[m.SensorID] {
		case "pm25":
			reading.PM25 = m.Value
			hasPM25 = true
		case "pm10":
			reading.PM10 = m.Value
		case "no2":
			reading.NO2 = m.Value
		case "o3":
			reading.O3 = m.Value
		case "co":
			reading.CO = m.Value
		case "so2":
			reading.SO2 = m.Value
		default:
			continue
		}
		if ts, err := time.Parse(time.RFC3339, m.Datetime.UTC); err == nil && ts.After(reading.Timestamp) {
			reading.Timestamp = ts
		}
	}
	if !hasPM25 {
		return nil, fmt.Errorf("station %d reports no pm25", nearest.ID)
	}
	reading.AQI = aqi.AQIFromPM25(reading.PM25)

	return &gateway.Reading{
		AirQuality: &reading,
		Metrics: map[string]float64{
			"station_count":    float64(len(locs.Results)),
			"station_distance": nearest.Distance,
		},
		FetchedAt: time.Now().UTC(),
	}, nil
}
