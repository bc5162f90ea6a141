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

const (
	openMeteoAirBase     = "https://air-quality-api.open-meteo.com"
	openMeteoWeatherBase = "https://api.open-meteo.com"
	openMeteoTimeLayout  = "2006-01-02T15:04"
)

func coords(loc models.Location) url.Values {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	return q
}

func parseOpenMeteoTime(s string) time.Time {
	t, err := time.Parse(openMeteoTimeLayout, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}

// OpenMeteoAirQuality serves realtime_aqi from the keyless Open-Meteo air
// quality API.
type OpenMeteoAirQuality struct {
	c *client
}

// NewOpenMeteoAirQuality creates the provider.
func NewOpenMeteoAirQuality(opts Options) *OpenMeteoAirQuality {
	return &OpenMeteoAirQuality{c: newClient(opts, openMeteoAirBase, 5)}
}

func (p *OpenMeteoAirQuality) Name() string    { return "open-meteo-air" }
func (p *OpenMeteoAirQuality) Available() bool { return true }

// Fetch implements gateway.Provider.
func (p *OpenMeteoAirQuality) Fetch(ctx context.Context, loc models.Location) (*gateway.Reading, error) {
	q := coords(loc)
	q.Set("current", "pm10,pm2_5,carbon_monoxide,nitrogen_dioxide,sulphur_dioxide,ozone,us_aqi")
	q.Set("timezone", "GMT")

	var resp struct {
		Current *struct {
			Time  string   `json:"time"`
			PM10  float64  `json:"pm10"`
			PM25  *float64 `json:"pm2_5"`
			CO    float64  `json:"carbon_monoxide"`
			NO2   float64  `json:"nitrogen_dioxide"`
			SO2   float64  `json:"sulphur_dioxide"`
			O3    float64  `json:"ozone"`
			USAQI *float64 `json:"us_aqi"`
		} `json:"current"`
	}
	if err := p.c.getJSON(ctx, "/v1/air-quality?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Current == nil || resp.Current.PM25 == nil {
		return nil, fmt.Errorf("response has no current pm2_5")
	}

	cur := resp.Current
	ts := parseOpenMeteoTime(cur.Time)
	// The index is recomputed from PM2.5 so it stays consistent with the
	// concentration; us_aqi blends several pollutants.
	reading := models.AirQualityReading{
		AQI:       aqi.AQIFromPM25(*cur.PM25),
		PM25:      *cur.PM25,
		PM10:      cur.PM10,
		NO2:       cur.NO2,
		O3:        cur.O3,
		CO:        cur.CO / 1000,
		SO2:       cur.SO2,
		Timestamp: ts,
		Source:    models.ProviderTag(p.Name()),
	}
	r := &gateway.Reading{AirQuality: &reading, FetchedAt: time.Now().UTC()}
	if cur.USAQI != nil {
		r.Metrics = map[string]float64{"us_aqi_composite": *cur.USAQI}
	}
	return r, nil
}

// OpenMeteoWeather serves weather from the keyless Open-Meteo forecast API.
type OpenMeteoWeather struct {
	c *client
}

// NewOpenMeteoWeather creates the provider.
func NewOpenMeteoWeather(opts Options) *OpenMeteoWeather {
	return &OpenMeteoWeather{c: newClient(opts, openMeteoWeatherBase, 5)}
}

func (p *OpenMeteoWeather) Name() string    { return "open-meteo-weather" }
func (p *OpenMeteoWeather) Available() bool { return true }

// Fetch implements gateway.Provider.
func (p *OpenMeteoWeather) Fetch(ctx context.Context, loc models.Location) (*gateway.Reading, error) {
	q := coords(loc)
	q.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,surface_pressure,precipitation,weather_code")
	q.Set("wind_speed_unit", "ms")
	q.Set("timezone", "GMT")

	var resp struct {
		Current *struct {
			Time        string  `json:"time"`
			Temperature float64 `json:"temperature_2m"`
			Humidity    float64 `json:"relative_humidity_2m"`
			WindSpeed   float64 `json:"wind_speed_10m"`
			Pressure    float64 `json:"surface_pressure"`
			Precip      float64 `json:"precipitation"`
			WeatherCode int     `json:"weather_code"`
		} `json:"current"`
	}
	if err := p.c.getJSON(ctx, "/v1/forecast?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Current == nil {
		return nil, fmt.Errorf("response has no current conditions")
	}

	cur := resp.Current
	return &gateway.Reading{
		Weather: &models.WeatherReading{
			TemperatureC: cur.Temperature,
			HumidityPct:  cur.Humidity,
			WindSpeedMS:  cur.WindSpeed,
			PressureHpa:  cur.Pressure,
			PrecipMm:     cur.Precip,
			Condition:    weatherCondition(cur.WeatherCode),
			Timestamp:    parseOpenMeteoTime(cur.Time),
		},
		FetchedAt: time.Now().UTC(),
	}, nil
}

// weatherCondition maps a WMO weather code to a coarse condition.
func weatherCondition(code int) string {
	switch {
	case code == 0:
		return "clear"
	case code <= 2:
		return "partly_cloudy"
	case code == 3:
		return "cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 67, code >= 80 && code <= 82:
		return "rain"
	case code >= 71 && code <= 77, code == 85 || code == 86:
		return "snow"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown"
	}
}
