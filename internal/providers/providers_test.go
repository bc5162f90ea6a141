package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cleanspace/airquest/internal/gateway"
	"github.com/cleanspace/airquest/internal/models"
)

var newYork = models.Location{Latitude: 40.7128, Longitude: -74.006}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenMeteoAirQuality(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/air-quality" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("latitude") != "40.7128" {
			t.Errorf("Unexpected latitude %q", r.URL.Query().Get("latitude"))
		}
		w.Write([]byte(`{"current":{"time":"2024-06-01T12:00","pm10":55.2,"pm2_5":40.0,
			"carbon_monoxide":310.0,"nitrogen_dioxide":28.1,"sulphur_dioxide":3.2,"ozone":61.0,"us_aqi":118}}`))
	})

	p := NewOpenMeteoAirQuality(Options{BaseURL: srv.URL})
	r, err := p.Fetch(context.Background(), newYork)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	aq := r.AirQuality
	if aq == nil || aq.PM25 != 40 || aq.AQI != 112 || !aq.Consistent() {
		t.Fatalf("Unexpected air quality: %+v", aq)
	}
	if aq.CO != 0.31 {
		t.Errorf("Expected CO in mg/m³, got %v", aq.CO)
	}
	if !aq.Timestamp.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected timestamp %v", aq.Timestamp)
	}
	if r.Metrics["us_aqi_composite"] != 118 {
		t.Errorf("Expected composite AQI metric, got %v", r.Metrics)
	}
}

func TestOpenMeteoAirQualityMissingData(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current":{"time":"2024-06-01T12:00"}}`))
	})
	if _, err := NewOpenMeteoAirQuality(Options{BaseURL: srv.URL}).Fetch(context.Background(), newYork); err == nil {
		t.Error("Expected error without pm2_5")
	}
}

func TestOpenMeteoWeather(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wind_speed_unit") != "ms" {
			t.Error("Expected m/s wind speed")
		}
		w.Write([]byte(`{"current":{"time":"2024-06-01T12:00","temperature_2m":21.4,"relative_humidity_2m":63,
			"wind_speed_10m":3.1,"surface_pressure":1012.5,"precipitation":0.2,"weather_code":61}}`))
	})

	r, err := NewOpenMeteoWeather(Options{BaseURL: srv.URL}).Fetch(context.Background(), newYork)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if r.Weather == nil || r.Weather.TemperatureC != 21.4 || r.Weather.Condition != "rain" {
		t.Errorf("Unexpected weather: %+v", r.Weather)
	}
}

func TestWeatherCondition(t *testing.T) {
	tests := map[int]string{0: "clear", 2: "partly_cloudy", 3: "cloudy", 45: "fog", 81: "rain", 73: "snow", 95: "thunderstorm", 30: "unknown"}
	for code, want := range tests {
		if got := weatherCondition(code); got != want {
			t.Errorf("weatherCondition(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestOpenAQ(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			t.Errorf("Missing API key header")
		}
		switch r.URL.Path {
		case "/v3/locations":
			w.Write([]byte(`{"results":[
				{"id":7,"name":"Far","distance":9000,"sensors":[]},
				{"id":3,"name":"Near","distance":1200,"sensors":[
					{"id":31,"parameter":{"name":"pm25"}},
					{"id":32,"parameter":{"name":"no2"}}]}]}`))
		case "/v3/locations/3/latest":
			w.Write([]byte(`{"results":[
				{"sensorsId":31,"value":40,"datetime":{"utc":"2024-06-01T11:00:00Z"}},
				{"sensorsId":32,"value":22.5,"datetime":{"utc":"2024-06-01T11:30:00Z"}}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	if NewOpenAQ("", Options{}).Available() {
		t.Error("OpenAQ must be unavailable without a key")
	}

	r, err := NewOpenAQ("k", Options{BaseURL: srv.URL}).Fetch(context.Background(), newYork)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if r.AirQuality.PM25 != 40 || r.AirQuality.AQI != 112 || r.AirQuality.NO2 != 22.5 {
		t.Errorf("Unexpected reading: %+v", r.AirQuality)
	}
	if r.Metrics["station_count"] != 2 || r.Metrics["station_distance"] != 1200 {
		t.Errorf("Unexpected metrics: %v", r.Metrics)
	}
	if !r.AirQuality.Timestamp.Equal(time.Date(2024, 6, 1, 11, 30, 0, 0, time.UTC)) {
		t.Errorf("Expected newest measurement time, got %v", r.AirQuality.Timestamp)
	}
}

func TestNASAFirms(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/area/csv/mapkey/VIIRS_SNPP_NRT/") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("latitude,longitude,bright_ti4,scan,track,acq_date,acq_time,satellite,instrument,confidence,version,bright_ti5,frp,daynight\n" +
			"40.9,-74.2,330.5,0.4,0.4,2024-06-01,512,N,VIIRS,n,2.0NRT,290.1,5.3,D\n" +
			"40.5,-73.9,345.0,0.4,0.4,2024-06-01,1730,N,VIIRS,h,2.0NRT,295.4,12.8,D\n"))
	})

	r, err := NewNASAFirms("mapkey", Options{BaseURL: srv.URL}).Fetch(context.Background(), newYork)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(r.Fires) != 2 || r.Metrics["fire_count"] != 2 {
		t.Fatalf("Expected 2 fires, got %+v", r.Fires)
	}
	if r.Fires[1].FRP != 12.8 || r.Fires[1].Confidence != "h" {
		t.Errorf("Unexpected fire: %+v", r.Fires[1])
	}
	if !r.Fires[0].DetectedAt.Equal(time.Date(2024, 6, 1, 5, 12, 0, 0, time.UTC)) {
		t.Errorf("Unexpected detection time: %v", r.Fires[0].DetectedAt)
	}
}

func TestNASAFirmsEmpty(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("latitude,longitude,bright_ti4,acq_date,acq_time,confidence,frp\n"))
	})
	r, err := NewNASAFirms("mapkey", Options{BaseURL: srv.URL}).Fetch(context.Background(), newYork)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(r.Fires) != 0 {
		t.Errorf("Expected no fires, got %d", len(r.Fires))
	}
}

func TestNASAPower(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("start") != "20240526" || q.Get("end") != "20240601" {
			t.Errorf("Unexpected window %s..%s", q.Get("start"), q.Get("end"))
		}
		w.Write([]byte(`{"properties":{"parameter":{"PRECTOTCORR":{
			"20240530":2.0,"20240531":4.0,"20240601":-999}}}}`))
	})

	p := NewNASAPower(Options{BaseURL: srv.URL})
	p.now = func() time.Time { return time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC) }

	r, err := p.Fetch(context.Background(), newYork)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if r.Metrics["precipitation_mm"] != 4 || r.Metrics["precipitation_mean_mm"] != 3 {
		t.Errorf("Unexpected metrics: %v", r.Metrics)
	}
}

func TestStatusErrors(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := NewOpenMeteoWeather(Options{BaseURL: srv.URL}).Fetch(context.Background(), newYork)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusTooManyRequests {
		t.Errorf("Expected 429 StatusError, got %v", err)
	}
}

func TestProvidersFallBackThroughGateway(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	g := gateway.New(nil, nil)
	g.Register(gateway.RealtimeAQI, NewOpenAQ("", Options{}), NewOpenMeteoAirQuality(Options{BaseURL: srv.URL}))

	r := g.Get(context.Background(), gateway.RealtimeAQI, newYork)
	if !r.Source.IsSynthetic() {
		t.Errorf("Expected synthetic fallback, got %s", r.Source)
	}
}

func TestRateLimiterHonorsContext(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current":{"time":"2024-06-01T12:00","temperature_2m":20}}`))
	})
	p := NewOpenMeteoWeather(Options{BaseURL: srv.URL, RatePerSecond: 0.001, Burst: 1})

	if _, err := p.Fetch(context.Background(), newYork); err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Fetch(ctx, newYork); err == nil {
		t.Error("Expected rate limited fetch to fail once the context expires")
	}
}
