package gateway

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/cleanspace/airquest/internal/aqi"
	"github.com/cleanspace/airquest/internal/models"
)

// Synthetic builds a plausible reading from a seed derived from key, so the
// same location always yields the same values.
func Synthetic(dt DataType, loc models.Location, key string, now time.Time) Reading {
	h := fnv.New64a()
	h.Write([]byte(key))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	r := Reading{
		DataType:  dt,
		Location:  loc,
		Source:    models.SourceSynthetic,
		FetchedAt: now,
	}

	switch dt {
	case RealtimeAQI, GroundStations:
		aq := syntheticAirQuality(rng, now)
		r.AirQuality = &aq
		if dt == GroundStations {
			r.Metrics = map[string]float64{"station_count": float64(1 + rng.Intn(8))}
		}
	case Weather:
		r.Weather = &models.WeatherReading{
			TemperatureC: round1(5 + rng.Float64()*25),
			HumidityPct:  round1(30 + rng.Float64()*60),
			WindSpeedMS:  round1(rng.Float64() * 10),
			PressureHpa:  round1(995 + rng.Float64()*30),
			PrecipMm:     round1(rng.Float64() * 2),
			Condition:    []string{"clear", "partly_cloudy", "cloudy", "rain"}[rng.Intn(4)],
			Timestamp:    now,
		}
	case Fires:
		n := rng.Intn(4)
		for i := 0; i < n; i++ {
			r.Fires = append(r.Fires, Fire{
				Latitude:   loc.Latitude + (rng.Float64()-0.5)*0.5,
				Longitude:  loc.Longitude + (rng.Float64()-0.5)*0.5,
				Brightness: round1(300 + rng.Float64()*100),
				FRP:        round1(rng.Float64() * 50),
				Confidence: []string{"low", "nominal", "high"}[rng.Intn(3)],
				DetectedAt: now.Add(-time.Duration(rng.Intn(12)) * time.Hour),
			})
		}
	case Precipitation:
		r.Metrics = map[string]float64{
			"precipitation_mm": round1(rng.Float64() * 8),
			"probability_pct":  round1(rng.Float64() * 100),
		}
	case Imagery:
		r.Metrics = map[string]float64{
			"aerosol_optical_depth": round3(0.05 + rng.Float64()*0.6),
			"cloud_fraction":        round3(rng.Float64()),
		}
	case AIRS:
		r.Metrics = map[string]float64{
			"co_total_column_ppbv": round1(60 + rng.Float64()*80),
			"o3_total_column_du":   round1(250 + rng.Float64()*100),
		}
	}
	return r
}

func syntheticAirQuality(rng *rand.Rand, now time.Time) models.AirQualityReading {
	pm25 := round1(5 + rng.Float64()*55)
	uncertainty := 0.35
	return models.AirQualityReading{
		AQI:         aqi.AQIFromPM25(pm25),
		PM25:        pm25,
		PM10:        round1(pm25 * (1.3 + rng.Float64()*0.6)),
		NO2:         round1(5 + rng.Float64()*45),
		O3:          round1(20 + rng.Float64()*80),
		CO:          round3(0.1 + rng.Float64()*0.9),
		SO2:         round1(rng.Float64() * 15),
		Timestamp:   now,
		Source:      models.SourceSynthetic,
		Uncertainty: &uncertainty,
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
