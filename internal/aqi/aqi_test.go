package aqi

import (
	"math"
	"testing"
)

func TestAQIFromPM25Breakpoints(t *testing.T) {
	tests := []struct {
		pm25 float64
		want int
	}{
		{0, 0},
		{6.0, 25},
		{12.0, 50},
		{12.1, 51},
		{35.4, 100},
		{35.5, 101},
		{40, 112},
		{55.4, 150},
		{55.5, 151},
		{150.4, 200},
		{250.4, 300},
		{500.4, 500},
	}

	for _, tt := range tests {
		if got := AQIFromPM25(tt.pm25); got != tt.want {
			t.Errorf("AQIFromPM25(%v) = %d, want %d", tt.pm25, got, tt.want)
		}
	}
}

func TestAQIFromPM25ExtrapolatesAboveTable(t *testing.T) {
	got := AQIFromPM25(600)
	if got <= 500 {
		t.Fatalf("Expected extrapolation above 500, got %d", got)
	}
	slope := 199.0 / 249.9
	want := int(math.Round(slope*(600-250.5) + 301))
	if got != want {
		t.Errorf("AQIFromPM25(600) = %d, want %d", got, want)
	}
}

func TestAQIFromPM25Total(t *testing.T) {
	for _, in := range []float64{-5, math.NaN(), math.Inf(-1)} {
		if got := AQIFromPM25(in); got != 0 {
			t.Errorf("AQIFromPM25(%v) = %d, want 0", in, got)
		}
	}
	if got := AQIFromPM25(math.Inf(1)); got <= 500 {
		t.Errorf("AQIFromPM25(+Inf) = %d, want large value", got)
	}
}

func TestAQIFromPM25Monotonic(t *testing.T) {
	prev := AQIFromPM25(0)
	for pm := 0.0; pm <= 700; pm += 0.01 {
		got := AQIFromPM25(pm)
		if got < prev {
			t.Fatalf("AQI decreased at pm25=%.2f: %d < %d", pm, got, prev)
		}
		prev = got
	}
}

func TestHealthPrecautionBands(t *testing.T) {
	tests := []struct {
		aqi   int
		level Level
		mask  bool
		avoid bool
	}{
		{0, LevelGood, false, false},
		{50, LevelGood, false, false},
		{51, LevelModerate, false, false},
		{100, LevelModerate, false, false},
		{101, LevelUnhealthySensitive, true, false},
		{150, LevelUnhealthySensitive, true, false},
		{151, LevelUnhealthy, true, true},
		{200, LevelUnhealthy, true, true},
		{201, LevelVeryUnhealthy, true, true},
		{300, LevelVeryUnhealthy, true, true},
		{301, LevelHazardous, true, true},
		{999, LevelHazardous, true, true},
	}

	for _, tt := range tests {
		hp := HealthPrecautionsFromAQI(tt.aqi)
		if hp.Level != tt.level {
			t.Errorf("aqi %d: level = %s, want %s", tt.aqi, hp.Level, tt.level)
		}
		if hp.MaskRequired != tt.mask || hp.AvoidOutdoorActivity != tt.avoid {
			t.Errorf("aqi %d: mask=%v avoid=%v", tt.aqi, hp.MaskRequired, hp.AvoidOutdoorActivity)
		}
		if hp.Message == "" || len(hp.Recommendations) == 0 {
			t.Errorf("aqi %d: missing advisory text", tt.aqi)
		}
	}
}

func TestHealthPrecautionRecommendationsAreCopied(t *testing.T) {
	hp := HealthPrecautionsFromAQI(10)
	hp.Recommendations[0] = "mutated"
	if HealthPrecautionsFromAQI(10).Recommendations[0] == "mutated" {
		t.Error("Callers must not be able to mutate the shared table")
	}
}

func TestNewYorkScenario(t *testing.T) {
	// 40 µg/m³ sits in the 35.5–55.4 segment.
	aqi := AQIFromPM25(40)
	if aqi < 101 || aqi > 150 {
		t.Fatalf("Expected AQI in 101..150, got %d", aqi)
	}
	hp := HealthPrecautionsFromAQI(aqi)
	if hp.Level != LevelUnhealthySensitive {
		t.Errorf("Expected unhealthy_sensitive, got %s", hp.Level)
	}
	if !hp.MaskRequired {
		t.Error("Expected mask required")
	}
}

func TestPM25FromAQIInverts(t *testing.T) {
	for _, a := range []int{25, 50, 75, 100, 125, 175, 250, 400} {
		if got := AQIFromPM25(PM25FromAQI(a)); got != a {
			t.Errorf("AQIFromPM25(PM25FromAQI(%d)) = %d", a, got)
		}
	}
}

func TestCategoryForAQI(t *testing.T) {
	if c := CategoryForAQI(42); c.Name != "Good" {
		t.Errorf("Expected Good, got %s", c.Name)
	}
	if c := CategoryForAQI(350); c.Name != "Hazardous" {
		t.Errorf("Expected Hazardous, got %s", c.Name)
	}
}
