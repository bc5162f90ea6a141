package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cleanspace/airquest/internal/models"
	"github.com/cleanspace/airquest/internal/remote"
)

// mockProvider returns a fixed reading or error and counts calls.
type mockProvider struct {
	name        string
	unavailable bool
	err         error
	panics      bool
	pm25        float64
	calls       int32
	delay       time.Duration
	// waitCtx makes the delay end early when ctx is done.
	waitCtx bool
}

func (m *mockProvider) Name() string    { return m.name }
func (m *mockProvider) Available() bool { return !m.unavailable }

func (m *mockProvider) Fetch(ctx context.Context, loc models.Location) (*Reading, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.delay > 0 && m.waitCtx {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.panics {
		panic("boom")
	}
	if m.err != nil {
		return nil, m.err
	}
	return &Reading{AirQuality: &models.AirQualityReading{AQI: 112, PM25: m.pm25}}, nil
}

func (m *mockProvider) count() int { return int(atomic.LoadInt32(&m.calls)) }

var newYork = models.Location{Latitude: 40.7128, Longitude: -74.0060, City: "New York"}

func TestTTLOrdering(t *testing.T) {
	volatile := []DataType{RealtimeAQI, Fires}
	medium := []DataType{Weather, Precipitation, GroundStations}
	static := []DataType{AIRS, Imagery}

	for _, v := range volatile {
		for _, m := range medium {
			if TTL(v) >= TTL(m) {
				t.Errorf("TTL(%s)=%v should be < TTL(%s)=%v", v, TTL(v), m, TTL(m))
			}
		}
	}
	for _, m := range medium {
		for _, s := range static {
			if TTL(m) >= TTL(s) {
				t.Errorf("TTL(%s)=%v should be < TTL(%s)=%v", m, TTL(m), s, TTL(s))
			}
		}
	}
	for _, dt := range DataTypes {
		if TTL(dt) <= 0 {
			t.Errorf("TTL(%s) must be positive", dt)
		}
	}
}

func TestLocationKey(t *testing.T) {
	tests := []struct {
		loc  models.Location
		want string
	}{
		{newYork, "realtime_aqi:40.71:-74.01"},
		{models.Location{Latitude: 40.7149, Longitude: -74.0051}, "realtime_aqi:40.71:-74.01"},
		{models.Location{Latitude: -0.001, Longitude: 0.004}, "realtime_aqi:0.00:0.00"},
	}
	for _, tt := range tests {
		if got := LocationKey(RealtimeAQI, tt.loc); got != tt.want {
			t.Errorf("LocationKey(%v) = %q, want %q", tt.loc, got, tt.want)
		}
	}
	if LocationKey(RealtimeAQI, newYork) == LocationKey(Weather, newYork) {
		t.Error("Keys must differ by data type")
	}
}

func TestParseDataType(t *testing.T) {
	if dt, err := ParseDataType("fires"); err != nil || dt != Fires {
		t.Errorf("ParseDataType(fires) = %v, %v", dt, err)
	}
	if _, err := ParseDataType("lidar"); err == nil {
		t.Error("Expected error for unknown type")
	}
}

func TestGetCachesProviderResult(t *testing.T) {
	mem := remote.NewMemory()
	p := &mockProvider{name: "primary", pm25: 40}
	g := New(mem, nil)
	g.Register(RealtimeAQI, p)

	first := g.Get(context.Background(), RealtimeAQI, newYork)
	if first.Source != "primary" || first.Cached {
		t.Fatalf("Unexpected first reading: %+v", first)
	}

	second := g.Get(context.Background(), RealtimeAQI, newYork)
	if p.count() != 1 {
		t.Errorf("Expected 1 provider call, got %d", p.count())
	}
	if !second.Cached || second.AirQuality == nil || second.AirQuality.PM25 != 40 {
		t.Errorf("Expected cached reading, got %+v", second)
	}

	rows := mem.Rows(CacheTable)
	if len(rows) != 1 || rows[0]["cache_key"] != "realtime_aqi:40.71:-74.01" {
		t.Errorf("Unexpected cache rows: %+v", rows)
	}
}

func TestGetRefetchesAfterTTL(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p := &mockProvider{name: "primary", pm25: 40}
	g := New(remote.NewMemory(), nil)
	g.SetClock(func() time.Time { return now })
	g.Register(RealtimeAQI, p)

	g.Get(context.Background(), RealtimeAQI, newYork)
	now = now.Add(TTL(RealtimeAQI) + time.Second)
	g.Get(context.Background(), RealtimeAQI, newYork)

	if p.count() != 2 {
		t.Errorf("Expected refetch after expiry, got %d calls", p.count())
	}
}

func TestGetFallsBackInPriorityOrder(t *testing.T) {
	failing := &mockProvider{name: "failing", err: errors.New("503")}
	offline := &mockProvider{name: "offline", unavailable: true}
	panicky := &mockProvider{name: "panicky", panics: true}
	backup := &mockProvider{name: "backup", pm25: 12}

	g := New(remote.NewMemory(), nil)
	g.Register(RealtimeAQI, failing, offline, panicky)
	g.Register(RealtimeAQI, backup)

	r := g.Get(context.Background(), RealtimeAQI, newYork)
	if r.Source != "backup" {
		t.Errorf("Expected backup provider, got %s", r.Source)
	}
	if offline.count() != 0 {
		t.Error("Unavailable provider must not be called")
	}
	if failing.count() != 1 || panicky.count() != 1 {
		t.Errorf("Expected one call each, got failing=%d panicky=%d", failing.count(), panicky.count())
	}
	if names := g.Providers(RealtimeAQI); len(names) != 4 || names[3] != "backup" {
		t.Errorf("Unexpected provider order: %v", names)
	}
}

func TestGetSyntheticWhenAllFail(t *testing.T) {
	mem := remote.NewMemory()
	g := New(mem, nil)
	g.Register(RealtimeAQI, &mockProvider{name: "a", err: errors.New("down")})

	r := g.Get(context.Background(), RealtimeAQI, newYork)
	if !r.Source.IsSynthetic() {
		t.Fatalf("Expected synthetic reading, got %s", r.Source)
	}
	if r.AirQuality == nil || r.AirQuality.AQI <= 0 || !r.AirQuality.Consistent() {
		t.Errorf("Unexpected synthetic air quality: %+v", r.AirQuality)
	}
	if len(mem.Rows(CacheTable)) != 0 {
		t.Error("Synthetic readings must not be cached")
	}

	again := g.Get(context.Background(), RealtimeAQI, newYork)
	if again.AirQuality.PM25 != r.AirQuality.PM25 {
		t.Error("Synthetic readings must be deterministic per location")
	}
}

func TestGetWithoutProvidersOrRemote(t *testing.T) {
	g := New(nil, nil)
	for _, dt := range DataTypes {
		r := g.Get(context.Background(), dt, newYork)
		if !r.Source.IsSynthetic() || r.DataType != dt {
			t.Errorf("%s: expected synthetic reading, got %+v", dt, r)
		}
	}
}

func TestGetTreatsUnreachableCacheAsMiss(t *testing.T) {
	mem := remote.NewMemory()
	mem.SetReachable(false)
	p := &mockProvider{name: "primary", pm25: 40}
	g := New(mem, nil)
	g.Register(RealtimeAQI, p)

	r := g.Get(context.Background(), RealtimeAQI, newYork)
	if r.Source != "primary" {
		t.Errorf("Expected provider reading, got %s", r.Source)
	}
}

func TestConcurrentGetsCollapse(t *testing.T) {
	p := &mockProvider{name: "slow", pm25: 40, delay: 50 * time.Millisecond}
	g := New(nil, nil)
	g.Register(RealtimeAQI, p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Get(context.Background(), RealtimeAQI, newYork)
		}()
	}
	wg.Wait()

	if p.count() > 2 {
		t.Errorf("Expected concurrent gets to share a fetch, got %d calls", p.count())
	}
}

func TestSharedGetSurvivesFirstCallerCancel(t *testing.T) {
	p := &mockProvider{name: "slow", pm25: 40, delay: 50 * time.Millisecond, waitCtx: true}
	g := New(nil, nil)
	g.Register(RealtimeAQI, p)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan Reading, 1)
	go func() { first <- g.Get(ctx, RealtimeAQI, newYork) }()

	deadline := time.Now().Add(time.Second)
	for p.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	second := make(chan Reading, 1)
	go func() { second <- g.Get(context.Background(), RealtimeAQI, newYork) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	for name, ch := range map[string]chan Reading{"first": first, "second": second} {
		r := <-ch
		if r.AirQuality == nil || r.AirQuality.PM25 != 40 || r.Source != "slow" {
			t.Errorf("%s caller: expected the provider reading, got %+v", name, r)
		}
	}
	if p.count() != 1 {
		t.Errorf("Expected one shared fetch, got %d", p.count())
	}
}

type mockSaver struct {
	saved []models.EnvironmentalSnapshot
}

func (m *mockSaver) SaveSnapshot(s models.EnvironmentalSnapshot) error {
	m.saved = append(m.saved, s)
	return nil
}

func TestSnapshot(t *testing.T) {
	saver := &mockSaver{}
	g := New(remote.NewMemory(), saver)
	g.Register(RealtimeAQI, &mockProvider{name: "primary", pm25: 40})

	snap := g.Snapshot(context.Background(), newYork)
	if snap.AirQuality.PM25 != 40 || snap.Source != "primary" {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
	if snap.Weather.Condition == "" {
		t.Error("Expected synthetic weather to fill the snapshot")
	}
	if len(saver.saved) != 1 {
		t.Fatalf("Expected snapshot saved, got %d", len(saver.saved))
	}

	synthetic := New(nil, saver)
	synthetic.Snapshot(context.Background(), newYork)
	if len(saver.saved) != 1 {
		t.Error("Synthetic snapshots must not replace the cached one")
	}
}

func TestSyntheticCoversEveryType(t *testing.T) {
	now := time.Now()
	for _, dt := range DataTypes {
		r := Synthetic(dt, newYork, LocationKey(dt, newYork), now)
		switch dt {
		case RealtimeAQI, GroundStations:
			if r.AirQuality == nil {
				t.Errorf("%s: missing air quality", dt)
			}
		case Weather:
			if r.Weather == nil {
				t.Errorf("%s: missing weather", dt)
			}
		case Fires:
		default:
			if len(r.Metrics) == 0 {
				t.Errorf("%s: missing metrics", dt)
			}
		}
	}
}
