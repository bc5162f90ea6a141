// Package gateway resolves environmental data through a shared remote cache,
// a prioritized list of external providers and a synthetic fallback.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cleanspace/airquest/internal/models"
	"github.com/cleanspace/airquest/internal/remote"
	"golang.org/x/sync/singleflight"
)

// CacheTable is the remote table holding cached readings.
const CacheTable = "cache"

// ResolveTimeout bounds a shared lookup. The lookup outlives the caller
// that started it, since later callers wait on the same result.
const ResolveTimeout = 20 * time.Second

// SnapshotSaver persists the last combined snapshot locally.
type SnapshotSaver interface {
	SaveSnapshot(snap models.EnvironmentalSnapshot) error
}

// Gateway is the single entry point for environmental data.
type Gateway struct {
	remote    remote.Store
	snapshots SnapshotSaver
	now       func() time.Time

	mu        sync.RWMutex
	providers map[DataType][]Provider

	group singleflight.Group
}

// New creates a gateway. rs may be nil, in which case the remote cache is
// skipped. snapshots may be nil.
func New(rs remote.Store, snapshots SnapshotSaver) *Gateway {
	return &Gateway{
		remote:    rs,
		snapshots: snapshots,
		now:       time.Now,
		providers: make(map[DataType][]Provider),
	}
}

// SetClock overrides the time source.
func (g *Gateway) SetClock(now func() time.Time) {
	g.now = now
}

// Register appends providers for dt. Earlier registrations have priority.
func (g *Gateway) Register(dt DataType, providers ...Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[dt] = append(g.providers[dt], providers...)
}

// Providers returns the registered provider names for dt in priority order.
func (g *Gateway) Providers(dt DataType) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.providers[dt]))
	for _, p := range g.providers[dt] {
		names = append(names, p.Name())
	}
	return names
}

// Get returns a reading for dt at loc. It never fails: when the cache misses
// and every provider fails, a synthetic reading is returned.
func (g *Gateway) Get(ctx context.Context, dt DataType, loc models.Location) Reading {
	key := LocationKey(dt, loc)
	v, _, _ := g.group.Do(key, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ResolveTimeout)
		defer cancel()
		return g.resolve(rctx, dt, loc, key), nil
	})
	return v.(Reading)
}

func (g *Gateway) resolve(ctx context.Context, dt DataType, loc models.Location, key string) Reading {
	if r, ok := g.readCache(ctx, key); ok {
		return r
	}

	g.mu.RLock()
	providers := append([]Provider(nil), g.providers[dt]...)
	g.mu.RUnlock()

	for _, p := range providers {
		if !p.Available() {
			continue
		}
		r, err := safeFetch(ctx, p, loc)
		if err != nil {
			log.Printf("Provider %s failed for %s: %v", p.Name(), key, err)
			continue
		}
		if r == nil {
			continue
		}

		r.DataType = dt
		r.Location = loc
		if r.Source == "" {
			r.Source = models.ProviderTag(p.Name())
		}
		if r.FetchedAt.IsZero() {
			r.FetchedAt = g.now()
		}
		if r.AirQuality != nil && !r.AirQuality.Consistent() {
			log.Printf("Provider %s reported AQI %d inconsistent with PM2.5 %.1f", p.Name(), r.AirQuality.AQI, r.AirQuality.PM25)
		}

		g.writeCache(ctx, dt, key, *r)
		return *r
	}

	return Synthetic(dt, loc, key, g.now())
}

// safeFetch calls p.Fetch and turns a panic into an error.
func safeFetch(ctx context.Context, p Provider, loc models.Location) (r *Reading, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = fmt.Errorf("provider panic: %v", rec)
		}
	}()
	return p.Fetch(ctx, loc)
}

func (g *Gateway) readCache(ctx context.Context, key string) (Reading, bool) {
	if g.remote == nil {
		return Reading{}, false
	}

	rows, err := g.remote.SelectRows(ctx, CacheTable, remote.Filter{remote.Eq("cache_key", key)},
		&remote.Order{Column: "expires_at", Desc: true}, 1)
	if err != nil {
		log.Printf("Cache lookup failed for %s: %v", key, err)
		return Reading{}, false
	}
	if len(rows) == 0 {
		return Reading{}, false
	}

	row := rows[0]
	expires, err := parseTime(row["expires_at"])
	if err != nil || !expires.After(g.now()) {
		return Reading{}, false
	}

	r, err := decodePayload(row["payload"])
	if err != nil {
		log.Printf("Discarding unreadable cache row %s: %v", key, err)
		return Reading{}, false
	}
	r.Cached = true
	return r, true
}

func (g *Gateway) writeCache(ctx context.Context, dt DataType, key string, r Reading) {
	if g.remote == nil {
		return
	}

	payload, err := encodePayload(r)
	if err != nil {
		log.Printf("Error encoding cache payload for %s: %v", key, err)
		return
	}
	now := g.now().UTC()
	row := remote.Row{
		"cache_key":  key,
		"data_type":  string(dt),
		"payload":    payload,
		"source":     string(r.Source),
		"expires_at": now.Add(TTL(dt)).Format(time.RFC3339Nano),
		"updated_at": now.Format(time.RFC3339Nano),
	}
	if _, err := g.remote.UpsertRow(ctx, CacheTable, row, "cache_key"); err != nil {
		log.Printf("Error writing cache row %s: %v", key, err)
	}
}

func encodePayload(r Reading) (map[string]interface{}, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodePayload(v interface{}) (Reading, error) {
	var data []byte
	switch p := v.(type) {
	case nil:
		return Reading{}, fmt.Errorf("missing payload")
	case string:
		data = []byte(p)
	case []byte:
		data = p
	default:
		var err error
		if data, err = json.Marshal(p); err != nil {
			return Reading{}, err
		}
	}
	var r Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func parseTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	default:
		return time.Time{}, fmt.Errorf("unexpected time value %T", v)
	}
}

// Snapshot combines current air quality and weather for loc. Snapshots backed
// by a real provider are saved to the local cache.
func (g *Gateway) Snapshot(ctx context.Context, loc models.Location) models.EnvironmentalSnapshot {
	var aq, wx Reading
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		aq = g.Get(ctx, RealtimeAQI, loc)
	}()
	go func() {
		defer wg.Done()
		wx = g.Get(ctx, Weather, loc)
	}()
	wg.Wait()

	snap := models.EnvironmentalSnapshot{
		Location:   loc,
		CapturedAt: g.now().UTC(),
		Source:     aq.Source,
	}
	if aq.AirQuality != nil {
		snap.AirQuality = *aq.AirQuality
	}
	if wx.Weather != nil {
		snap.Weather = *wx.Weather
	}

	if g.snapshots != nil && !snap.Source.IsSynthetic() {
		if err := g.snapshots.SaveSnapshot(snap); err != nil {
			log.Printf("Error caching snapshot: %v", err)
		}
	}
	return snap
}
