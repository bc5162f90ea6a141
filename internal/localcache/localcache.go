// Package localcache keeps the last-known environmental snapshot and game
// session on local storage so the app can render while offline.
package localcache

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cleanspace/airquest/internal/models"
	"github.com/klauspost/compress/zstd"
)

// Storage keys.
const (
	SnapshotKey = "cached_environmental_snapshot"
	SessionKey  = "cached_game_session"
)

// DefaultMaxAge is the age after which cached data is reported as stale.
const DefaultMaxAge = time.Hour

// KV is the local durable storage the cache writes to.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

type entry struct {
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// Cache stores zstd-compressed JSON entries in a KV.
type Cache struct {
	kv  KV
	enc *zstd.Encoder
	dec *zstd.Decoder
	now func() time.Time

	mu       sync.Mutex
	snapshot *models.EnvironmentalSnapshot
	savedAt  time.Time
}

// New creates a cache over kv and loads any stored snapshot.
func New(kv KV) (*Cache, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	c := &Cache{kv: kv, enc: enc, dec: dec, now: time.Now}

	var snap models.EnvironmentalSnapshot
	savedAt, ok, err := c.read(SnapshotKey, &snap)
	if err != nil {
		return nil, err
	}
	if ok {
		c.snapshot = &snap
		c.savedAt = savedAt
	}
	return c, nil
}

// SetClock overrides the time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Close releases the decoder.
func (c *Cache) Close() {
	c.dec.Close()
}

func (c *Cache) write(key string, v interface{}) (time.Time, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode %s: %w", key, err)
	}
	e := entry{SavedAt: c.now().UTC(), Data: data}
	raw, err := json.Marshal(e)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.kv.Set(key, c.enc.EncodeAll(raw, nil)); err != nil {
		return time.Time{}, fmt.Errorf("save %s: %w", key, err)
	}
	return e.SavedAt, nil
}

// read decodes key into v. Undecodable values are removed and reported as
// missing.
func (c *Cache) read(key string, v interface{}) (time.Time, bool, error) {
	compressed, err := c.kv.Get(key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	if compressed == nil {
		return time.Time{}, false, nil
	}

	raw, err := c.dec.DecodeAll(compressed, nil)
	var e entry
	if err == nil {
		err = json.Unmarshal(raw, &e)
	}
	if err == nil {
		err = json.Unmarshal(e.Data, v)
	}
	if err != nil {
		log.Printf("Discarding corrupted cache entry %s: %v", key, err)
		if err := c.kv.Remove(key); err != nil {
			return time.Time{}, false, fmt.Errorf("reset %s: %w", key, err)
		}
		return time.Time{}, false, nil
	}
	return e.SavedAt, true, nil
}

// SaveSnapshot replaces the cached snapshot.
func (c *Cache) SaveSnapshot(snap models.EnvironmentalSnapshot) error {
	savedAt, err := c.write(SnapshotKey, snap)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = &snap
	c.savedAt = savedAt
	return nil
}

// Snapshot returns the cached snapshot, if any.
func (c *Cache) Snapshot() (models.EnvironmentalSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return models.EnvironmentalSnapshot{}, false
	}
	return *c.snapshot, true
}

// SaveSession stores a serialized game session.
func (c *Cache) SaveSession(session interface{}) error {
	_, err := c.write(SessionKey, session)
	return err
}

// Session decodes the cached game session into v. It reports false when no
// session is cached.
func (c *Cache) Session(v interface{}) (bool, error) {
	_, ok, err := c.read(SessionKey, v)
	return ok, err
}

// HasData reports whether a snapshot is cached.
func (c *Cache) HasData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot != nil
}

// Age returns how long ago the snapshot was saved, or zero with no snapshot.
func (c *Cache) Age(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return 0
	}
	return now.Sub(c.savedAt)
}

// IsStale reports whether the snapshot is missing or older than maxAge.
// A zero maxAge uses DefaultMaxAge.
func (c *Cache) IsStale(maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if !c.HasData() {
		return true
	}
	return c.Age(c.now()) > maxAge
}

// Clear removes the snapshot and session.
func (c *Cache) Clear() error {
	for _, key := range []string{SnapshotKey, SessionKey} {
		if err := c.kv.Remove(key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
	c.savedAt = time.Time{}
	return nil
}
