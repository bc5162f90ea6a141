// Package offline coordinates queue drains with connectivity and app
// visibility, and reports the offline status shown to the player.
package offline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cleanspace/airquest/internal/queue"
	"github.com/cleanspace/airquest/internal/remote"
)

// Errors returned by ForceSync.
var (
	ErrOffline        = errors.New("offline")
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Queue is the part of the action queue the coordinator drives.
type Queue interface {
	Drain(ctx context.Context) (queue.DrainResult, error)
	Len() int
	DroppedCount() int
}

// CacheInfo reports on locally cached environmental data.
type CacheInfo interface {
	HasData() bool
	Age(now time.Time) time.Duration
}

// Status is the observable sync state.
type Status struct {
	Offline       bool          `json:"offline"`
	Syncing       bool          `json:"syncing"`
	QueuedCount   int           `json:"queued_count"`
	LastSyncAt    time.Time     `json:"last_sync_at"`
	HasCachedData bool          `json:"has_cached_data"`
	CacheAge      time.Duration `json:"cache_age"`
	DroppedCount  int           `json:"dropped_count"`
}

// Coordinator drains the queue when connectivity returns, when the app
// comes back to the foreground and on a fixed interval while online.
type Coordinator struct {
	queue  Queue
	cache  CacheInfo
	probe  remote.HealthChecker
	config *Config
	now    func() time.Time

	mu         sync.Mutex
	online     bool
	visible    bool
	syncing    bool
	lastSyncAt time.Time
	listeners  map[int]func(Status)
	nextID     int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator. It starts online and visible.
func New(q Queue, cache CacheInfo, cfg *Config) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		queue:     q,
		cache:     cache,
		config:    cfg,
		now:       time.Now,
		online:    true,
		visible:   true,
		listeners: make(map[int]func(Status)),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetProbe enables connectivity probing against h once started.
func (c *Coordinator) SetProbe(h remote.HealthChecker) {
	c.probe = h
}

// SetClock overrides the time source.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Start begins the periodic sync loop and, if configured, the probe loop.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.syncLoop()
	if c.probe != nil && c.config.ProbeInterval > 0 {
		c.wg.Add(1)
		go c.probeLoop()
	}
	log.Println("Sync coordinator started")
}

// Stop halts the loops and waits for any in-flight drain to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
	log.Println("Sync coordinator stopped")
}

func (c *Coordinator) syncLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.trySync("interval")
		}
	}
}

func (c *Coordinator) probeLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.config.ProbeTimeout)
			err := c.probe.Health(ctx)
			cancel()
			if c.ctx.Err() != nil {
				return
			}
			c.SetOnline(err == nil)
		}
	}
}

// SetOnline records a connectivity change. Going from offline to online
// starts a drain in the background.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	c.mu.Unlock()

	if !changed {
		return
	}
	if online {
		log.Println("Connectivity restored")
		c.syncAsync("reconnect")
	} else {
		log.Println("Connectivity lost")
	}
	c.notify()
}

// SetVisible records a foreground change. Regaining the foreground while
// online starts a drain.
func (c *Coordinator) SetVisible(visible bool) {
	c.mu.Lock()
	regained := visible && !c.visible && c.online
	c.visible = visible
	c.mu.Unlock()

	if regained {
		c.syncAsync("foreground")
	}
}

// ForceSync drains immediately and waits for the result.
func (c *Coordinator) ForceSync(ctx context.Context) (queue.DrainResult, error) {
	return c.sync(ctx, "manual")
}

// syncAsync starts a background drain unless Stop has begun. The check and
// wg.Add hold c.mu, which Stop takes to cancel.
func (c *Coordinator) syncAsync(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.trySync(reason)
	}()
}

func (c *Coordinator) trySync(reason string) {
	_, err := c.sync(c.ctx, reason)
	if err != nil && !errors.Is(err, ErrOffline) && !errors.Is(err, ErrSyncInProgress) {
		log.Printf("Error syncing (%s): %v", reason, err)
	}
}

func (c *Coordinator) sync(ctx context.Context, reason string) (queue.DrainResult, error) {
	c.mu.Lock()
	if !c.online {
		c.mu.Unlock()
		return queue.DrainResult{}, ErrOffline
	}
	if c.syncing {
		c.mu.Unlock()
		return queue.DrainResult{}, ErrSyncInProgress
	}
	c.syncing = true
	c.mu.Unlock()
	c.notify()

	res, err := c.queue.Drain(ctx)
	if errors.Is(err, queue.ErrDrainInProgress) {
		err = ErrSyncInProgress
	}

	c.mu.Lock()
	c.syncing = false
	if err == nil {
		c.lastSyncAt = c.now()
	}
	c.mu.Unlock()
	c.notify()

	if n := len(res.Succeeded) + len(res.Failed); n > 0 {
		log.Printf("Synced %d of %d action(s) (%s)", len(res.Succeeded), n, reason)
	}
	return res, err
}

// Status returns the current sync state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		Offline:    !c.online,
		Syncing:    c.syncing,
		LastSyncAt: c.lastSyncAt,
	}
	c.mu.Unlock()

	st.QueuedCount = c.queue.Len()
	st.DroppedCount = c.queue.DroppedCount()
	if c.cache != nil && c.cache.HasData() {
		st.HasCachedData = true
		st.CacheAge = c.cache.Age(c.now())
	}
	return st
}

// StatusMessage returns the user-facing sync message.
func (c *Coordinator) StatusMessage() string {
	return Message(c.Status())
}

// OnStatusChange registers fn for status changes and returns a function
// that removes it.
func (c *Coordinator) OnStatusChange(fn func(Status)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	fns := make([]func(Status), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	st := c.Status()
	for _, fn := range fns {
		fn(st)
	}
}
