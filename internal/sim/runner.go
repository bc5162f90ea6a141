package sim

import (
	"context"
	"log"
	"sync"
	"time"
)

// Runner drives an engine on a wall-clock ticker until the session ends.
// Speed scales simulated time relative to wall time.
type Runner struct {
	engine   *Engine
	interval time.Duration
	speed    float64
	done     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRunner creates a runner ticking every interval.
func NewRunner(e *Engine, interval time.Duration, speed float64) *Runner {
	if interval <= 0 {
		interval = time.Second
	}
	if speed <= 0 {
		speed = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		engine:   e,
		interval: interval,
		speed:    speed,
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins ticking.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop halts the ticker and waits for the loop to exit.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Done is closed once the session reaches a terminal phase.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	step := time.Duration(float64(r.interval) * r.speed)
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.engine.Tick(step)
			if phase := r.engine.Phase(); phase.Terminal() {
				st := r.engine.Snapshot()
				log.Printf("Session %s %s with AQI %d (target %d)", st.SessionID, phase, st.CurrentAQI, st.TargetAQI)
				r.once.Do(func() { close(r.done) })
				return
			}
		}
	}
}
