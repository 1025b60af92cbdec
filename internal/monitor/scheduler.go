package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hostbeat/hostbeat/internal/logger"
	"github.com/hostbeat/hostbeat/internal/metrics"
)

// DefaultInterval is the collection cadence when none is configured.
const DefaultInterval = 5 * time.Second

// CollectFunc gathers one snapshot. The scheduler bounds each call with a
// deadline of twice the interval.
type CollectFunc func(ctx context.Context) (*metrics.Snapshot, error)

// SchedulerStatus is a point-in-time view for status endpoints.
type SchedulerStatus struct {
	Running      bool          `json:"running"`
	Interval     time.Duration `json:"interval"`
	LastTick     time.Time     `json:"last_tick,omitempty"`
	Ticks        uint64        `json:"ticks"`
	SkippedTicks uint64        `json:"skipped_ticks"`
	Failures     uint64        `json:"failures"`
	LastError    string        `json:"last_error,omitempty"`
}

// Scheduler drives periodic collection and publishes every result, good or
// degraded, to the distributor. Ticks are single-flight: when a collection
// is still in flight at the next tick, that tick is skipped rather than
// stacking up slow SSH round trips.
//
// A failed collection publishes an error-tagged snapshot carrying the last
// known values, and the cadence continues. Collection errors never stop the
// scheduler.
type Scheduler struct {
	collect CollectFunc
	dist    *Distributor
	log     logger.Logger

	// ctl serializes Start/Stop; mu guards observable state. The loop
	// goroutine only ever takes mu.
	ctl sync.Mutex
	wg  sync.WaitGroup

	// collectWG tracks in-flight collection goroutines so a restart waits
	// for them; otherwise the restarted loop's immediate tick would be
	// skipped as still-in-flight.
	collectWG sync.WaitGroup

	inFlight atomic.Bool

	// sourceInfo attributes degraded snapshots to the active source.
	// Nil means local.
	sourceInfo func() metrics.SourceInfo

	mu       sync.Mutex
	running  bool
	interval time.Duration
	stopCh   chan struct{}

	lastGood *metrics.Snapshot
	lastPub  *metrics.Snapshot
	lastTick time.Time
	ticks    uint64
	skipped  uint64
	failures uint64
	lastErr  error
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(collect CollectFunc, dist *Distributor, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Default()
	}
	return &Scheduler{
		collect:  collect,
		dist:     dist,
		log:      log,
		interval: DefaultInterval,
	}
}

// SetSourceInfo installs the provider consulted when a failed collection
// needs attributing to the active source. Call before Start.
func (s *Scheduler) SetSourceInfo(fn func() metrics.SourceInfo) {
	s.sourceInfo = fn
}

// Start begins ticking at the given interval, collecting immediately rather
// than waiting out the first period. Starting an already-running scheduler
// with the same interval is a no-op; a different interval restarts the
// cadence.
func (s *Scheduler) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if s.running && s.interval == interval {
		s.mu.Unlock()
		return
	}
	wasRunning := s.running
	stopCh := s.stopCh
	s.mu.Unlock()

	if wasRunning {
		close(stopCh)
		s.wg.Wait()
		s.collectWG.Wait()
	}

	stopCh = make(chan struct{})
	s.mu.Lock()
	s.interval = interval
	s.running = true
	s.stopCh = stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	s.log.Info("scheduler started (interval %s)", interval)
	go s.loop(interval, stopCh)
}

// Stop halts the cadence. Safe to call when already stopped. An in-flight
// collection finishes on its own; nothing new starts.
func (s *Scheduler) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(interval time.Duration, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(interval)
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick(interval)
		}
	}
}

// tick launches one collection unless the previous one is still running.
func (s *Scheduler) tick(interval time.Duration) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		s.log.Debug("tick skipped: collection still in flight")
		return
	}

	s.mu.Lock()
	s.ticks++
	s.lastTick = time.Now()
	s.mu.Unlock()

	s.collectWG.Add(1)
	go func() {
		defer s.collectWG.Done()
		defer s.inFlight.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 2*interval)
		defer cancel()

		snap, err := s.collect(ctx)

		info := metrics.LocalSourceInfo()
		if s.sourceInfo != nil {
			info = s.sourceInfo()
		}

		s.mu.Lock()
		if err != nil {
			s.failures++
			s.lastErr = err
			snap = metrics.ErrorSnapshot(s.lastGood, info)
		} else {
			s.lastErr = nil
			s.lastGood = snap
		}
		s.lastPub = snap
		s.mu.Unlock()

		if err != nil {
			s.log.Warn("collection failed: %v", err)
		}
		s.dist.Publish(snap)
	}()
}

// CollectNow runs one on-demand collection outside the cadence and returns
// the result without publishing it. Used by HTTP pull endpoints.
func (s *Scheduler) CollectNow(ctx context.Context) (*metrics.Snapshot, error) {
	snap, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastGood = snap
	s.mu.Unlock()
	return snap, nil
}

// LastSnapshot returns the most recently published snapshot, which may be
// error-tagged. Nil before the first tick.
func (s *Scheduler) LastSnapshot() *metrics.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPub
}

// Interval returns the current cadence.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Status reports the scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{
		Running:      s.running,
		Interval:     s.interval,
		LastTick:     s.lastTick,
		Ticks:        s.ticks,
		SkippedTicks: s.skipped,
		Failures:     s.failures,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}
