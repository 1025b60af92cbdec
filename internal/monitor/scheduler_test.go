package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbeat/hostbeat/internal/logger"
	"github.com/hostbeat/hostbeat/internal/metrics"
)

func TestSchedulerImmediateFirstTick(t *testing.T) {
	var calls atomic.Int64
	collect := func(ctx context.Context) (*metrics.Snapshot, error) {
		calls.Add(1)
		return snap(1), nil
	}

	dist := NewDistributor(logger.Noop())
	ch, unsub := dist.Subscribe()
	defer unsub()

	s := NewScheduler(collect, dist, logger.Noop())
	s.Start(time.Hour)
	defer s.Stop()

	// The first snapshot arrives right away, not an hour from now.
	select {
	case got := <-ch:
		assert.Equal(t, 1.0, got.CPUPercent)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published on start")
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestSchedulerPublishesEveryTick(t *testing.T) {
	collect := func(ctx context.Context) (*metrics.Snapshot, error) {
		return snap(2), nil
	}

	dist := NewDistributor(logger.Noop())
	ch, unsub := dist.Subscribe()
	defer unsub()

	s := NewScheduler(collect, dist, logger.Noop())
	s.Start(20 * time.Millisecond)
	defer s.Stop()

	for i := 0; i < 3; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("snapshot %d never arrived", i)
		}
	}

	status := s.Status()
	assert.True(t, status.Running)
	assert.GreaterOrEqual(t, status.Ticks, uint64(3))
	assert.False(t, status.LastTick.IsZero())
}

func TestSchedulerErrorPublishesDegradedSnapshot(t *testing.T) {
	var calls atomic.Int64
	collect := func(ctx context.Context) (*metrics.Snapshot, error) {
		if calls.Add(1) == 1 {
			return &metrics.Snapshot{
				CPUPercent:       42,
				Source:           metrics.OriginRemote,
				ConnectionStatus: metrics.StatusConnected,
			}, nil
		}
		return nil, fmt.Errorf("ssh: broken pipe")
	}

	dist := NewDistributor(logger.Noop())
	ch, unsub := dist.Subscribe()
	defer unsub()

	s := NewScheduler(collect, dist, logger.Noop())
	s.Start(20 * time.Millisecond)
	defer s.Stop()

	first := <-ch
	assert.Equal(t, metrics.StatusConnected, first.ConnectionStatus)

	// The next publish is error-tagged but carries the last known values,
	// and the cadence keeps going after that.
	second := <-ch
	assert.Equal(t, metrics.StatusError, second.ConnectionStatus)
	assert.Equal(t, 42.0, second.CPUPercent)

	third := <-ch
	assert.Equal(t, metrics.StatusError, third.ConnectionStatus)

	status := s.Status()
	assert.True(t, status.Running, "errors must not stop the scheduler")
	assert.GreaterOrEqual(t, status.Failures, uint64(2))
	assert.Contains(t, status.LastError, "broken pipe")
}

func TestSchedulerErrorWithoutHistory(t *testing.T) {
	collect := func(ctx context.Context) (*metrics.Snapshot, error) {
		return nil, fmt.Errorf("unreachable")
	}

	dist := NewDistributor(logger.Noop())
	ch, unsub := dist.Subscribe()
	defer unsub()

	s := NewScheduler(collect, dist, logger.Noop())
	s.Start(time.Hour)
	defer s.Stop()

	got := <-ch
	assert.Equal(t, metrics.StatusError, got.ConnectionStatus)
	assert.Zero(t, got.CPUPercent)
}

func TestSchedulerDegradedSnapshotCarriesSourceInfo(t *testing.T) {
	collect := func(ctx context.Context) (*metrics.Snapshot, error) {
		return nil, fmt.Errorf("ssh: connection reset")
	}

	dist := NewDistributor(logger.Noop())
	ch, unsub := dist.Subscribe()
	defer unsub()

	s := NewScheduler(collect, dist, logger.Noop())
	s.SetSourceInfo(func() metrics.SourceInfo {
		return metrics.SourceInfo{
			Origin:   metrics.OriginRemote,
			MemUnit:  metrics.MemUnitPercent,
			Hostname: "db.example.com",
		}
	})
	s.Start(time.Hour)
	defer s.Stop()

	// A first-tick failure with no history is still attributed to the
	// source that failed, not to local collection.
	got := <-ch
	assert.Equal(t, metrics.StatusError, got.ConnectionStatus)
	assert.Equal(t, metrics.OriginRemote, got.Source)
	assert.Equal(t, metrics.MemUnitPercent, got.MemUnit)
	assert.Equal(t, "db.example.com", got.Hostname)
}

func TestSchedulerRestartWaitsForInFlightCollect(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int64
	collect := func(ctx context.Context) (*metrics.Snapshot, error) {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-release
		}
		return snap(float64(calls.Load())), nil
	}

	dist := NewDistributor(logger.Noop())
	s := NewScheduler(collect, dist, logger.Noop())
	s.Start(time.Hour)
	defer s.Stop()

	<-started

	restarted := make(chan struct{})
	go func() {
		s.Start(30 * time.Minute)
		close(restarted)
	}()

	// The restart must not return while the old collection is running,
	// or its immediate tick would be swallowed by the in-flight guard.
	select {
	case <-restarted:
		t.Fatal("restart returned while a collection was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-restarted

	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 30*time.Minute, s.Interval())
}

func TestSchedulerSingleFlight(t *testing.T) {
	block := make(chan struct{})
	var calls atomic.Int64
	collect := func(ctx context.Context) (*metrics.Snapshot, error) {
		calls.Add(1)
		<-block
		return snap(1), nil
	}

	dist := NewDistributor(logger.Noop())
	s := NewScheduler(collect, dist, logger.Noop())
	s.Start(10 * time.Millisecond)

	// With the collector stuck, ticks pile up but only one collection runs.
	require.Eventually(t, func() bool {
		return s.Status().SkippedTicks >= 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())

	close(block)
	s.Stop()
}

func TestSchedulerCollectTimeout(t *testing.T) {
	var deadlineOK atomic.Bool
	collect := func(ctx context.Context) (*metrics.Snapshot, error) {
		deadline, ok := ctx.Deadline()
		if ok && time.Until(deadline) <= 2*50*time.Millisecond {
			deadlineOK.Store(true)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	dist := NewDistributor(logger.Noop())
	ch, unsub := dist.Subscribe()
	defer unsub()

	s := NewScheduler(collect, dist, logger.Noop())
	s.Start(50 * time.Millisecond)
	defer s.Stop()

	// The stuck collection is cut off at twice the interval and a degraded
	// snapshot still goes out.
	select {
	case got := <-ch:
		assert.Equal(t, metrics.StatusError, got.ConnectionStatus)
	case <-time.After(2 * time.Second):
		t.Fatal("timed-out collection never published")
	}
	assert.True(t, deadlineOK.Load(), "collect context should carry a 2x-interval deadline")
}

func TestSchedulerStartIdempotent(t *testing.T) {
	var calls atomic.Int64
	collect := func(ctx context.Context) (*metrics.Snapshot, error) {
		calls.Add(1)
		return snap(1), nil
	}

	dist := NewDistributor(logger.Noop())
	s := NewScheduler(collect, dist, logger.Noop())
	s.Start(time.Hour)
	defer s.Stop()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Same interval: nothing restarts, no extra immediate tick.
	s.Start(time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, time.Hour, s.Interval())
}

func TestSchedulerStartNewIntervalRestarts(t *testing.T) {
	var calls atomic.Int64
	collect := func(ctx context.Context) (*metrics.Snapshot, error) {
		calls.Add(1)
		return snap(1), nil
	}

	dist := NewDistributor(logger.Noop())
	s := NewScheduler(collect, dist, logger.Noop())
	s.Start(time.Hour)
	defer s.Stop()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// New interval restarts the cadence with a fresh immediate tick.
	s.Start(30 * time.Minute)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 30*time.Minute, s.Interval())
	assert.True(t, s.Status().Running)
}

func TestSchedulerStopIdempotent(t *testing.T) {
	dist := NewDistributor(logger.Noop())
	s := NewScheduler(func(ctx context.Context) (*metrics.Snapshot, error) {
		return snap(1), nil
	}, dist, logger.Noop())

	// Stopping a never-started scheduler is fine.
	s.Stop()

	s.Start(time.Hour)
	s.Stop()
	s.Stop()
	assert.False(t, s.Status().Running)

	// Restart after stop works.
	s.Start(time.Hour)
	assert.True(t, s.Status().Running)
	s.Stop()
}

func TestSchedulerDefaultInterval(t *testing.T) {
	dist := NewDistributor(logger.Noop())
	s := NewScheduler(func(ctx context.Context) (*metrics.Snapshot, error) {
		return snap(1), nil
	}, dist, logger.Noop())

	s.Start(0)
	defer s.Stop()
	assert.Equal(t, DefaultInterval, s.Interval())
}

func TestSchedulerCollectNowAndLastSnapshot(t *testing.T) {
	dist := NewDistributor(logger.Noop())
	s := NewScheduler(func(ctx context.Context) (*metrics.Snapshot, error) {
		return snap(7), nil
	}, dist, logger.Noop())

	assert.Nil(t, s.LastSnapshot())

	got, err := s.CollectNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.CPUPercent)

	// CollectNow doesn't publish.
	assert.Nil(t, s.LastSnapshot())
}
