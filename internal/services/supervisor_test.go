package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testService counts updates and cleanups; fail controls update outcome.
type testService struct {
	name     string
	interval time.Duration
	fail     atomic.Bool
	updates  atomic.Int32
	cleanups atomic.Int32
}

func (s *testService) Name() string            { return s.name }
func (s *testService) Interval() time.Duration { return s.interval }

func (s *testService) Update(ctx context.Context) error {
	s.updates.Add(1)
	if s.fail.Load() {
		return fmt.Errorf("update failed")
	}
	return nil
}

func (s *testService) Cleanup(ctx context.Context) error {
	s.cleanups.Add(1)
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestSupervisorTicksAndResetsFailures(t *testing.T) {
	svc := &testService{name: "ticker", interval: 10 * time.Millisecond}
	sup := NewSupervisor(svc, WithMaxFailures(3), WithRetryDelay(time.Millisecond))

	require.NoError(t, sup.Start(context.Background()))
	waitFor(t, time.Second, func() bool { return svc.updates.Load() >= 3 })
	assert.Equal(t, Running, sup.State())
	assert.Equal(t, 0, sup.Failures(), "successful ticks reset the failure counter")

	// One failure bumps the counter; the next success clears it.
	svc.fail.Store(true)
	waitFor(t, time.Second, func() bool { return sup.Failures() >= 1 })
	svc.fail.Store(false)
	waitFor(t, time.Second, func() bool { return sup.Failures() == 0 })

	sup.Stop()
	assert.Equal(t, Stopped, sup.State())
	assert.Equal(t, int32(1), svc.cleanups.Load(), "cleanup runs exactly once")
}

func TestSupervisorStopsAfterMaxFailures(t *testing.T) {
	svc := &testService{name: "pinger", interval: 10 * time.Millisecond}
	svc.fail.Store(true)
	sup := NewSupervisor(svc, WithMaxFailures(3), WithRetryDelay(time.Millisecond))

	require.NoError(t, sup.Start(context.Background()))
	waitFor(t, time.Second, func() bool { return sup.State() == Stopped })
	assert.GreaterOrEqual(t, svc.updates.Load(), int32(3))
	assert.Equal(t, int32(1), svc.cleanups.Load(), "cleanup runs exactly once after failure stop")

	// Stopping again is a no-op and does not re-run cleanup.
	sup.Stop()
	assert.Equal(t, int32(1), svc.cleanups.Load())
}

func TestSupervisorPauseResume(t *testing.T) {
	svc := &testService{name: "pausable", interval: 10 * time.Millisecond}
	sup := NewSupervisor(svc)

	require.NoError(t, sup.Start(context.Background()))
	waitFor(t, time.Second, func() bool { return svc.updates.Load() >= 1 })

	require.NoError(t, sup.Pause())
	assert.Equal(t, Paused, sup.State())
	// Let any in-flight tick drain before taking the baseline.
	time.Sleep(30 * time.Millisecond)
	paused := svc.updates.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, paused, svc.updates.Load(), "paused services do not tick")

	require.NoError(t, sup.Resume())
	waitFor(t, time.Second, func() bool { return svc.updates.Load() > paused })

	sup.Stop()
}

func TestSupervisorIllegalTransitions(t *testing.T) {
	svc := &testService{name: "strict", interval: 10 * time.Millisecond}
	sup := NewSupervisor(svc)

	assert.Error(t, sup.Pause(), "cannot pause a stopped service")
	assert.Error(t, sup.Resume())

	require.NoError(t, sup.Start(context.Background()))
	assert.Error(t, sup.Start(context.Background()), "cannot start a running service")
	assert.Error(t, sup.Resume(), "cannot resume an unpaused service")
	sup.Stop()

	// A stopped service may start again; the new lifecycle gets its own
	// cleanup.
	require.NoError(t, sup.Start(context.Background()))
	sup.Stop()
	assert.Equal(t, int32(2), svc.cleanups.Load())
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	a := &testService{name: "a", interval: 10 * time.Millisecond}
	b := &testService{name: "b", interval: 10 * time.Millisecond}
	require.NoError(t, reg.Add(a))
	require.NoError(t, reg.Add(b))
	assert.Error(t, reg.Add(a), "duplicate names are rejected")
	assert.Equal(t, []string{"a", "b"}, reg.Names())

	require.NoError(t, reg.StartAll(context.Background()))
	waitFor(t, time.Second, func() bool {
		return a.updates.Load() >= 1 && b.updates.Load() >= 1
	})

	sup, ok := reg.Get("a")
	require.True(t, ok)
	assert.Equal(t, Running, sup.State())

	reg.CleanupAll()
	assert.True(t, reg.AllStopped())
	assert.Equal(t, int32(1), a.cleanups.Load())
	assert.Equal(t, int32(1), b.cleanups.Load())
}

func TestSupervisorHonorsContextCancellation(t *testing.T) {
	svc := &testService{name: "ctx", interval: 10 * time.Millisecond}
	sup := NewSupervisor(svc)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sup.Start(ctx))
	waitFor(t, time.Second, func() bool { return svc.updates.Load() >= 1 })

	cancel()
	waitFor(t, time.Second, func() bool { return sup.State() == Stopped })
	assert.Equal(t, int32(1), svc.cleanups.Load())
}
