package locker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	s := New()
	s.interval = time.Millisecond
	return s
}

// TestTryAcquireAllOrNothing tests that multi-id acquisition is atomic
func TestTryAcquireAllOrNothing(t *testing.T) {
	s := newTestService()

	require.True(t, s.TryAcquire(PhaseJobSubmitted, "a"))

	// "b" is free but "a" is held, so nothing may be taken
	assert.False(t, s.TryAcquire(PhaseJobSubmitted, "a", "b"))
	assert.False(t, s.Contains(PhaseJobSubmitted, "b"), "failed acquire must not leak ids")

	s.Release(PhaseJobSubmitted, "a")
	assert.True(t, s.TryAcquire(PhaseJobSubmitted, "a", "b"))
}

// TestPhasesAreDisjoint tests that the same id can be held in different phases
func TestPhasesAreDisjoint(t *testing.T) {
	s := newTestService()

	require.True(t, s.TryAcquire(PhaseRun, "id-1"))
	assert.True(t, s.TryAcquire(PhaseJobRunning, "id-1"))
	assert.True(t, s.Contains(PhaseRun, "id-1"))
	assert.True(t, s.Contains(PhaseJobRunning, "id-1"))

	s.Release(PhaseRun, "id-1")
	assert.False(t, s.Contains(PhaseRun, "id-1"))
	assert.True(t, s.Contains(PhaseJobRunning, "id-1"))
}

// TestReleaseUnheldIsNoop tests release of ids that were never taken
func TestReleaseUnheldIsNoop(t *testing.T) {
	s := newTestService()
	s.Release(PhaseJobTerminating, "ghost")
	assert.False(t, s.Contains(PhaseJobTerminating, "ghost"))
}

// TestAcquireBlocksUntilReleased tests the polling acquire path
func TestAcquireBlocksUntilReleased(t *testing.T) {
	s := newTestService()
	require.True(t, s.TryAcquire(PhaseRun, "run-1"))

	done := make(chan error, 1)
	go func() {
		done <- s.Acquire(context.Background(), PhaseRun, "run-1")
	}()

	select {
	case <-done:
		t.Fatal("acquire must block while the id is held")
	case <-time.After(20 * time.Millisecond):
	}

	s.Release(PhaseRun, "run-1")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not finish after release")
	}
	assert.True(t, s.Contains(PhaseRun, "run-1"))
}

// TestAcquireCancellation tests that a cancelled acquire leaves no ids behind
func TestAcquireCancellation(t *testing.T) {
	s := newTestService()
	require.True(t, s.TryAcquire(PhaseRun, "run-1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Acquire(ctx, PhaseRun, "run-1", "run-2")
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("acquire did not observe cancellation")
	}
	assert.False(t, s.Contains(PhaseRun, "run-2"), "cancelled acquire must not hold ids")
}

// TestWaitEmpty tests draining job phases before run termination
func TestWaitEmpty(t *testing.T) {
	s := newTestService()

	require.True(t, s.TryAcquire(PhaseJobSubmitted, "job-1"))
	require.True(t, s.TryAcquire(PhaseJobRunning, "job-2"))

	done := make(chan error, 1)
	go func() {
		done <- s.WaitEmpty(context.Background(), JobPhases(), []string{"job-1", "job-2"})
	}()

	select {
	case <-done:
		t.Fatal("wait must block while any id is held")
	case <-time.After(20 * time.Millisecond):
	}

	s.Release(PhaseJobSubmitted, "job-1")

	select {
	case <-done:
		t.Fatal("wait must block until every id is free")
	case <-time.After(20 * time.Millisecond):
	}

	s.Release(PhaseJobRunning, "job-2")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not finish after all releases")
	}
}

// TestWaitEmptyCancellation tests that a stuck wait can be abandoned
func TestWaitEmptyCancellation(t *testing.T) {
	s := newTestService()
	require.True(t, s.TryAcquire(PhaseJobTerminating, "job-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.WaitEmpty(ctx, JobPhases(), []string{"job-1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestConcurrentAcquire tests mutual exclusion under contention
func TestConcurrentAcquire(t *testing.T) {
	s := newTestService()

	const goroutines = 16
	var holders int
	var maxHolders int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.Acquire(context.Background(), PhaseRun, "contended"))
			mu.Lock()
			holders++
			if holders > maxHolders {
				maxHolders = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			s.Release(PhaseRun, "contended")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxHolders, "at most one holder at a time")
	assert.False(t, s.Contains(PhaseRun, "contended"))
}
