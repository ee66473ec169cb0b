package locker

import (
	"context"
	"sync"
	"time"
)

// Phase names a lock set. Each phase owns a disjoint set of entity ids;
// holding an id in one phase says nothing about the others, which is what
// lets the run terminator wait for job reconcilers to drain.
type Phase string

const (
	// PhaseRun serializes whole-run processing. It has precedence: job
	// reconcilers skip any job whose run id is held here.
	PhaseRun Phase = "run"

	PhaseJobSubmitted   Phase = "job_submitted"
	PhaseJobRunning     Phase = "job_running"
	PhaseJobTerminating Phase = "job_terminating"
)

// JobPhases lists the phases job reconcilers lock jobs under. The run
// terminator waits until a run's job ids are absent from all of them.
func JobPhases() []Phase {
	return []Phase{PhaseJobSubmitted, PhaseJobRunning, PhaseJobTerminating}
}

const pollInterval = 100 * time.Millisecond

// Service tracks which entity ids are being processed, grouped by phase.
// All lock sets share one mutex, so acquiring across ids is atomic:
// TryAcquire takes either every requested id or none.
type Service struct {
	mu   sync.Mutex
	sets map[Phase]map[string]struct{}

	// interval between acquire/wait polls, overridable in tests
	interval time.Duration
}

// New creates an empty lock service.
func New() *Service {
	return &Service{
		sets:     make(map[Phase]map[string]struct{}),
		interval: pollInterval,
	}
}

func (s *Service) set(phase Phase) map[string]struct{} {
	ids, ok := s.sets[phase]
	if !ok {
		ids = make(map[string]struct{})
		s.sets[phase] = ids
	}
	return ids
}

// TryAcquire locks all ids in the phase, or none if any is already held.
func (s *Service) TryAcquire(phase Phase, ids ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.set(phase)
	for _, id := range ids {
		if _, held := set[id]; held {
			return false
		}
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return true
}

// Acquire blocks until all ids are locked in the phase or ctx is done.
// On cancellation no id is left behind: the ids are only ever taken as a
// unit inside TryAcquire.
func (s *Service) Acquire(ctx context.Context, phase Phase, ids ...string) error {
	if s.TryAcquire(phase, ids...) {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.TryAcquire(phase, ids...) {
				return nil
			}
		}
	}
}

// Release unlocks ids in the phase. Releasing an id that is not held is a
// no-op, so deferred releases after partial failures stay safe.
func (s *Service) Release(phase Phase, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.set(phase)
	for _, id := range ids {
		delete(set, id)
	}
}

// Contains reports whether the id is currently held in the phase.
func (s *Service) Contains(phase Phase, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, held := s.set(phase)[id]
	return held
}

func (s *Service) anyHeld(phases []Phase, ids []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, phase := range phases {
		set := s.set(phase)
		for _, id := range ids {
			if _, held := set[id]; held {
				return true
			}
		}
	}
	return false
}

// WaitEmpty blocks until none of the ids are held in any of the phases,
// or ctx is done. It acquires nothing itself; the caller is expected to
// hold a lock in another phase that keeps new claims out.
func (s *Service) WaitEmpty(ctx context.Context, phases []Phase, ids []string) error {
	if !s.anyHeld(phases, ids) {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.anyHeld(phases, ids) {
				return nil
			}
		}
	}
}
