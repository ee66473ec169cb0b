package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

func newCollectorStore(t *testing.T) storage.Store {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestCollectorCollect tests that gauges mirror store contents
func TestCollectorCollect(t *testing.T) {
	store := newCollectorStore(t)

	err := store.Update(func(tx storage.Tx) error {
		if err := tx.CreateProject(&types.Project{ID: "p1", Name: "main"}); err != nil {
			return err
		}
		if err := tx.CreateRun(&types.Run{ID: "r1", ProjectID: "p1", Name: "quiet-lion-1", Status: types.RunStatusRunning}); err != nil {
			return err
		}
		if err := tx.CreateRun(&types.Run{ID: "r2", ProjectID: "p1", Name: "quiet-lion-2", Status: types.RunStatusRunning}); err != nil {
			return err
		}
		if err := tx.CreateRun(&types.Run{ID: "r3", ProjectID: "p1", Name: "quiet-lion-3", Status: types.RunStatusDone}); err != nil {
			return err
		}
		if err := tx.CreateJob(&types.Job{ID: "j1", RunID: "r1", ProjectID: "p1", Status: types.JobStatusRunning}); err != nil {
			return err
		}
		return tx.CreateInstance(&types.Instance{ID: "i1", ProjectID: "p1", PoolID: "pool1", Status: types.InstanceStatusIdle})
	})
	if err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	collector := NewCollector(store)
	collector.collect()

	if got := testutil.ToFloat64(RunsTotal.WithLabelValues(string(types.RunStatusRunning))); got != 2 {
		t.Errorf("runs_total{running} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(RunsTotal.WithLabelValues(string(types.RunStatusDone))); got != 1 {
		t.Errorf("runs_total{done} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(JobsTotal.WithLabelValues(string(types.JobStatusRunning))); got != 1 {
		t.Errorf("jobs_total{running} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(InstancesTotal.WithLabelValues(string(types.InstanceStatusIdle))); got != 1 {
		t.Errorf("instances_total{idle} = %v, want 1", got)
	}
}

// TestCollectorCollectResets tests that stale statuses are cleared
func TestCollectorCollectResets(t *testing.T) {
	store := newCollectorStore(t)

	err := store.Update(func(tx storage.Tx) error {
		return tx.CreateRun(&types.Run{ID: "r1", ProjectID: "p1", Name: "brave-otter-1", Status: types.RunStatusSubmitted})
	})
	if err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	collector := NewCollector(store)
	collector.collect()

	if got := testutil.ToFloat64(RunsTotal.WithLabelValues(string(types.RunStatusSubmitted))); got != 1 {
		t.Fatalf("runs_total{submitted} = %v, want 1", got)
	}

	// Run moves on; the submitted series must drop to zero, not linger.
	err = store.Update(func(tx storage.Tx) error {
		run, err := tx.GetRun("r1")
		if err != nil {
			return err
		}
		run.Status = types.RunStatusProvisioning
		return tx.UpdateRun(run)
	})
	if err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	collector.collect()

	if got := testutil.ToFloat64(RunsTotal.WithLabelValues(string(types.RunStatusSubmitted))); got != 0 {
		t.Errorf("runs_total{submitted} = %v, want 0 after reset", got)
	}
	if got := testutil.ToFloat64(RunsTotal.WithLabelValues(string(types.RunStatusProvisioning))); got != 1 {
		t.Errorf("runs_total{provisioning} = %v, want 1", got)
	}
}

// TestCollectorStartStop tests clean shutdown
func TestCollectorStartStop(t *testing.T) {
	store := newCollectorStore(t)

	collector := NewCollector(store)
	collector.Start()

	time.Sleep(20 * time.Millisecond)
	collector.Stop()
}
