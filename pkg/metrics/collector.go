package metrics

import (
	"time"

	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// Collector periodically snapshots store state into gauges
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	runCounts := make(map[types.RunStatus]int)
	jobCounts := make(map[types.JobStatus]int)
	instanceCounts := make(map[types.InstanceStatus]int)

	err := c.store.View(func(tx storage.Tx) error {
		runs, err := tx.ListRuns()
		if err != nil {
			return err
		}
		for _, run := range runs {
			runCounts[run.Status]++
		}

		jobs, err := tx.ListJobs()
		if err != nil {
			return err
		}
		for _, job := range jobs {
			jobCounts[job.Status]++
		}

		projects, err := tx.ListProjects()
		if err != nil {
			return err
		}
		for _, project := range projects {
			instances, err := tx.ListInstancesByProject(project.ID)
			if err != nil {
				return err
			}
			for _, instance := range instances {
				instanceCounts[instance.Status]++
			}
		}
		return nil
	})
	if err != nil {
		return
	}

	RunsTotal.Reset()
	for status, n := range runCounts {
		RunsTotal.WithLabelValues(string(status)).Set(float64(n))
	}

	JobsTotal.Reset()
	for status, n := range jobCounts {
		JobsTotal.WithLabelValues(string(status)).Set(float64(n))
	}

	InstancesTotal.Reset()
	for status, n := range instanceCounts {
		InstancesTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}
