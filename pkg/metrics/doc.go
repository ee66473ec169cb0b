/*
Package metrics provides Prometheus metrics, health checking, and
readiness reporting for the windrose server.

# Metrics

Collectors are package-level variables registered in init, so any
package can record observations without carrying a registry around:

	metrics.RunsSubmitted.Inc()
	metrics.InstanceCreateAttempts.WithLabelValues("aws", "ok").Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration.WithLabelValues("runs"))

Gauge families that mirror store contents (RunsTotal, JobsTotal,
InstancesTotal) are maintained by the Collector, which polls the store
on a fixed interval:

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

Expose everything over HTTP with Handler:

	mux.Handle("/metrics", metrics.Handler())

# Health and Readiness

Components report their own health; the checker aggregates:

	metrics.RegisterComponent("store", true, "")
	metrics.UpdateComponent("reconciler", false, "tick overrun")

/health reports unhealthy if any registered component is unhealthy.
/ready additionally requires every critical component (store,
reconciler) to be registered and healthy, so the server is not routed
traffic before initialization finishes.

	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
*/
package metrics
