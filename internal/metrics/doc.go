// Package metrics provides request metrics collection and Prometheus export.
//
// Metrics collects statistics about request latency, success/failure rates,
// per-status counts and throughput (RPS). It is thread-safe and used both by
// the connection handler (server side) and by the load generator (client side).
//
// # Basic Usage
//
//	m := metrics.New()
//
//	start := time.Now()
//	// ... serve a connection ...
//	m.RecordStatus("HTTP/1.1 200 OK", time.Since(start))
//
//	fmt.Print(m.Snapshot().Report())
//
// # Configuration
//
// Use NewWithConfig for custom settings:
//
//	m := metrics.NewWithConfig(metrics.Config{
//	    MaxLatencySamples: 5000, // More samples for P99 accuracy
//	})
//
// # Prometheus
//
// Collector exposes pool and request metrics to Prometheus. Every method is
// safe to call on a nil *Collector, so components can take one optionally:
//
//	reg := prometheus.NewRegistry()
//	c := metrics.NewCollector("poolserver")
//	if err := c.Register(reg); err != nil {
//	    return err
//	}
//	http.Handle("/metrics", metrics.Handler(reg))
//
// # Thread Safety
//
// All operations use atomic counters or a mutex and are safe for concurrent access.
package metrics
