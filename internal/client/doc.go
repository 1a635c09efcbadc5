// Package client talks to a poolserver over its line protocol.
//
// Probe sends a single request line and parses the response. The Client
// type is a small load generator that fires probes from a worker pool and
// records latencies and status counts.
//
// # Basic Usage
//
//	resp, err := client.Probe(ctx, "127.0.0.1:8080", "GET / HTTP/1.1")
//	fmt.Println(resp.Status, len(resp.Body))
//
//	config := client.DefaultConfig()
//	config.NumWorkers = 8
//	cl, err := client.New(config)
//	snap := cl.RunRequests(ctx, 1000)
//	fmt.Print(snap.Report())
//
// # Configuration
//
// The Config struct allows tuning:
//   - Addr: server address
//   - NumWorkers: parallel probes (0 = CPU count)
//   - Lines: request lines sent in rotation
//   - Timeout: per-request deadline
//   - RequestsLimit: max requests (0 = unlimited)
package client
