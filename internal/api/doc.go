// Package api exposes a small HTTP admin surface for a running poolserver.
//
// Endpoints:
//   - GET /api/status   pool mode, size, state, queue length and counters
//   - GET /api/workers  per-worker state and job counts
//   - GET /api/metrics  request metrics as JSON
//   - GET /metrics      Prometheus exposition
//   - GET /ws           websocket stream of lifecycle events and periodic status
//
// The router is built with chi and wrapped in a CORS handler. Websocket
// messages are JSON objects with a "type" of either "status" or "event";
// a client can restrict the events it receives with ?types=a,b.
package api
