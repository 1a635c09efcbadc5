// Package handler serves one line-oriented request per connection.
//
// A connection goes through ReadRequestLine, Route, Delay, LoadResponseBody
// and WriteResponse, then is closed. Any failure ends the connection; there
// is no retry and no keep-alive.
//
// Handler.Job wraps Serve as a worker.Task, so a connection that fails
// (closed before a request line, timed out, missing resource) is counted by
// the pool as a failed job and published as a job_failed event.
package handler
