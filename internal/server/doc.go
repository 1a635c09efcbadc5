// Package server accepts TCP connections and hands each one to a worker pool.
//
// The accept loop runs on its own goroutine. Every accepted connection is
// wrapped by the handler package into a worker.Task and submitted; when the
// pool refuses the job the connection is closed unanswered. Accept errors
// are logged and retried with exponential backoff, capped at AcceptMaxDelay,
// until the listener is closed.
//
// # Lifecycle
//
//	srv, err := server.New(server.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	return srv.Run(ctx) // blocks until ctx is done
//
// On cancellation the listener is closed first, then the pool is shut down,
// which lets every connection already queued finish.
package server
