// Package events provides an event system for worker pool and connection notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventWorkerStarted is emitted when a worker goroutine begins waiting for jobs
	EventWorkerStarted EventType = "worker_started"
	// EventWorkerStopped is emitted when a worker has been joined during shutdown
	EventWorkerStopped EventType = "worker_stopped"
	// EventJobFailed is emitted when a job panics or its handler returns an error
	EventJobFailed EventType = "job_failed"
	// EventJobRejected is emitted when a submission is refused by the pool
	EventJobRejected EventType = "job_rejected"
	// EventResourceMissing is emitted when a configured response resource cannot be found
	EventResourceMissing EventType = "resource_missing"
	// EventPoolClosed is emitted once, when the producer side of the pool is closed
	EventPoolClosed EventType = "pool_closed"
)

// Event represents a pool or connection event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	WorkerID  int    `json:"worker_id"`
	Processed uint64 `json:"processed,omitempty"`
	Failed    uint64 `json:"failed,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewWorkerStartedEvent creates a worker started event
func NewWorkerStartedEvent(source string, workerID int) Event {
	return Event{
		Type:      EventWorkerStarted,
		Timestamp: time.Now(),
		Source:    source,
		Data: EventData{
			WorkerID: workerID,
		},
	}
}

// NewWorkerStoppedEvent creates a worker stopped event carrying the worker's final counters
func NewWorkerStoppedEvent(source string, workerID int, processed, failed uint64) Event {
	return Event{
		Type:      EventWorkerStopped,
		Timestamp: time.Now(),
		Source:    source,
		Data: EventData{
			WorkerID:  workerID,
			Processed: processed,
			Failed:    failed,
		},
	}
}

// NewJobFailedEvent creates a job failed event
func NewJobFailedEvent(source string, workerID int, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventJobFailed,
		Timestamp: time.Now(),
		Source:    source,
		Data: EventData{
			WorkerID: workerID,
			Error:    errMsg,
		},
	}
}

// NewJobRejectedEvent creates a job rejected event
func NewJobRejectedEvent(source string, reason string) Event {
	return Event{
		Type:      EventJobRejected,
		Timestamp: time.Now(),
		Source:    source,
		Data: EventData{
			WorkerID: -1,
			Reason:   reason,
		},
	}
}

// NewResourceMissingEvent creates a resource missing event
func NewResourceMissingEvent(source string, resource string) Event {
	return Event{
		Type:      EventResourceMissing,
		Timestamp: time.Now(),
		Source:    source,
		Data: EventData{
			WorkerID: -1,
			Resource: resource,
		},
	}
}

// NewPoolClosedEvent creates a pool closed event
func NewPoolClosedEvent(source string) Event {
	return Event{
		Type:      EventPoolClosed,
		Timestamp: time.Now(),
		Source:    source,
		Data: EventData{
			WorkerID: -1,
		},
	}
}
