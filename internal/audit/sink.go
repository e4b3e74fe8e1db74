// Package audit persists detections and operational events on a best-effort
// basis. Submissions are queued and written by a background worker so storage
// latency or failure never reaches the caller: a missing or broken store
// degrades the system to "not recorded", never to "not served".
package audit

import (
	"sync"
	"sync/atomic"

	"github.com/agv-data/vision/internal/db"
	"github.com/agv-data/vision/internal/monitoring"
)

// Store is the persistence collaborator. *db.DB implements it; a nil Store
// turns the sink into a no-op.
type Store interface {
	InsertDetection(db.Detection) (int64, error)
	InsertEvent(db.SystemEvent) (int64, error)
	Ping() error
}

type job struct {
	detection *db.Detection
	event     *db.SystemEvent
}

// Sink queues records for one background writer goroutine. Enqueueing never
// blocks: when the queue is full the record is dropped and counted.
type Sink struct {
	store Store
	queue chan job
	done  chan struct{}

	stopOnce sync.Once

	// connected tracks the lazy connection state. A failed write flips it
	// off; the next job pings before writing. There is no background
	// reconnect loop.
	connected atomic.Bool
	dropped   atomic.Int64
}

// NewSink creates a sink writing to store. store may be nil, in which case
// every operation is a no-op.
func NewSink(store Store, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Sink{
		store: store,
		queue: make(chan job, queueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (s *Sink) Start() {
	go s.run()
}

// Stop closes the queue, drains remaining jobs, and waits for the writer to
// exit. No Record calls may be issued after Stop.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() { close(s.queue) })
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for j := range s.queue {
		s.process(j)
	}
}

// RecordDetection submits one detection row for persistence. Returns
// immediately; persistence outcome is invisible to the caller.
func (s *Sink) RecordDetection(d db.Detection) {
	if s.store == nil {
		return
	}
	s.enqueue(job{detection: &d})
}

// RecordEvent submits one system event for persistence.
func (s *Sink) RecordEvent(e db.SystemEvent) {
	if s.store == nil {
		return
	}
	s.enqueue(job{event: &e})
}

// Convenience event constructors mirroring the system_logs levels.

func (s *Sink) Info(component, eventType, message string, details map[string]interface{}) {
	s.RecordEvent(db.SystemEvent{Level: db.LevelInfo, Component: component, EventType: eventType, Message: message, Details: details})
}

func (s *Sink) Warning(component, eventType, message string, details map[string]interface{}) {
	s.RecordEvent(db.SystemEvent{Level: db.LevelWarning, Component: component, EventType: eventType, Message: message, Details: details})
}

func (s *Sink) Error(component, eventType, message string, details map[string]interface{}) {
	s.RecordEvent(db.SystemEvent{Level: db.LevelError, Component: component, EventType: eventType, Message: message, Details: details})
}

func (s *Sink) Critical(component, eventType, message string, details map[string]interface{}) {
	s.RecordEvent(db.SystemEvent{Level: db.LevelCritical, Component: component, EventType: eventType, Message: message, Details: details})
}

func (s *Sink) enqueue(j job) {
	select {
	case s.queue <- j:
	default:
		n := s.dropped.Add(1)
		monitoring.Logf("audit: queue full, dropped record (%d dropped total)", n)
	}
}

func (s *Sink) process(j job) {
	if !s.connected.Load() {
		if err := s.store.Ping(); err != nil {
			monitoring.Logf("audit: store unavailable, record discarded: %v", err)
			return
		}
		s.connected.Store(true)
	}

	var err error
	switch {
	case j.detection != nil:
		_, err = s.store.InsertDetection(*j.detection)
	case j.event != nil:
		_, err = s.store.InsertEvent(*j.event)
	}
	if err != nil {
		// treat any write failure as a lost connection; the next job
		// re-attempts via Ping
		s.connected.Store(false)
		monitoring.Logf("audit: write failed, record discarded: %v", err)
	}
}

// Connected reports whether the store is configured and reachable. Used by
// the health endpoint; probes lazily when the last write failed.
func (s *Sink) Connected() bool {
	if s.store == nil {
		return false
	}
	if s.connected.Load() {
		return true
	}
	if err := s.store.Ping(); err != nil {
		return false
	}
	s.connected.Store(true)
	return true
}

// Dropped returns how many records were discarded due to a full queue.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}
