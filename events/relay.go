// Package events delivers call lifecycle notifications to listeners without
// ever slowing the call down. Publishing never blocks: when the buffer is
// full the event is dropped and counted.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaborage/restbricks/logger"
)

// Type identifies a lifecycle event.
type Type string

const (
	RequestStarted   Type = "request_started"
	RetryOccurred    Type = "retry_occurred"
	ResponseProduced Type = "response_produced"
)

// DefaultBufferSize is the relay queue length.
const DefaultBufferSize = 256

// Event is one notification about a call.
type Event struct {
	Type     Type
	Consumer string
	Method   string
	URL      string
	// Attempt is 1-based; zero for RequestStarted.
	Attempt       int
	StatusCode    int
	WasSuccessful bool
	Err           error
	Time          time.Time
}

// Listener receives events on the relay goroutine.
type Listener func(Event)

// Relay fans events out to listeners on a single background goroutine.
type Relay struct {
	log       logger.Logger
	ch        chan Event
	mu        sync.RWMutex
	listeners []Listener
	dropped   atomic.Int64

	sendMu    sync.RWMutex // guards ch against send-after-close
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewRelay starts a relay with DefaultBufferSize when size <= 0.
func NewRelay(log logger.Logger, size int, listeners ...Listener) *Relay {
	if log == nil {
		log = logger.Nop()
	}
	if size <= 0 {
		size = DefaultBufferSize
	}
	r := &Relay{
		log:       log,
		ch:        make(chan Event, size),
		listeners: append([]Listener(nil), listeners...),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Subscribe adds a listener.
func (r *Relay) Subscribe(l Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Publish queues e. It never blocks; events published after Close or while
// the queue is full are dropped.
func (r *Relay) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	r.sendMu.RLock()
	defer r.sendMu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.ch <- e:
	default:
		// Queue full, drop rather than block the call
		r.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (r *Relay) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting events, delivers the queued ones and waits for the
// relay goroutine to exit.
func (r *Relay) Close() error {
	r.closeOnce.Do(func() {
		r.sendMu.Lock()
		r.closed = true
		close(r.ch)
		r.sendMu.Unlock()
	})
	<-r.done
	return nil
}

func (r *Relay) run() {
	defer close(r.done)
	for e := range r.ch {
		r.deliver(e)
	}
}

func (r *Relay) deliver(e Event) {
	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()

	for _, l := range listeners {
		r.safeCall(l, e)
	}
}

func (r *Relay) safeCall(l Listener, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("event", string(e.Type)).
				Str("consumer", e.Consumer).
				Interface("panic", rec).
				Msg("event listener panicked")
		}
	}()
	l(e)
}
