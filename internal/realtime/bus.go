package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrBusClosed is returned by Subscribe after the bus has been shut down.
var ErrBusClosed = errors.New("event bus closed")

// Publisher is the write side of the push-event capability. The chat service
// publishes one event per committed mutation, in commit order.
type Publisher interface {
	Publish(key string, ev Event)
}

// Transport is the read side: it opens one live stream of events for a key.
// A returned stream ends (its Events channel closes) on transport drop;
// reconnecting is the subscriber's concern, not the transport's.
type Transport interface {
	Subscribe(ctx context.Context, key string) (Stream, error)
}

// Stream is one open event stream.
type Stream interface {
	// Events delivers events in commit order until the stream drops or is closed
	Events() <-chan Event

	// Close tears the stream down; safe to call more than once
	Close() error
}

// Bus is the in-process Transport and Publisher pair. It stands in for the
// hosted push-event service when the store and its consumers share a
// process, and is the transport tests drive directly.
type Bus struct {
	mu      sync.Mutex
	streams map[string]map[*busStream]bool
	closed  bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		streams: make(map[string]map[*busStream]bool),
	}
}

// Subscribe opens a stream for key. The stream ends when ctx is cancelled,
// when Close is called, or when the subscriber falls too far behind.
func (b *Bus) Subscribe(ctx context.Context, key string) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	s := &busStream{
		bus: b,
		key: key,
		ch:  make(chan Event, 256),
	}
	if b.streams[key] == nil {
		b.streams[key] = make(map[*busStream]bool)
	}
	b.streams[key][s] = true

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			s.Close()
		}()
	}
	return s, nil
}

// Publish delivers ev to every open stream for key, in call order.
// A subscriber whose buffer is full is disconnected rather than skipped, so
// it reconnects and re-reads instead of silently missing events.
func (b *Bus) Publish(key string, ev Event) {
	b.mu.Lock()
	var full []*busStream
	for s := range b.streams[key] {
		select {
		case s.ch <- ev:
		default:
			full = append(full, s)
		}
	}
	b.mu.Unlock()

	for _, s := range full {
		log.Printf("[Realtime] Dropping slow subscriber on key %s", key)
		s.Close()
	}
}

// Close shuts the bus down and ends every open stream.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	var all []*busStream
	for _, set := range b.streams {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

type busStream struct {
	bus  *Bus
	key  string
	ch   chan Event
	once sync.Once
}

func (s *busStream) Events() <-chan Event {
	return s.ch
}

func (s *busStream) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if set := s.bus.streams[s.key]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.streams, s.key)
			}
		}
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}
