package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrUnauthorized is the terminal subscription failure: the transport
// rejected the subscriber's identity. The manager does not retry it.
var ErrUnauthorized = errors.New("subscription unauthorized")

// ErrStreamInterrupted reports a transient transport drop. The manager keeps
// the subscription and reconnects with backoff.
var ErrStreamInterrupted = errors.New("stream interrupted")

// ErrManagerDisposed is reported when subscribing after DisposeAll.
var ErrManagerDisposed = errors.New("subscription manager disposed")

// State is the lifecycle of one subscription key.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Listener receives what one subscriber cares about. OnEvent and OnError are
// required; OnStatus is optional and mirrors the key's connection state.
type Listener struct {
	OnEvent  func(Event)
	OnError  func(error)
	OnStatus func(State)
}

// Manager owns one live stream per subscription key and fans events out to
// every registered listener. A second listener on an already-live key reuses
// the existing stream; the stream closes only when its last listener
// unsubscribes. Transient transport drops are retried with exponential
// backoff until unsubscribe or a terminal authorization failure.
//
// The manager is constructor-injected and owned by whatever composes the
// application; there is no package-level registry.
type Manager struct {
	transport Transport

	mu       sync.Mutex
	subs     map[string]*subscription
	disposed bool

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewManager creates a manager over the given transport.
func NewManager(transport Transport) *Manager {
	return &Manager{
		transport:      transport,
		subs:           make(map[string]*subscription),
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     30 * time.Second,
	}
}

// Subscribe registers a listener for key and returns its unsubscribe handle.
// The handle removes only this listener and is safe to call more than once.
func (m *Manager) Subscribe(key string, l Listener) func() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		if l.OnError != nil {
			l.OnError(ErrManagerDisposed)
		}
		return func() {}
	}

	sub := m.subs[key]
	if sub != nil && sub.currentState() == StateClosed {
		// Terminally failed but not yet removed by its run loop; start fresh.
		delete(m.subs, key)
		sub = nil
	}
	if sub == nil {
		ctx, cancel := context.WithCancel(context.Background())
		sub = &subscription{
			key:       key,
			mgr:       m,
			ctx:       ctx,
			cancel:    cancel,
			listeners: make(map[int]Listener),
			state:     StateIdle,
		}
		m.subs[key] = sub
		go sub.run()
	}

	// Attach while still holding the manager lock, so a concurrent final
	// unsubscribe cannot drop the subscription between lookup and attach.
	id, state := sub.addListener(l)
	m.mu.Unlock()

	if l.OnStatus != nil {
		l.OnStatus(state)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.removeListener(id)
			m.drop(key, sub)
		})
	}
}

// State reports the connection state of a key; Idle if never subscribed.
func (m *Manager) State(key string) State {
	m.mu.Lock()
	sub := m.subs[key]
	m.mu.Unlock()
	if sub == nil {
		return StateIdle
	}
	return sub.currentState()
}

// DisposeAll tears down every subscription. Intended for application
// shutdown; later Subscribe calls report ErrManagerDisposed.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	m.disposed = true
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
}

// drop removes a subscription once its last listener has left. The listener
// count is rechecked under the manager lock: a listener that attached after
// the count reached zero keeps the stream alive.
func (m *Manager) drop(key string, sub *subscription) {
	m.mu.Lock()
	if m.subs[key] != sub || sub.listenerCount() > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.subs, key)
	m.mu.Unlock()
	sub.cancel()
}

// remove unconditionally forgets a terminally failed subscription so a later
// Subscribe on the key starts fresh.
func (m *Manager) remove(key string, sub *subscription) {
	m.mu.Lock()
	if m.subs[key] == sub {
		delete(m.subs, key)
	}
	m.mu.Unlock()
}

// subscription is the per-key state machine:
// Idle -> Connecting -> Live -> Closed, with Live -> Connecting on drop.
type subscription struct {
	key    string
	mgr    *Manager
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	state     State
}

// addListener registers l and returns its id with the state to report. The
// OnStatus callback is the caller's to fire, outside the manager lock.
func (s *subscription) addListener(l Listener) (int, State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return id, s.state
}

func (s *subscription) removeListener(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

func (s *subscription) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *subscription) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *subscription) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	listeners := s.snapshot()
	s.mu.Unlock()

	for _, l := range listeners {
		if l.OnStatus != nil {
			l.OnStatus(state)
		}
	}
}

func (s *subscription) reportError(err error) {
	s.mu.Lock()
	listeners := s.snapshot()
	s.mu.Unlock()

	for _, l := range listeners {
		if l.OnError != nil {
			l.OnError(err)
		}
	}
}

func (s *subscription) fanOut(ev Event) {
	s.mu.Lock()
	listeners := s.snapshot()
	s.mu.Unlock()

	for _, l := range listeners {
		if l.OnEvent != nil {
			l.OnEvent(ev)
		}
	}
}

// snapshot copies the listener set; callers hold the lock.
func (s *subscription) snapshot() []Listener {
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

// run drives the state machine until the subscription is cancelled or hits a
// terminal failure.
func (s *subscription) run() {
	backoff := s.mgr.initialBackoff

	for {
		s.setState(StateConnecting)

		stream, err := s.mgr.transport.Subscribe(s.ctx, s.key)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				log.Printf("[Realtime] Terminal failure on key %s: %v", s.key, err)
				s.reportError(err)
				s.setState(StateClosed)
				s.mgr.remove(s.key, s)
				s.cancel()
				return
			}
			s.reportError(err)
			if !s.wait(backoff) {
				s.setState(StateClosed)
				return
			}
			backoff = nextBackoff(backoff, s.mgr.maxBackoff)
			continue
		}

		s.setState(StateLive)
		backoff = s.mgr.initialBackoff

		if !s.pump(stream) {
			stream.Close()
			s.setState(StateClosed)
			return
		}

		// Stream dropped; report and reconnect.
		stream.Close()
		s.reportError(ErrStreamInterrupted)
		if !s.wait(backoff) {
			s.setState(StateClosed)
			return
		}
		backoff = nextBackoff(backoff, s.mgr.maxBackoff)
	}
}

// pump forwards events until the stream ends. Returns false when the
// subscription itself was cancelled.
func (s *subscription) pump(stream Stream) bool {
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return true
			}
			s.fanOut(ev)
		case <-s.ctx.Done():
			return false
		}
	}
}

// wait sleeps for the backoff period; returns false if cancelled first.
func (s *subscription) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
