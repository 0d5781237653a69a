package session

import (
	"sync"
	"time"
)

// AuthChanged is the typed event delivered to subscribers whenever the
// mirror recomputes authentication facts.
type AuthChanged struct {
	Authenticated bool
}

// Notifier propagates auth changes across tabs. The push backend models the
// platform's storage-change event; the polling backend is the fallback that
// bounds cross-tab staleness when no push mechanism exists.
type Notifier interface {
	Publish(AuthChanged)
	Subscribe(fn func(AuthChanged)) (unsubscribe func())
}

type noopNotifier struct{}

func (noopNotifier) Publish(AuthChanged)                {}
func (noopNotifier) Subscribe(func(AuthChanged)) func() { return func() {} }

// BroadcastNotifier is the push backend: a hub shared by every tab's Mirror.
// Publish delivers synchronously to all subscribers, including the
// publisher; mirrors suppress echo by only publishing on actual change.
type BroadcastNotifier struct {
	mu   sync.Mutex
	subs map[int]func(AuthChanged)
	next int
}

var _ Notifier = (*BroadcastNotifier)(nil)

func NewBroadcastNotifier() *BroadcastNotifier {
	return &BroadcastNotifier{subs: map[int]func(AuthChanged){}}
}

func (n *BroadcastNotifier) Publish(evt AuthChanged) {
	n.mu.Lock()
	handlers := make([]func(AuthChanged), 0, len(n.subs))
	for _, fn := range n.subs {
		handlers = append(handlers, fn)
	}
	n.mu.Unlock()

	for _, fn := range handlers {
		fn(evt)
	}
}

func (n *BroadcastNotifier) Subscribe(fn func(AuthChanged)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// PollingNotifier is the fallback backend: it samples a fact source at a
// coarse interval and delivers an event when the observed value changes.
// Publish is a no-op; changes become visible when the next poll observes
// them, which is exactly the bounded-staleness guarantee being modeled.
type PollingNotifier struct {
	source   func() AuthChanged
	interval time.Duration

	mu   sync.Mutex
	subs map[int]func(AuthChanged)
	next int
	last *AuthChanged
}

var _ Notifier = (*PollingNotifier)(nil)

func NewPollingNotifier(source func() AuthChanged, interval time.Duration) *PollingNotifier {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PollingNotifier{
		source:   source,
		interval: interval,
		subs:     map[int]func(AuthChanged){},
	}
}

func (n *PollingNotifier) Publish(AuthChanged) {}

func (n *PollingNotifier) Subscribe(fn func(AuthChanged)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Start begins polling until the returned stop function is called.
func (n *PollingNotifier) Start() (stop func()) {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				n.Poll()
			}
		}
	}()

	return func() { close(done) }
}

// Poll samples the source once, delivering to subscribers on change. Exposed
// so tests can drive the fallback backend without real timers.
func (n *PollingNotifier) Poll() {
	current := n.source()

	n.mu.Lock()
	changed := n.last == nil || *n.last != current
	n.last = &current
	handlers := make([]func(AuthChanged), 0, len(n.subs))
	for _, fn := range n.subs {
		handlers = append(handlers, fn)
	}
	n.mu.Unlock()

	if !changed {
		return
	}

	for _, fn := range handlers {
		fn(current)
	}
}
