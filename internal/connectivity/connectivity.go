// Package connectivity reports whether the device can reach the internet and
// notifies subscribers when that changes.
package connectivity

import (
	"context"
	"sync"
)

// State is one connectivity observation.
type State struct {
	IsConnected         bool   `json:"is_connected"`
	IsInternetReachable bool   `json:"is_internet_reachable"`
	Type                string `json:"type,omitempty"`
}

// Online is the single condition that lets a sync pass start.
func (s State) Online() bool {
	return s.IsConnected && s.IsInternetReachable
}

// Listener receives every published State. It runs on the publisher's
// goroutine and must not block.
type Listener func(State)

// Subscription is the handle returned by Subscribe. Unsubscribe is safe to
// call more than once.
type Subscription interface {
	Unsubscribe()
}

// Observer is the source of connectivity events.
type Observer interface {
	Current(ctx context.Context) (State, error)
	Subscribe(l Listener) Subscription
}

// Broadcaster is an in-process Observer: whatever is passed to Publish is
// delivered to every subscriber. The device bridge (HTTP push) and Prober
// both publish through one.
type Broadcaster struct {
	mu        sync.Mutex
	current   State
	known     bool
	nextID    uint64
	listeners map[uint64]Listener
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[uint64]Listener)}
}

// Current returns the last published state (offline before the first one).
func (b *Broadcaster) Current(_ context.Context) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, nil
}

// Publish records s and delivers it to every subscriber.
func (b *Broadcaster) Publish(s State) {
	b.mu.Lock()
	b.current = s
	b.known = true
	ls := b.snapshot()
	b.mu.Unlock()

	for _, l := range ls {
		l(s)
	}
}

// PublishIfChanged publishes s only if it differs from the last state.
func (b *Broadcaster) PublishIfChanged(s State) bool {
	b.mu.Lock()
	if b.known && b.current == s {
		b.mu.Unlock()
		return false
	}
	b.current = s
	b.known = true
	ls := b.snapshot()
	b.mu.Unlock()

	for _, l := range ls {
		l(s)
	}
	return true
}

// remember records s as the current state without notifying anyone.
func (b *Broadcaster) remember(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = s
	b.known = true
}

func (b *Broadcaster) snapshot() []Listener {
	ls := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		ls = append(ls, l)
	}
	return ls
}

func (b *Broadcaster) Subscribe(l Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[uint64]Listener)
	}
	b.nextID++
	id := b.nextID
	b.listeners[id] = l
	return &subscription{b: b, id: id}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

type subscription struct {
	b    *Broadcaster
	id   uint64
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		delete(s.b.listeners, s.id)
	})
}
