// Package broadcast implements the page-wide "now playing" channel that keeps
// at most one player audible. It carries notifications only; there is no
// shared registry of who owns playback.
package broadcast

import (
	"sync"
)

// Handler receives the identity of the player that just started.
type Handler func(publisherID string)

type subscriber struct {
	playerID string
	handle   Handler
}

// Bus fans a play notification out to every subscribed player.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextKey     uint64
}

// Subscription is returned by Subscribe and removes itself on Unsubscribe.
type Subscription struct {
	bus  *Bus
	key  uint64
	once sync.Once
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[uint64]subscriber),
	}
}

// Subscribe registers a player under its identity token.
func (b *Bus) Subscribe(playerID string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextKey++
	b.subscribers[b.nextKey] = subscriber{playerID: playerID, handle: h}
	return &Subscription{bus: b, key: b.nextKey}
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s.key)
		s.bus.mu.Unlock()
	})
}

// Publish announces that publisherID started playing. Every other subscriber
// is called synchronously, so by the time Publish returns they have all had
// the chance to pause.
func (b *Bus) Publish(publisherID string) {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.playerID == publisherID {
			continue
		}
		targets = append(targets, sub.handle)
	}
	b.mu.RUnlock()

	// Handlers run outside the lock so they may publish or unsubscribe
	for _, h := range targets {
		h(publisherID)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
