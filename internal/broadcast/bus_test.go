package broadcast

import (
	"sync"
	"testing"
)

func TestNewBus(t *testing.T) {
	b := NewBus()
	if b.Len() != 0 {
		t.Errorf("Initial Len = %d, want 0", b.Len())
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBus()

	s1 := b.Subscribe("a", func(string) {})
	s2 := b.Subscribe("b", func(string) {})
	if b.Len() != 2 {
		t.Errorf("After 2 subscribes: Len = %d, want 2", b.Len())
	}

	s1.Unsubscribe()
	s1.Unsubscribe() // second call is a no-op
	if b.Len() != 1 {
		t.Errorf("After unsubscribe: Len = %d, want 1", b.Len())
	}

	s2.Unsubscribe()
	if b.Len() != 0 {
		t.Errorf("After all unsubscribed: Len = %d, want 0", b.Len())
	}

	var nilSub *Subscription
	nilSub.Unsubscribe()
}

func TestPublishSkipsPublisher(t *testing.T) {
	b := NewBus()
	var got []string

	b.Subscribe("a", func(from string) { got = append(got, "a<-"+from) })
	b.Subscribe("b", func(from string) { got = append(got, "b<-"+from) })

	b.Publish("a")

	if len(got) != 1 || got[0] != "b<-a" {
		t.Errorf("deliveries = %v, want [b<-a]", got)
	}
}

func TestPublishIsSynchronous(t *testing.T) {
	b := NewBus()
	paused := false
	b.Subscribe("other", func(string) { paused = true })

	b.Publish("me")

	if !paused {
		t.Error("subscriber was not notified before Publish returned")
	}
}

func TestHandlerMayUnsubscribeDuringPublish(t *testing.T) {
	b := NewBus()
	var sub *Subscription
	calls := 0
	sub = b.Subscribe("x", func(string) {
		calls++
		sub.Unsubscribe()
	})

	b.Publish("y")
	b.Publish("y")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
}

func TestConcurrentPublish(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	count := 0
	for i := 0; i < 4; i++ {
		b.Subscribe("listener", func(string) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish("publisher")
		}()
	}
	wg.Wait()

	if count != 40 {
		t.Errorf("count = %d, want 40", count)
	}
}
