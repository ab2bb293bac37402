package store

import "sync"

// hub fans snapshots out to subscribers keyed by topic. Each subscriber gets
// its own delivery goroutine so a slow consumer never blocks a writer, and
// deliveries for one subscriber stay in publish order. The buffer coalesces
// under pressure by dropping the oldest queued snapshot; every delivery is a
// full replacement, so skipping an intermediate state is harmless.
type hub[T any] struct {
	mu     sync.Mutex
	nextID int64
	subs   map[string]map[int64]*subscriber[T]
}

type subscriber[T any] struct {
	ch   chan T
	stop chan struct{}
}

const subscriberBuffer = 16

func newHub[T any]() *hub[T] {
	return &hub[T]{subs: make(map[string]map[int64]*subscriber[T])}
}

// add registers a subscriber and returns it together with its teardown
// function. The caller may seed the subscriber's channel with an initial
// snapshot before any publish reaches it.
func (h *hub[T]) add(topic string, fn func(T)) (*subscriber[T], func()) {
	sub := &subscriber[T]{
		ch:   make(chan T, subscriberBuffer),
		stop: make(chan struct{}),
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int64]*subscriber[T])
	}
	h.subs[topic][id] = sub
	h.mu.Unlock()

	go func() {
		for {
			select {
			case snap := <-sub.ch:
				fn(snap)
			case <-sub.stop:
				return
			}
		}
	}()

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[topic], id)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
			h.mu.Unlock()
			close(sub.stop)
		})
	}
}

func (h *hub[T]) publish(topic string, snap T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[topic] {
		for {
			select {
			case sub.ch <- snap:
			default:
				// Full buffer: drop the oldest snapshot and retry.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (h *hub[T]) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subs := range h.subs {
		for id, sub := range subs {
			close(sub.stop)
			delete(subs, id)
		}
		delete(h.subs, topic)
	}
}
