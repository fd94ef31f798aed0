// Package broadcast provides small push-style notification primitives for
// reactive consumers: Value replays the latest value to new subscribers
// (state-like signals), Signal is fire-and-forget (event-like signals).
// Both support multiple independent subscribers with latest-value-wins
// semantics; a slow subscriber never blocks the publisher.
package broadcast

import "sync"

// Value holds a current value and broadcasts updates. New subscribers
// immediately receive the most recent value. There is no replay guarantee
// beyond the latest value: if a subscriber lags, intermediate values are
// dropped.
type Value[T any] struct {
	mu   sync.Mutex
	cur  T
	subs map[int]chan T
	next int
}

// NewValue returns a Value seeded with initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{cur: initial, subs: make(map[int]chan T)}
}

// Current returns the most recently sent value.
func (v *Value[T]) Current() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Send stores val as the current value and notifies all subscribers.
func (v *Value[T]) Send(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = val
	for _, ch := range v.subs {
		offer(ch, val)
	}
}

// Subscribe registers a new subscriber. The returned channel has a buffer of
// one and is primed with the current value. Call the cancel function to
// unsubscribe and close the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.next
	v.next++
	ch := make(chan T, 1)
	ch <- v.cur
	v.subs[id] = ch
	return ch, func() { v.unsubscribe(id) }
}

func (v *Value[T]) unsubscribe(id int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ch, ok := v.subs[id]; ok {
		delete(v.subs, id)
		close(ch)
	}
}

// Signal broadcasts events without retaining them. Late subscribers only see
// events sent after they subscribed.
type Signal[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{subs: make(map[int]chan T)}
}

// Send notifies all current subscribers. Lagging subscribers lose older
// events in favour of the newest one.
func (s *Signal[T]) Send(val T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		offer(ch, val)
	}
}

// Subscribe registers a new subscriber with a one-event buffer. Call the
// cancel function to unsubscribe and close the channel.
func (s *Signal[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan T, 1)
	s.subs[id] = ch
	return ch, func() { s.unsubscribe(id) }
}

func (s *Signal[T]) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// offer replaces the pending value in a 1-buffered channel with val.
func offer[T any](ch chan T, val T) {
	for {
		select {
		case ch <- val:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
