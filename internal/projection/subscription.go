package projection

import (
	"sync"
)

// Subscription is a live stream of derived values. Views is closed when the
// stream ends; Err is nil after Unsubscribe and wraps
// models.ErrSubscriptionLost when the store stream failed.
type Subscription[V any] struct {
	out    chan V
	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

// ViewSubscription streams one patient's ProjectedView.
type ViewSubscription = Subscription[ProjectedView]

// RosterSubscription streams the full roster.
type RosterSubscription = Subscription[[]RosterEntry]

func newSubscription[V any](buffer int) *Subscription[V] {
	return &Subscription[V]{
		out:    make(chan V, buffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Views returns the delivery channel.
func (s *Subscription[V]) Views() <-chan V { return s.out }

// Err returns why the stream ended.
func (s *Subscription[V]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe stops the stream and releases the store subscription. Once it
// returns no further value is readable from Views. Calling it again is a no-op.
func (s *Subscription[V]) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		<-s.exited
		for range s.out {
		}
	})
}

// Done is closed when the stream has ended for any reason.
func (s *Subscription[V]) Done() <-chan struct{} { return s.exited }

func (s *Subscription[V]) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// deliver blocks until the value is taken or the subscription is stopped.
func (s *Subscription[V]) deliver(v V) bool {
	if s.stopped() {
		return false
	}
	select {
	case s.out <- v:
		return true
	case <-s.done:
		return false
	}
}

func (s *Subscription[V]) finish(err error) {
	if s.stopped() {
		err = nil
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.out)
	close(s.exited)
}
