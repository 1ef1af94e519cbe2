// Package eventbus fans authsync events out to UI listeners. Every
// subscription returns a handle that cancels it.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	authsync "github.com/goliatone/go-authsync"
	"github.com/google/uuid"
)

// Handler receives one event. Handlers run synchronously, in subscription
// order, on the publishing goroutine.
type Handler func(ctx context.Context, event authsync.Event)

// Subscription is the cancel handle returned by Subscribe.
type Subscription struct {
	id     string
	bus    *Bus
	topics map[authsync.EventType]struct{}
	fn     Handler
	ch     chan authsync.Event
	once   sync.Once

	done     chan struct{}
	stopOnce sync.Once
	sendMu   sync.RWMutex
	closed   bool
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string {
	return s.id
}

// C returns the delivery channel of a channel subscription, nil otherwise.
func (s *Subscription) C() <-chan authsync.Event {
	return s.ch
}

// Unsubscribe cancels the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

// closeChan wakes blocked senders, then closes the delivery channel.
func (s *Subscription) closeChan() {
	if s.ch == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.done) })
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) matches(t authsync.EventType) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[t]
	return ok
}

// Option customizes a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for handler panics and dropped events.
func WithLogger(logger authsync.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Bus is a typed in-process publish/subscribe bus. It implements
// authsync.Publisher.
type Bus struct {
	logger authsync.Logger

	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

// New returns an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger: authsync.DefaultLogger("eventbus"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe registers fn for the given topics, or for every topic when none
// are given.
func (b *Bus) Subscribe(fn Handler, topics ...authsync.EventType) *Subscription {
	sub := b.newSubscription(topics)
	sub.fn = fn
	b.add(sub)
	return sub
}

// SubscribeChan delivers matching events on a buffered channel. When the
// buffer is full, auth.login.success and auth.logout wait for room until the
// publish context is done; other events are dropped. The channel is closed on
// Unsubscribe or Close. A full channel holds up the publisher, so readers must
// not call back into the session engine before draining it.
func (b *Bus) SubscribeChan(buffer int, topics ...authsync.EventType) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := b.newSubscription(topics)
	sub.ch = make(chan authsync.Event, buffer)
	sub.done = make(chan struct{})
	b.add(sub)
	return sub
}

// Publish implements authsync.Publisher.
func (b *Bus) Publish(ctx context.Context, event authsync.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	subs := append([]*Subscription(nil), b.subs...)
	b.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		if !sub.matches(event.Type) {
			continue
		}
		if sub.ch != nil {
			b.deliverChan(ctx, sub, event)
			continue
		}
		if err := b.call(ctx, sub, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("eventbus: %d handler(s) failed for %s: %w", len(errs), event.Type, errs[0])
	}
	return nil
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscription. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.closeChan()
	}
}

func (b *Bus) newSubscription(topics []authsync.EventType) *Subscription {
	sub := &Subscription{
		id:  uuid.NewString(),
		bus: b,
	}
	if len(topics) > 0 {
		sub.topics = make(map[authsync.EventType]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}
	return sub
}

func (b *Bus) add(sub *Subscription) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.closeChan()
		return
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	sub.closeChan()
}

func (b *Bus) call(ctx context.Context, sub *Subscription, event authsync.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler %s panicked on %s: %v", sub.id, event.Type, r)
			err = fmt.Errorf("handler %s panicked: %v", sub.id, r)
		}
	}()
	sub.fn(ctx, event)
	return nil
}

func (b *Bus) deliverChan(ctx context.Context, sub *Subscription, event authsync.Event) {
	// the read lock keeps the channel open for the duration of the send.
	sub.sendMu.RLock()
	defer sub.sendMu.RUnlock()
	if sub.closed {
		return
	}

	select {
	case sub.ch <- event:
		return
	default:
	}
	if !mustDeliver(event.Type) {
		b.logger.Warn("subscriber %s is slow, dropping %s", sub.id, event.Type)
		return
	}

	select {
	case sub.ch <- event:
	case <-sub.done:
	case <-ctx.Done():
		b.logger.Warn("subscriber %s missed %s: %v", sub.id, event.Type, ctx.Err())
	}
}

// mustDeliver reports whether event marks a session boundary a listener
// cannot recover from missing.
func mustDeliver(t authsync.EventType) bool {
	return t == authsync.EventLogout || t == authsync.EventLoginSuccess
}
