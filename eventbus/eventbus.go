// Package eventbus implements an in-process publish/subscribe bus for
// consensus events with a single publisher (the consensus engine) and
// multiple subscribers.
//
// Subscribers register for a single event type and receive messages on a
// buffered channel. A subscriber that stops pulling messages does not block
// the publisher: once its buffer is full the subscription is terminated with
// ErrOutOfCapacity.
package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/roundstep/roundstep/libs/log"
	"github.com/roundstep/roundstep/libs/service"
)

var (
	// ErrUnsubscribed is returned by Err when a client unsubscribes.
	ErrUnsubscribed = errors.New("client unsubscribed")

	// ErrOutOfCapacity is returned by Err when a client is not pulling
	// messages fast enough. The client's subscription is terminated.
	ErrOutOfCapacity = errors.New("client is not pulling messages fast enough")

	// ErrSubscriptionNotFound is returned when a client tries to unsubscribe
	// from a subscription the bus does not know about.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrBusStopped is returned by Publish when the bus is not running.
	ErrBusStopped = errors.New("event bus is stopped")
)

// Message glues an event type and its payload together.
type Message struct {
	eventType string
	data      interface{}
}

// Type returns the event type the message was published under.
func (m Message) Type() string { return m.eventType }

// Data returns the payload published with the message.
func (m Message) Data() interface{} { return m.data }

// A Subscription represents a client subscription for a particular event
// type and consists of three things:
// 1) channel onto which messages are published
// 2) channel which is closed if the client is too slow or chooses to unsubscribe
// 3) err indicating the reason for (2)
type Subscription struct {
	id        string
	eventType string
	out       chan Message

	mtx      sync.RWMutex
	canceled chan struct{}
	err      error
}

func newSubscription(eventType string, outCapacity int) *Subscription {
	return &Subscription{
		id:        uuid.NewString(),
		eventType: eventType,
		out:       make(chan Message, outCapacity),
		canceled:  make(chan struct{}),
	}
}

// ID returns the unique identifier for the subscription.
func (s *Subscription) ID() string { return s.id }

// EventType returns the event type the subscription was created for.
func (s *Subscription) EventType() string { return s.eventType }

// Out returns a channel onto which messages are published.
// Unsubscribe does not close the channel to avoid clients receiving a nil
// message.
func (s *Subscription) Out() <-chan Message { return s.out }

// Canceled returns a channel that is closed when the subscription is
// terminated, intended for use in a select statement.
func (s *Subscription) Canceled() <-chan struct{} { return s.canceled }

// Err returns nil if the channel returned by Canceled is not yet closed.
// If the channel is closed, Err returns a non-nil error explaining why:
//   - ErrUnsubscribed if the subscriber chose to unsubscribe,
//   - ErrOutOfCapacity if the subscriber is not pulling messages fast enough
//     and the channel returned by Out became full.
//
// After Err returns a non-nil error, successive calls to Err return the same
// error.
func (s *Subscription) Err() error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.err
}

func (s *Subscription) cancel(err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.err == nil {
		s.err = err
	}
	close(s.canceled)
}

// Bus distributes consensus events to subscribers. All methods are safe for
// concurrent use.
type Bus struct {
	service.BaseService
	logger log.Logger

	mtx  sync.Mutex
	subs map[string]map[string]*Subscription // event type -> subscription ID -> subscription
}

// NewBus returns a bus with no subscriptions.
func NewBus(logger log.Logger) *Bus {
	b := &Bus{
		logger: logger,
		subs:   make(map[string]map[string]*Subscription),
	}
	b.BaseService = *service.NewBaseService(logger, "EventBus", b)
	return b
}

// OnStart implements service.Implementation.
func (b *Bus) OnStart(ctx context.Context) error { return nil }

// OnStop implements service.Implementation. All outstanding subscriptions
// are canceled without error.
func (b *Bus) OnStop() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for _, byID := range b.subs {
		for _, s := range byID {
			s.cancel(nil)
		}
	}
	b.subs = make(map[string]map[string]*Subscription)
}

// Subscribe registers for messages of the given event type. The returned
// subscription buffers up to outCapacity messages; if the buffer fills
// because the client stops reading, the subscription is canceled with
// ErrOutOfCapacity. Subscribing is allowed before the bus is started.
func (b *Bus) Subscribe(eventType string, outCapacity int) *Subscription {
	s := newSubscription(eventType, outCapacity)

	b.mtx.Lock()
	defer b.mtx.Unlock()
	byID, ok := b.subs[eventType]
	if !ok {
		byID = make(map[string]*Subscription)
		b.subs[eventType] = byID
	}
	byID[s.id] = s
	return s
}

// Unsubscribe removes the subscription and cancels it with ErrUnsubscribed.
// The out channel is left open; pending messages may still be drained.
func (b *Bus) Unsubscribe(s *Subscription) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	byID, ok := b.subs[s.eventType]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if _, ok := byID[s.id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(byID, s.id)
	if len(byID) == 0 {
		delete(b.subs, s.eventType)
	}
	s.cancel(ErrUnsubscribed)
	return nil
}

// NumSubscriptions returns the number of live subscriptions across all event
// types.
func (b *Bus) NumSubscriptions() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	n := 0
	for _, byID := range b.subs {
		n += len(byID)
	}
	return n
}

// Publish delivers data to every subscription registered for eventType.
// Subscribers whose buffers are full are terminated with ErrOutOfCapacity so
// a slow client can never block the publisher.
func (b *Bus) Publish(eventType string, data interface{}) error {
	if !b.IsRunning() {
		return ErrBusStopped
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()
	byID := b.subs[eventType]
	if len(byID) == 0 {
		return nil
	}

	msg := Message{eventType: eventType, data: data}
	for id, s := range byID {
		select {
		case s.out <- msg:
		default:
			b.logger.Error("subscriber is not pulling messages, terminating its subscription",
				"event_type", eventType, "subscription_id", id)
			s.cancel(ErrOutOfCapacity)
			delete(byID, id)
		}
	}
	if len(byID) == 0 {
		delete(b.subs, eventType)
	}
	return nil
}
