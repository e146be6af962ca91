// Package broadcast is an in-process publish/subscribe bus keyed by
// channel name. It plays the role the original tree's ISubscriber and
// Channel classes played for pushing messages out to many listeners
// at once (a presence update, a naming-service instance-list change)
// without each publisher knowing who's listening.
package broadcast

import (
	"sync"

	"github.com/tencent/pebble/errs"
)

// Subscriber receives pushed messages on a named channel. ID
// identifies it for Unsubscribe. Only direct, in-process subscribers
// exist in this package; there is no piped variant, since Pebble here
// has no separate broadcast daemon process.
type Subscriber interface {
	ID() int64
	Push(msg []byte) error
}

// ChanSubscriber is a Subscriber backed by a buffered Go channel, the
// natural fit for in-process fan-out. Push drops the message and
// returns BuffNotEnough if the subscriber isn't keeping up, rather
// than blocking the publisher.
type ChanSubscriber struct {
	id int64
	ch chan []byte
}

// NewChanSubscriber returns a subscriber whose Messages channel
// buffers up to capacity pending pushes.
func NewChanSubscriber(id int64, capacity int) *ChanSubscriber {
	if capacity <= 0 {
		capacity = 16
	}
	return &ChanSubscriber{id: id, ch: make(chan []byte, capacity)}
}

func (s *ChanSubscriber) ID() int64 { return s.id }

func (s *ChanSubscriber) Push(msg []byte) error {
	select {
	case s.ch <- msg:
		return nil
	default:
		return errs.New(errs.BuffNotEnough)
	}
}

// Messages is the channel new pushes arrive on.
func (s *ChanSubscriber) Messages() <-chan []byte { return s.ch }

// Bus is a collection of named channels, each with its own
// subscriber set. The zero value is not usable; use NewBus.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[int64]Subscriber
}

// NewBus returns an empty broadcast bus.
func NewBus() *Bus {
	return &Bus{channels: make(map[string]map[int64]Subscriber)}
}

// Subscribe adds sub to channel name, creating the channel if this is
// its first subscriber.
func (b *Bus) Subscribe(name string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.channels[name]
	if !ok {
		subs = make(map[int64]Subscriber)
		b.channels[name] = subs
	}
	subs[sub.ID()] = sub
}

// Unsubscribe removes a subscriber by id from channel name.
func (b *Bus) Unsubscribe(name string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.channels[name]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.channels, name)
	}
}

// Publish pushes msg to every current subscriber of name. A
// subscriber whose Push fails (full buffer, closed connection) is
// skipped, not retried; the failure is reported in the returned slice
// so a caller can log or evict it.
func (b *Bus) Publish(name string, msg []byte) []error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.channels[name]))
	for _, s := range b.channels[name] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	var errList []error
	for _, s := range subs {
		if err := s.Push(msg); err != nil {
			errList = append(errList, err)
		}
	}
	return errList
}

// Subscribers reports how many listeners channel name currently has.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[name])
}
