package session

import (
	"context"
	"errors"
	"sync"
)

// ErrBroadcasterClosed is returned by operations on a closed broadcaster
var ErrBroadcasterClosed = errors.New("broadcaster is closed")

// Broadcaster delivers session events between stores. Implementations
// deliver every event to every handler, including the publisher's own;
// stores filter by Event.Origin.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(handler func(Event)) (unsubscribe func(), err error)
	Close() error
}

// LocalBus fans events out synchronously to handlers in the same process
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[int]func(Event)
	next     int
	closed   bool
}

// NewLocalBus creates an empty bus
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(Event))}
}

// Publish calls every handler before returning
func (b *LocalBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBroadcasterClosed
	}
	handlers := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// Subscribe registers handler
func (b *LocalBus) Subscribe(handler func(Event)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBroadcasterClosed
	}
	id := b.next
	b.next++
	b.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}, nil
}

// Close drops all handlers; later calls fail with ErrBroadcasterClosed
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]func(Event))
	return nil
}

// handlerSet is the handler registry shared by the out-of-process
// broadcasters
type handlerSet struct {
	mu       sync.RWMutex
	handlers map[int]func(Event)
	next     int
}

func newHandlerSet() *handlerSet {
	return &handlerSet{handlers: make(map[int]func(Event))}
}

func (s *handlerSet) add(h func(Event)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.handlers[id] = h
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

func (s *handlerSet) dispatch(ev Event) {
	s.mu.RLock()
	handlers := make([]func(Event), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
