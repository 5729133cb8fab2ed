package servable

import (
	"sync"
	"sync/atomic"

	"github.com/kimbyungsang/cranberries/internal/logging"
	"github.com/rs/zerolog"
)

const defaultSubscriberBufferSize = 128

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	// BlockOnFull makes Publish wait for slow subscribers instead of dropping.
	BlockOnFull bool
}

type subscription[T any] struct {
	id uint64
	ch chan T
}

// Bus fans published values out to every subscriber channel.
type Bus[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]subscription[T]
	nextSubID   uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	log         zerolog.Logger
	published   atomic.Int64
	dropped     atomic.Int64
}

func NewBus[T any](opts BusOptions) *Bus[T] {
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.Name == "" {
		opts.Name = "servable_bus"
	}
	return &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
		log:         logging.Component("servable.Bus").With().Str("bus", opts.Name).Logger(),
	}
}

// Subscribe returns a channel of future values and a cancel func that closes it.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, b.options.SubscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = subscription[T]{id: id, ch: ch}
	b.mu.Unlock()

	return ch, func() { b.removeSubscriber(id) }
}

func (b *Bus[T]) Publish(value T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subscribers := make([]subscription[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	b.published.Add(1)
	for _, sub := range subscribers {
		b.send(sub, value)
	}
}

func (b *Bus[T]) send(sub subscription[T], value T) {
	defer func() {
		// The subscriber was cancelled concurrently and its channel closed.
		if recover() != nil {
			b.dropped.Add(1)
		}
	}()
	if b.options.BlockOnFull {
		sub.ch <- value
		return
	}
	select {
	case sub.ch <- value:
	default:
		b.dropped.Add(1)
		b.log.Warn().Uint64("subscriber", sub.id).Msg("subscriber buffer full, dropping event")
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
	})
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Bus[T]) Published() int64 {
	return b.published.Load()
}

func (b *Bus[T]) Dropped() int64 {
	return b.dropped.Load()
}
