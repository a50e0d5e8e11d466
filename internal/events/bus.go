package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/medrex/medchain/pkg/logger"
	"github.com/medrex/medchain/pkg/monitoring"
	"github.com/medrex/medchain/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	defaultSubscriberBuffer = 64
	defaultSinkBuffer       = 1024
	sinkDeliveryTimeout     = 5 * time.Second
)

// Sink forwards notifications to an external broker
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event types.Event) error
	Close() error
}

type subscriber struct {
	id string
	ch chan types.Event
}

// Bus fans committed notifications out to in-process subscribers and an
// optional external sink. Publish never blocks: a full subscriber or sink
// queue drops the event and logs a warning.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	closed      bool

	sink      Sink
	sinkQueue chan types.Event
	wg        sync.WaitGroup

	metrics *monitoring.MetricsCollector
	logger  *logrus.Entry
}

// Option configures a Bus
type Option func(*Bus)

// WithSink attaches an external sink fed through a queue of the given size
func WithSink(sink Sink, buffer int) Option {
	return func(b *Bus) {
		if buffer <= 0 {
			buffer = defaultSinkBuffer
		}
		b.sink = sink
		b.sinkQueue = make(chan types.Event, buffer)
	}
}

// WithMetrics records published and dropped events
func WithMetrics(m *monitoring.MetricsCollector) Option {
	return func(b *Bus) { b.metrics = m }
}

// NewBus creates a bus and starts the sink dispatcher when a sink is set
func NewBus(log *logger.Logger, opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[uint64]*subscriber),
		logger:      log.WithComponent("events"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.sink != nil {
		b.wg.Add(1)
		go b.dispatch()
	}
	return b
}

// Subscribe registers a consumer. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan types.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan types.Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := b.nextID
	b.subscribers[id] = &subscriber{id: fmt.Sprintf("subscriber-%d", id), ch: ch}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub.ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers event to every subscriber and the sink queue
func (b *Bus) Publish(event types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			b.drop(sub.id, event)
		}
	}

	if b.sinkQueue != nil {
		select {
		case b.sinkQueue <- event:
		default:
			b.drop(b.sink.Name(), event)
		}
	}
}

func (b *Bus) drop(consumer string, event types.Event) {
	b.metrics.RecordEventDropped(consumer)
	b.logger.WithFields(logrus.Fields{
		"consumer":   consumer,
		"event_id":   event.ID,
		"event_type": event.Type,
	}).Warn("Notification queue full, event dropped")
}

func (b *Bus) dispatch() {
	defer b.wg.Done()

	for event := range b.sinkQueue {
		ctx, cancel := context.WithTimeout(context.Background(), sinkDeliveryTimeout)
		err := b.sink.Deliver(ctx, event)
		cancel()

		if err != nil {
			b.logger.WithError(err).WithFields(logrus.Fields{
				"sink":       b.sink.Name(),
				"event_id":   event.ID,
				"event_type": event.Type,
			}).Error("Failed to deliver event to sink")
			continue
		}
		b.logger.WithFields(logrus.Fields{
			"sink":       b.sink.Name(),
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Debug("Event delivered")
	}
}

// Close stops accepting events, drains the sink queue and closes every
// subscriber channel
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	if b.sinkQueue != nil {
		close(b.sinkQueue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	if b.sink != nil {
		return b.sink.Close()
	}
	return nil
}
