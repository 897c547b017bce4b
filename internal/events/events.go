// Package events carries channel lifecycle and DTMF notifications from the
// call handling code to interested observers.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	ChannelCreate          Type = "CHANNEL_CREATE"
	ChannelAnswer          Type = "CHANNEL_ANSWER"
	ChannelDestroy         Type = "CHANNEL_DESTROY"
	DTMF                   Type = "DTMF"
	ChannelExecuteComplete Type = "CHANNEL_EXECUTE_COMPLETE"
)

// Event is one notification about a channel.
type Event struct {
	Type        Type
	ChannelID   string
	ChannelName string
	CallID      string
	Caller      string
	Destination string
	Time        time.Time

	// Cause is set for CHANNEL_DESTROY.
	Cause string

	// Digit and Source are set for DTMF events.
	Digit  string
	Source string

	// Application, Data and Result are set for CHANNEL_EXECUTE_COMPLETE.
	Application string
	Data        string
	Result      string
}

// Sink receives events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// subscriberBuffer is the per-subscriber queue depth of a Bus.
const subscriberBuffer = 64

// Bus fans events out to subscribers. A subscriber that falls behind loses
// events instead of stalling call processing.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger.With("subsystem", "events"),
		subs:   make(map[int]chan Event),
	}
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event dropped for slow subscriber", "subscriber", id, "type", e.Type)
		}
	}
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Attach runs sink for every event until the bus is closed.
func (b *Bus) Attach(sink Sink) {
	ch, _ := b.Subscribe()
	go func() {
		for e := range ch {
			sink.Publish(e)
		}
	}()
}

// Close closes all subscriber channels. Later Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
