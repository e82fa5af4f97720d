package aperture

import (
	"sync"

	"aperture/internal/model"
)

const defaultEventBuffer = 64

// EventBus fans change notifications out to the watchers of each device.
// Publish never blocks; a watcher whose buffer is full misses the event.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
	logger Logger
}

func NewEventBus(buffer int, logger Logger) *EventBus {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &EventBus{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription receives the events of one device until closed.
type Subscription struct {
	C <-chan model.Event

	ch       chan model.Event
	bus      *EventBus
	deviceID string
}

// Subscribe registers a watcher for deviceID.
// On a closed bus the subscription's channel is already closed.
func (b *EventBus) Subscribe(deviceID string) *Subscription {
	ch := make(chan model.Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b, deviceID: deviceID}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	if b.subs[deviceID] == nil {
		b.subs[deviceID] = make(map[*Subscription]struct{})
	}
	b.subs[deviceID][sub] = struct{}{}
	return sub
}

// Close unregisters the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[s.deviceID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.deviceID)
	}
	close(s.ch)
}

// Publish delivers ev to the watchers of ev.DeviceID.
func (b *EventBus) Publish(ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[ev.DeviceID] {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("dropping event for slow watcher", "device_id", ev.DeviceID, "type", ev.Type)
		}
	}
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.subs, id)
	}
}
