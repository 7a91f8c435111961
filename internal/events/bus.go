package events

import (
	"sync"

	"github.com/deskbridge/deskbridge-gateway/pkg/sdk"
)

// Lifecycle event types published by the host.
const (
	InspectorAttached  = "inspector.attached"
	InspectorDetached  = "inspector.detached"
	PluginAdded        = "plugin.added"
	PluginConnected    = "plugin.connected"
	PluginDisconnected = "plugin.disconnected"
	PluginError        = "plugin.error"
	ChangesetReceived  = "changeset.received"
)

const subscriberBuffer = 64

// Bus fans host events out to subscribers. Publishing never blocks; a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan sdk.Event]struct{}
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[chan sdk.Event]struct{}),
	}
}

func (b *Bus) Subscribe() chan sdk.Event {
	ch := make(chan sdk.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch chan sdk.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

func (b *Bus) Publish(ev sdk.Event) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.RUnlock()
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
