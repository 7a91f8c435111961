package changeset

import (
	"sync"

	"github.com/deskbridge/deskbridge-gateway/internal/sections"
)

// Debug is the hook the UI engine reports applied changesets through.
// It holds a single listener.
type Debug struct {
	mu       sync.RWMutex
	listener sections.Listener

	// serializes delivery so one event is handled before the next
	applyMu sync.Mutex
}

func NewDebug() *Debug { return &Debug{} }

// SetListener replaces the current listener. A nil listener stops delivery.
func (d *Debug) SetListener(l sections.Listener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

// HasListener reports whether a listener is registered.
func (d *Debug) HasListener() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.listener != nil
}

// Apply delivers ev to the listener on the calling goroutine. It reports
// false when nobody is listening.
func (d *Debug) Apply(ev sections.ChangesetEvent) bool {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	d.mu.RLock()
	l := d.listener
	d.mu.RUnlock()
	if l == nil {
		return false
	}
	l.OnChangesetApplied(ev)
	return true
}
