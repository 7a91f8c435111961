package plugins

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/deskbridge/deskbridge-gateway/internal/config"
	"github.com/deskbridge/deskbridge-gateway/internal/events"
	"github.com/deskbridge/deskbridge-gateway/pkg/sdk"
	"go.uber.org/zap"
)

var (
	ErrUnknownPlugin   = errors.New("unknown plugin")
	ErrDuplicatePlugin = errors.New("plugin already registered")
	ErrNoSession       = errors.New("no inspector attached")
	ErrStaleSession    = errors.New("inspector session was replaced")
)

// Session is an attached inspector able to hand out per-plugin connections.
type Session interface {
	ID() string
	Connection(api string) sdk.Connection
	// Close ends the session. It must not block; the manager calls it while
	// holding its lock when a newer session takes over.
	Close()
}

// Info describes a registered plugin.
type Info struct {
	ID         string `json:"id"`
	Background bool   `json:"background"`
	Connected  bool   `json:"connected"`
}

// Manager owns the registered plugins and connects them to the attached
// inspector session.
type Manager struct {
	cfg *config.Config
	log *zap.Logger
	bus sdk.Bus

	mu        sync.Mutex
	order     []string
	plugins   map[string]sdk.Plugin
	connected map[string]bool
	session   Session
}

func NewManager(cfg *config.Config, log *zap.Logger, bus sdk.Bus) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		plugins:   make(map[string]sdk.Plugin),
		connected: make(map[string]bool),
	}
}

// Register adds every candidate enabled by the configuration and returns
// the first error encountered. Remaining candidates are still registered.
func (m *Manager) Register(candidates ...sdk.Plugin) error {
	var first error
	for _, p := range candidates {
		if !m.cfg.PluginEnabled(p.ID()) {
			m.log.Info("plugin disabled", zap.String("name", p.ID()))
			continue
		}
		if err := m.Add(p); err != nil {
			m.log.Error("failed to add plugin", zap.String("name", p.ID()), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Add registers p, running its Init hook when it has one.
func (m *Manager) Add(p sdk.Plugin) error {
	id := p.ID()
	if id == "" {
		return fmt.Errorf("add plugin: empty id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugins[id]; ok {
		return fmt.Errorf("add plugin %q: %w", id, ErrDuplicatePlugin)
	}
	if in, ok := p.(sdk.Initializer); ok {
		ctx := newPluginContext(id, m.log, m.bus, m.cfg.PluginConfig(id))
		if err := in.Init(ctx); err != nil {
			return fmt.Errorf("init plugin %q: %w", id, err)
		}
	}
	m.plugins[id] = p
	m.order = append(m.order, id)

	m.publish(events.PluginAdded, map[string]any{"plugin": id})
	m.log.Info("plugin added", zap.String("name", id), zap.Bool("background", p.RunInBackground()))

	// late registration while an inspector is attached
	if m.session != nil && p.RunInBackground() {
		_ = m.connectLocked(id)
	}
	return nil
}

func (m *Manager) Plugins() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, Info{
			ID:         id,
			Background: m.plugins[id].RunInBackground(),
			Connected:  m.connected[id],
		})
	}
	return out
}

// IDs returns the registered plugin ids in registration order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.order...)
}

func (m *Manager) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Attach makes s the active inspector session. A previous session is
// detached and closed. Background plugins are connected right away.
func (m *Manager) Attach(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev := m.session; prev != nil {
		m.log.Info("replacing inspector session",
			zap.String("old", prev.ID()),
			zap.String("new", s.ID()))
		m.detachLocked()
		prev.Close()
	}
	m.session = s
	m.publish(events.InspectorAttached, map[string]any{"session": s.ID()})
	m.log.Info("inspector attached", zap.String("session", s.ID()))

	for _, id := range m.order {
		if m.plugins[id].RunInBackground() {
			_ = m.connectLocked(id)
		}
	}
}

// Detach disconnects every plugin connected through s. It is a no-op when s
// is no longer the active session.
func (m *Manager) Detach(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.ID() != s.ID() {
		return
	}
	m.detachLocked()
}

// Activate connects the plugin the inspector on session s selected.
func (m *Manager) Activate(s Session, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugins[id]; !ok {
		return fmt.Errorf("activate %q: %w", id, ErrUnknownPlugin)
	}
	if err := m.checkSessionLocked(s); err != nil {
		return fmt.Errorf("activate %q: %w", id, err)
	}
	if m.connected[id] {
		return nil
	}
	return m.connectLocked(id)
}

// Deactivate disconnects the plugin the inspector on session s deselected.
func (m *Manager) Deactivate(s Session, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugins[id]; !ok {
		return fmt.Errorf("deactivate %q: %w", id, ErrUnknownPlugin)
	}
	if err := m.checkSessionLocked(s); err != nil {
		return fmt.Errorf("deactivate %q: %w", id, err)
	}
	if !m.connected[id] {
		return nil
	}
	return m.disconnectLocked(id)
}

// Shutdown detaches the inspector and stops plugins that hold resources.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.detachLocked()
	}
	for _, id := range m.order {
		s, ok := m.plugins[id].(sdk.Stopper)
		if !ok {
			continue
		}
		if err := s.Stop(); err != nil {
			m.log.Warn("plugin stop failed", zap.String("name", id), zap.Error(err))
		}
	}
}

// checkSessionLocked rejects calls from anything but the active session.
func (m *Manager) checkSessionLocked(s Session) error {
	if m.session == nil {
		return ErrNoSession
	}
	if s == nil || s.ID() != m.session.ID() {
		return ErrStaleSession
	}
	return nil
}

func (m *Manager) detachLocked() {
	for _, id := range m.order {
		if m.connected[id] {
			_ = m.disconnectLocked(id)
		}
	}
	sid := m.session.ID()
	m.session = nil
	m.publish(events.InspectorDetached, map[string]any{"session": sid})
	m.log.Info("inspector detached", zap.String("session", sid))
}

func (m *Manager) connectLocked(id string) error {
	if err := m.plugins[id].OnConnect(m.session.Connection(id)); err != nil {
		m.log.Warn("plugin connect failed", zap.String("name", id), zap.Error(err))
		m.publish(events.PluginError, map[string]any{"plugin": id, "op": "connect", "error": err.Error()})
		return fmt.Errorf("connect %q: %w", id, err)
	}
	m.connected[id] = true
	m.publish(events.PluginConnected, map[string]any{"plugin": id})
	m.log.Debug("plugin connected", zap.String("name", id))
	return nil
}

// disconnectLocked always marks the plugin disconnected; a failing hook is
// reported but the connection is not handed out again.
func (m *Manager) disconnectLocked(id string) error {
	delete(m.connected, id)
	if err := m.plugins[id].OnDisconnect(); err != nil {
		m.log.Warn("plugin disconnect failed", zap.String("name", id), zap.Error(err))
		m.publish(events.PluginError, map[string]any{"plugin": id, "op": "disconnect", "error": err.Error()})
		return fmt.Errorf("disconnect %q: %w", id, err)
	}
	m.publish(events.PluginDisconnected, map[string]any{"plugin": id})
	m.log.Debug("plugin disconnected", zap.String("name", id))
	return nil
}

func (m *Manager) publish(typ string, data map[string]any) {
	data["time"] = time.Now().Unix()
	m.bus.Publish(sdk.Event{Type: typ, Data: data})
}
