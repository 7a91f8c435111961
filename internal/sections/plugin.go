package sections

import (
	"sync"

	"github.com/deskbridge/deskbridge-gateway/pkg/sdk"
	"go.uber.org/zap"
)

const PluginID = "Sections"

// Outbound methods understood by the inspector's Sections plugin.
const (
	MethodAddEvent             = "addEvent"
	MethodHierarchyGeneration  = "updateTreeGenerationHierarchyGeneration"
	MethodChangesetGeneration  = "updateTreeGenerationChangesetGeneration"
	MethodChangesetApplication = "updateTreeGenerationChangesetApplication"
)

const (
	changesetGeneratedType = "CHANGESET_GENERATED"
	changesetAppliedType   = "CHANGESET_APPLIED"

	updateModeSync  = 1
	updateModeAsync = 0
)

// Timings are not measured yet; the inspector gets fixed values.
const (
	PlaceholderTimestamp = 10000
	PlaceholderDuration  = 0
)

type Option func(*Plugin)

// WithLogger sets the plugin logger. It takes precedence over the logger
// the host passes to Init.
func WithLogger(l *zap.Logger) Option {
	return func(p *Plugin) {
		p.log = l
		p.ownLog = true
	}
}

// Plugin forwards applied changesets from a Source to the inspector.
type Plugin struct {
	source Source
	log    *zap.Logger
	ownLog bool

	mu   sync.RWMutex
	conn sdk.Connection
}

func New(source Source, opts ...Option) *Plugin {
	p := &Plugin{source: source, log: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Plugin) ID() string { return PluginID }

// Init picks up the host logger unless one was given to New.
func (p *Plugin) Init(ctx sdk.Context) error {
	if l := ctx.Log(); l != nil && !p.ownLog {
		p.log = l
	}
	return nil
}

func (p *Plugin) OnConnect(conn sdk.Connection) error {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	p.source.SetListener(p)
	p.log.Debug("sections connected")
	return nil
}

// OnDisconnect drops the connection. The plugin stays registered on the
// source; events delivered while disconnected are discarded.
func (p *Plugin) OnDisconnect() error {
	p.mu.Lock()
	p.conn = nil
	p.mu.Unlock()
	p.log.Debug("sections disconnected")
	return nil
}

func (p *Plugin) RunInBackground() bool { return false }

// Connected reports whether a connection is attached.
func (p *Plugin) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil
}

func (p *Plugin) OnChangesetApplied(ev ChangesetEvent) {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil {
		return
	}

	updateMode := updateModeSync
	if ev.IsAsync {
		updateMode = updateModeAsync
	}
	// a missing tree or changeset goes out empty, never as null
	tree := ev.Tree
	if tree == nil {
		tree = sdk.Array{}
	}
	changeset := ev.ChangesetData
	if changeset == nil {
		changeset = sdk.NewObject()
	}

	conn.Send(MethodAddEvent, sdk.NewObject().
		Put("id", ev.ID).
		Put("update_mode", updateMode).
		Put("reason", ev.Name).
		Put("surface_key", ev.SurfaceID).
		Put("tree_generation_timestamp", PlaceholderTimestamp).
		Put("stack_trace", sdk.Array{}).
		Put("payload", sdk.NewObject()))

	conn.Send(MethodHierarchyGeneration, sdk.NewObject().
		Put("id", ev.ID).
		Put("hierarchy_generation_timestamp", PlaceholderTimestamp).
		Put("hierarchy_generation_duration", PlaceholderDuration).
		Put("tree", tree).
		Put("reason", ev.Name))

	// The generation message carries tree_generation_id as a plain string
	// while the application message below passes the id through untouched.
	// Both encode identically today; keep them distinct until the inspector
	// schema says which type it expects.
	conn.Send(MethodChangesetGeneration, sdk.NewObject().
		Put("type", changesetGeneratedType).
		Put("identifier", ev.ID).
		Put("tree_generation_id", string(ev.ID)).
		Put("timestamp", PlaceholderTimestamp).
		Put("duration", PlaceholderDuration).
		Put("changeset", changeset))

	conn.Send(MethodChangesetApplication, sdk.NewObject().
		Put("type", changesetAppliedType).
		Put("identifier", ev.ID).
		Put("tree_generation_id", ev.ID).
		Put("timestamp", PlaceholderTimestamp).
		Put("duration", PlaceholderDuration).
		Put("changeset", changeset))
}
