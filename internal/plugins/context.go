package plugins

import (
	"github.com/deskbridge/deskbridge-gateway/pkg/sdk"
	"go.uber.org/zap"
)

// pluginContext is what a plugin's Init hook sees: its own logger, its own
// settings and a bus that tags everything it publishes with its id.
type pluginContext struct {
	log    *zap.Logger
	bus    sdk.Bus
	config map[string]any
}

func newPluginContext(id string, log *zap.Logger, bus sdk.Bus, cfg map[string]any) sdk.Context {
	return &pluginContext{
		log:    log.With(zap.String("plugin", id)),
		bus:    &scopedBus{Bus: bus, plugin: id},
		config: cfg,
	}
}

func (c *pluginContext) Log() *zap.Logger       { return c.log }
func (c *pluginContext) Bus() sdk.Bus           { return c.bus }
func (c *pluginContext) Config() map[string]any { return c.config }

type scopedBus struct {
	sdk.Bus
	plugin string
}

func (b *scopedBus) Publish(ev sdk.Event) {
	data := make(map[string]any, len(ev.Data)+1)
	for k, v := range ev.Data {
		data[k] = v
	}
	data["plugin"] = b.plugin
	b.Bus.Publish(sdk.Event{Type: ev.Type, Data: data})
}
