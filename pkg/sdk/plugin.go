package sdk

// Plugin is a debug plugin hosted by the gateway. The host hands it a
// Connection when the inspector activates it and takes it back on
// disconnect.
type Plugin interface {
	ID() string
	OnConnect(conn Connection) error
	OnDisconnect() error
	// RunInBackground plugins are connected as soon as an inspector
	// attaches instead of waiting for the inspector to select them.
	RunInBackground() bool
}

// Initializer is implemented by plugins that need the host context before
// their first connection.
type Initializer interface {
	Init(ctx Context) error
}

// Stopper is implemented by plugins holding resources past disconnect.
type Stopper interface {
	Stop() error
}

// Connection sends named messages to the plugin's counterpart in the
// desktop inspector. Sends are fire-and-forget.
type Connection interface {
	Send(method string, params *Object)
}
