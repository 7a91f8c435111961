package sdk

// Event is a host lifecycle notification.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Bus is the host event bus as seen by plugins and transports.
type Bus interface {
	Publish(ev Event)
	Subscribe() chan Event
	Unsubscribe(ch chan Event)
}
