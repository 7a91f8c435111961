package inspector

import (
	"encoding/json"

	"github.com/deskbridge/deskbridge-gateway/pkg/sdk"
)

// Methods exchanged with the desktop inspector.
const (
	MethodExecute    = "execute"
	MethodGetPlugins = "getPlugins"
	MethodInit       = "init"
	MethodDeinit     = "deinit"
)

// message is the envelope for every frame in both directions. Requests
// carry an id and expect a reply with the same id holding either success
// or error.
type message struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Success any             `json:"success,omitempty"`
	Error   *replyError     `json:"error,omitempty"`
}

type inboundMessage struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type replyError struct {
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

type executeParams struct {
	API    string      `json:"api"`
	Method string      `json:"method"`
	Params *sdk.Object `json:"params"`
}

type pluginParams struct {
	Plugin string `json:"plugin"`
}

type pluginList struct {
	Plugins []string `json:"plugins"`
}
