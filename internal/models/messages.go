package models

import "encoding/json"

// Backend actions carried in Message.Action.
const (
	ActionFetch      = "FETCH"
	ActionInvalidate = "INVALIDATE"
	ActionUpdate     = "UPDATE"
)

// Message is one JSON frame on the backend WebSocket. Requests and their
// responses share an ID; pushes from the backend carry none.
type Message struct {
	ID     string          `json:"id,omitempty"`
	Action string          `json:"action"`
	Path   Path            `json:"path,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Push is an unsolicited backend notification about one path.
type Push struct {
	Action string
	Path   Path
	Node   *Node // set for ActionUpdate
}

// PathRequest is the body of the collection action endpoints.
type PathRequest struct {
	Path Path `json:"path"`
}

// Event kinds published to UI subscribers.
const (
	EventCollection = "collection"
	EventStatus     = "status"
	EventError      = "error"
)

// Event is what the SSE endpoint streams to rendering layers.
type Event struct {
	Type   string            `json:"type"`
	Key    Key               `json:"key,omitempty"`
	Status *ConnectionStatus `json:"status,omitempty"`
	Error  string            `json:"error,omitempty"`
}
