// Package relay implements the WebSocket relay: one Handler per socket,
// routing state shared through a Registry owned by the server instance.
package relay

import "github.com/runframe/agentrelay/internal/events"

// SendFunc delivers a frame to one connection. It never blocks; a
// connection that cannot keep up is dropped.
type SendFunc func(events.Event)

// Handler owns the per-socket state of one connection. Calls for a given
// connection are serialized; calls for different connections are not.
type Handler interface {
	OnConnect(send SendFunc)
	OnMessage(ev events.Event, send SendFunc) error
	OnDisconnect()
}

// HandlerFactory builds the handler for a freshly upgraded socket.
type HandlerFactory func(connID string) Handler

// Journal actions.
const (
	ActionConnect    = "connect"
	ActionIdentify   = "identify"
	ActionForward    = "forward"
	ActionBroadcast  = "broadcast"
	ActionReject     = "reject"
	ActionDisconnect = "disconnect"
)

// Record describes one routing decision. Payloads are never included.
type Record struct {
	ConnectionID string
	Role         events.Role
	Action       string
	EventType    events.Type
	ArtifactID   string
	Detail       string
}

// Journal receives routing records. A nil Journal discards them.
type Journal func(Record)

func (j Journal) record(r Record) {
	if j != nil {
		j(r)
	}
}
