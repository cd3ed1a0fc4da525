package session

import "github.com/runframe/agentrelay/internal/events"

// Presence tracks whether the relay reports an agent on the other side.
type Presence struct {
	connected bool
}

func (p *Presence) Connected() bool {
	return p.connected
}

// Apply flips presence on AGENT_CONNECTED and AGENT_DISCONNECTED and
// reports whether the value changed. Other types are ignored.
func (p *Presence) Apply(t events.Type) bool {
	switch t {
	case events.TypeAgentConnected:
		return p.set(true)
	case events.TypeAgentDisconnected:
		return p.set(false)
	}
	return false
}

func (p *Presence) set(v bool) bool {
	if p.connected == v {
		return false
	}
	p.connected = v
	return true
}
