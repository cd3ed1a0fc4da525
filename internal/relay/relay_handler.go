package relay

import (
	"fmt"

	"github.com/runframe/agentrelay/internal/events"
	"github.com/runframe/agentrelay/internal/logger"
	"github.com/runframe/agentrelay/internal/metrics"
)

// Relay error messages sent back to the offending connection.
const (
	MsgIdentifyFirst     = "Please IDENTIFY yourself first (role: 'ui' or 'agent')"
	MsgNoAgent           = "No agent client connected"
	MsgAgentSuperseded   = "Agent connection superseded by a newer agent"
	MsgAgentAuthFailed   = "Agent authentication failed"
	MsgInternalError     = "Internal server error handling message"
	msgUnknownRoleFormat = "Unknown role %q (expected 'ui' or 'agent')"
	msgReidentifyFormat  = "Connection already identified as %s"
)

// AgentVerifier checks the key presented by an agent's IDENTIFY.
type AgentVerifier interface {
	Verify(key string) error
}

// RelayOptions configures RelayHandlers built by NewRelayFactory.
type RelayOptions struct {
	Verifier AgentVerifier
	Journal  Journal
}

// RelayHandler routes UI frames to the agent and agent frames to every UI.
type RelayHandler struct {
	id   string
	reg  *Registry
	opts RelayOptions

	role events.Role
	send SendFunc
	// announced is the presence told to this connection on connect.
	announced bool
}

// NewRelayFactory returns a factory whose handlers share reg.
func NewRelayFactory(reg *Registry, opts RelayOptions) HandlerFactory {
	return func(connID string) Handler {
		return &RelayHandler{id: connID, reg: reg, opts: opts}
	}
}

// Role is empty until the connection identifies.
func (h *RelayHandler) Role() events.Role {
	return h.role
}

func (h *RelayHandler) OnConnect(send SendFunc) {
	h.send = send
	metrics.Connections.WithLabelValues(roleLabel(h.role)).Inc()
	h.opts.Journal.record(Record{ConnectionID: h.id, Action: ActionConnect})

	// A fresh tab learns agent presence without waiting for an event.
	h.announced = h.reg.HasAgent()
	send(presence(h.announced))
}

func presence(connected bool) events.Event {
	if connected {
		return events.Transport(events.AgentConnected{})
	}
	return events.Transport(events.AgentDisconnected{})
}

func (h *RelayHandler) OnMessage(ev events.Event, send SendFunc) error {
	if ev.Type == events.TypeIdentify {
		return h.identify(ev, send)
	}

	switch h.role {
	case events.RoleUI:
		_, agentSend, ok := h.reg.Agent()
		if !ok {
			h.reject(send, ev, "no_agent", MsgNoAgent)
			return nil
		}
		agentSend(ev)
		metrics.Forwarded.WithLabelValues("ui_to_agent", metrics.TypeLabel(ev.Type)).Inc()
		h.opts.Journal.record(Record{ConnectionID: h.id, Role: h.role, Action: ActionForward, EventType: ev.Type, ArtifactID: ev.Artifact()})
		logger.WS("forward", fmt.Sprintf("%s ui→agent %s", short(h.id), ev.Type))

	case events.RoleAgent:
		if !h.reg.IsAgent(h.id) {
			h.reject(send, ev, "superseded", MsgAgentSuperseded)
			return nil
		}
		n := h.reg.BroadcastUI(ev)
		metrics.Forwarded.WithLabelValues("agent_to_ui", metrics.TypeLabel(ev.Type)).Inc()
		h.opts.Journal.record(Record{ConnectionID: h.id, Role: h.role, Action: ActionBroadcast, EventType: ev.Type, ArtifactID: ev.Artifact(), Detail: fmt.Sprintf("%d ui", n)})
		logger.WS("broadcast", fmt.Sprintf("%s agent→%d ui %s", short(h.id), n, ev.Type))

	default:
		h.reject(send, ev, "unidentified", MsgIdentifyFirst)
	}
	return nil
}

func (h *RelayHandler) identify(ev events.Event, send SendFunc) error {
	if h.role != "" {
		h.reject(send, ev, "reidentify", fmt.Sprintf(msgReidentifyFormat, h.role))
		return nil
	}

	p, err := ev.Decode()
	if err != nil {
		return fmt.Errorf("identify %s: %w", short(h.id), err)
	}
	id := p.(events.Identify)

	switch id.Role {
	case events.RoleUI:
		h.setRole(events.RoleUI)
		// The agent may have changed between connect and IDENTIFY, when this
		// socket was not yet in the broadcast set.
		if present := h.reg.AddUI(h.id, send); present != h.announced {
			send(presence(present))
		}

	case events.RoleAgent:
		if h.opts.Verifier != nil {
			if err := h.opts.Verifier.Verify(id.Key); err != nil {
				h.reject(send, ev, "agent_auth", MsgAgentAuthFailed)
				return nil
			}
		}
		h.setRole(events.RoleAgent)
		prevID, prevSend := h.reg.SetAgent(h.id, send)
		if prevSend != nil {
			logger.Warn("Agent %s superseded by %s", short(prevID), short(h.id))
			prevSend(events.ErrorReply(MsgAgentSuperseded))
		}
		metrics.AgentPresent.Set(1)
		h.reg.BroadcastUI(events.Transport(events.AgentConnected{}))

	default:
		h.reject(send, ev, "unknown_role", fmt.Sprintf(msgUnknownRoleFormat, id.Role))
		return nil
	}

	h.opts.Journal.record(Record{ConnectionID: h.id, Role: h.role, Action: ActionIdentify})
	logger.WS("identified", fmt.Sprintf("%s as %s", short(h.id), h.role))
	return nil
}

func (h *RelayHandler) OnDisconnect() {
	metrics.Connections.WithLabelValues(roleLabel(h.role)).Dec()
	h.opts.Journal.record(Record{ConnectionID: h.id, Role: h.role, Action: ActionDisconnect})

	switch h.role {
	case events.RoleUI:
		h.reg.RemoveUI(h.id)
	case events.RoleAgent:
		// A displaced agent no longer owns the slot; its exit is silent.
		if h.reg.ClearAgent(h.id) {
			metrics.AgentPresent.Set(0)
			h.reg.BroadcastUI(events.Transport(events.AgentDisconnected{}))
			logger.Info("Agent %s disconnected", short(h.id))
		}
	}
}

func (h *RelayHandler) setRole(role events.Role) {
	metrics.Connections.WithLabelValues(roleLabel(h.role)).Dec()
	h.role = role
	metrics.Connections.WithLabelValues(roleLabel(h.role)).Inc()
}

func (h *RelayHandler) reject(send SendFunc, ev events.Event, reason, message string) {
	metrics.ProtocolErrors.WithLabelValues(reason).Inc()
	h.opts.Journal.record(Record{ConnectionID: h.id, Role: h.role, Action: ActionReject, EventType: ev.Type, ArtifactID: ev.Artifact(), Detail: message})
	logger.Debug("Rejected %s from %s: %s", ev.Type, short(h.id), message)
	send(events.ErrorReply(message))
}

func roleLabel(r events.Role) string {
	if r == "" {
		return "unidentified"
	}
	return string(r)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
