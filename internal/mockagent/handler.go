package mockagent

import (
	"time"

	"github.com/runframe/agentrelay/internal/events"
	"github.com/runframe/agentrelay/internal/logger"
	"github.com/runframe/agentrelay/internal/relay"
)

// Handler answers UI connections directly, in place of the relay routing,
// so a UI can be developed with no agent process at all.
type Handler struct {
	id     string
	player *player
}

// NewFactory returns a relay.HandlerFactory whose handlers share r. delay
// is the pause between scripted replies.
func NewFactory(r *Responder, delay time.Duration) relay.HandlerFactory {
	return func(connID string) relay.Handler {
		return &Handler{id: connID, player: newPlayer(r, delay, nil)}
	}
}

func (h *Handler) OnConnect(send relay.SendFunc) {
	h.player.send = send
	h.player.start()
	logger.Info("Mock agent attached to %s", h.id)
	send(events.Transport(events.AgentConnected{}))
}

func (h *Handler) OnMessage(ev events.Event, send relay.SendFunc) error {
	if ev.Type == events.TypeIdentify {
		return nil
	}
	h.player.submit(ev)
	return nil
}

func (h *Handler) OnDisconnect() {
	h.player.stop()
	logger.Info("Mock agent detached from %s", h.id)
}
