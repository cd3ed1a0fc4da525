package mockagent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/runframe/agentrelay/internal/events"
	"github.com/runframe/agentrelay/internal/logger"
	"github.com/runframe/agentrelay/internal/wsclient"
)

type AgentOptions struct {
	// Key is presented in IDENTIFY when the relay requires one.
	Key    string
	Header http.Header
	Delay  time.Duration
}

// RunAgent connects to the relay at url as the agent and answers UI events
// until ctx is cancelled or the connection ends.
func RunAgent(ctx context.Context, url string, r *Responder, opts AgentOptions) error {
	var conn *wsclient.Conn
	ready := make(chan struct{})
	p := newPlayer(r, opts.Delay, func(ev events.Event) {
		if err := conn.Send(ev); err != nil {
			logger.Warn("Mock agent send %s: %v", ev.Type, err)
		}
	})

	conn = wsclient.Connect(url, wsclient.Options{
		Header: opts.Header,
		OnOpen: func(send wsclient.SendFunc) {
			if err := send(events.Transport(events.Identify{Role: events.RoleAgent, Key: opts.Key})); err != nil {
				logger.Warn("Mock agent identify: %v", err)
				return
			}
			logger.Success("Mock agent connected to %s", url)
		},
		OnMessage: func(ev events.Event) {
			<-ready
			if ev.Type == events.TypeError && ev.FromRelay() {
				// A UI can forge an id-less ERROR, so the payload is untrusted.
				payload, err := ev.Decode()
				if e, ok := payload.(events.Error); ok && err == nil {
					logger.Warn("Relay refused mock agent: %s", e.Message)
				} else {
					logger.Warn("Mock agent ignoring malformed ERROR: %v", err)
				}
				return
			}
			if ev.Type.Transport() {
				return
			}
			p.submit(ev)
		},
	})
	close(ready)
	p.start()
	defer p.stop()

	select {
	case <-ctx.Done():
		conn.Close()
		<-conn.Done()
		return nil
	case <-conn.Done():
	}
	if conn.Status() == wsclient.StatusError {
		return fmt.Errorf("mock agent connection to %s failed", url)
	}
	return nil
}
