package mockagent

import (
	"sync"
	"time"

	"github.com/runframe/agentrelay/internal/events"
	"github.com/runframe/agentrelay/internal/logger"
)

const queueSize = 32

// player runs reply scripts one at a time, pausing between steps. An
// interrupt abandons the script in progress.
type player struct {
	responder *Responder
	delay     time.Duration
	send      func(events.Event)

	queue     chan events.Event
	interrupt chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
}

func newPlayer(r *Responder, delay time.Duration, send func(events.Event)) *player {
	return &player{
		responder: r,
		delay:     delay,
		send:      send,
		queue:     make(chan events.Event, queueSize),
		interrupt: make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (p *player) start() {
	go p.loop()
}

// submit hands ev to the player. Interrupts are answered immediately.
func (p *player) submit(ev events.Event) {
	if ev.Type == events.TypeInterruptRequest {
		select {
		case p.interrupt <- struct{}{}:
		default:
		}
		for _, out := range p.responder.Respond(ev) {
			p.send(out)
		}
		return
	}
	select {
	case p.queue <- ev:
	default:
		logger.Warn("Mock agent busy, dropping %s", ev.Type)
		p.send(reply(ev.Artifact(), events.Error{Message: "Agent is busy, try again"}))
	}
}

func (p *player) stop() {
	p.stopOnce.Do(func() { close(p.done) })
	<-p.stopped
}

func (p *player) loop() {
	defer close(p.stopped)
	for {
		select {
		case <-p.done:
			return
		case ev := <-p.queue:
			// Drop an interrupt that arrived while idle.
			select {
			case <-p.interrupt:
			default:
			}
			if !p.play(p.responder.Respond(ev)) {
				return
			}
		}
	}
}

// play sends replies in order and reports false once the player stops.
func (p *player) play(replies []events.Event) bool {
	for i, out := range replies {
		if i > 0 && p.delay > 0 {
			t := time.NewTimer(p.delay)
			select {
			case <-p.done:
				t.Stop()
				return false
			case <-p.interrupt:
				t.Stop()
				return true
			case <-t.C:
			}
		}
		p.send(out)
	}
	return true
}
