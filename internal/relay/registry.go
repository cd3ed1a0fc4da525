package relay

import (
	"sort"
	"sync"

	"github.com/runframe/agentrelay/internal/events"
)

// Registry is the routing table shared by every connection of one server:
// the set of identified UI clients and the single agent slot.
type Registry struct {
	mu        sync.RWMutex
	uis       map[string]SendFunc
	agentID   string
	agentSend SendFunc
}

func NewRegistry() *Registry {
	return &Registry{uis: make(map[string]SendFunc)}
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	UIClients      int    `json:"ui_clients"`
	AgentConnected bool   `json:"agent_connected"`
	AgentID        string `json:"agent_id,omitempty"`
}

// AddUI registers a UI and reports whether an agent held the slot at that
// moment.
func (r *Registry) AddUI(id string, send SendFunc) (agentPresent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uis[id] = send
	return r.agentSend != nil
}

func (r *Registry) RemoveUI(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.uis[id]; !ok {
		return false
	}
	delete(r.uis, id)
	return true
}

// SetAgent makes id the agent. The previous agent, if any and different,
// is returned so the caller can tell it that it was displaced.
func (r *Registry) SetAgent(id string, send SendFunc) (prevID string, prevSend SendFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.agentID != "" && r.agentID != id {
		prevID, prevSend = r.agentID, r.agentSend
	}
	r.agentID = id
	r.agentSend = send
	return prevID, prevSend
}

// ClearAgent empties the agent slot only if id still holds it.
func (r *Registry) ClearAgent(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.agentID == "" || r.agentID != id {
		return false
	}
	r.agentID = ""
	r.agentSend = nil
	return true
}

func (r *Registry) Agent() (string, SendFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agentID, r.agentSend, r.agentSend != nil
}

func (r *Registry) IsAgent(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id != "" && r.agentID == id
}

func (r *Registry) HasAgent() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agentSend != nil
}

// BroadcastUI sends ev to every registered UI and returns how many received
// it. Senders are called outside the lock.
func (r *Registry) BroadcastUI(ev events.Event) int {
	r.mu.RLock()
	targets := make([]SendFunc, 0, len(r.uis))
	for _, send := range r.uis {
		targets = append(targets, send)
	}
	r.mu.RUnlock()

	for _, send := range targets {
		send(ev)
	}
	return len(targets)
}

// UIIDs returns the registered UI connection ids in sorted order.
func (r *Registry) UIIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.uis))
	for id := range r.uis {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		UIClients:      len(r.uis),
		AgentConnected: r.agentSend != nil,
		AgentID:        r.agentID,
	}
}
