package handlers

import (
	"net/http"

	"github.com/runframe/agentrelay/internal/database"
	"github.com/runframe/agentrelay/internal/logger"
	"github.com/runframe/agentrelay/internal/relay"
)

// Connections is the part of relay.Server the status endpoint needs.
type Connections interface {
	ConnectionCount() int
}

type RelayHandler struct {
	reg   *relay.Registry
	conns Connections
	db    *database.DB
}

// NewRelayHandler serves relay introspection. db may be nil when the
// journal is disabled.
func NewRelayHandler(reg *relay.Registry, conns Connections, db *database.DB) *RelayHandler {
	return &RelayHandler{reg: reg, conns: conns, db: db}
}

type relayStatus struct {
	relay.Stats
	Connections int  `json:"connections"`
	Journal     bool `json:"journal"`
}

func (h *RelayHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, relayStatus{
		Stats:       h.reg.Stats(),
		Connections: h.conns.ConnectionCount(),
		Journal:     h.db != nil,
	})
}

type journalEntry struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connection_id"`
	Role         string `json:"role,omitempty"`
	Action       string `json:"action"`
	EventType    string `json:"event_type,omitempty"`
	ArtifactID   string `json:"artifact_id,omitempty"`
	Detail       string `json:"detail,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func (h *RelayHandler) Journal(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	entries, err := h.db.Recent(queryInt(r, "limit", 100, 1000))
	if err != nil {
		logger.Error("Failed to read journal: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}

	out := make([]journalEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, journalEntry{
			ID:           e.ID,
			ConnectionID: e.ConnectionID,
			Role:         e.Role,
			Action:       e.Action,
			EventType:    e.EventType,
			ArtifactID:   e.ArtifactID,
			Detail:       e.Detail,
			CreatedAt:    e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
