package database

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/runframe/agentrelay/internal/logger"
)

const maxDetail = 200

// JournalEntry is one row of the relay journal. Payloads are never stored.
type JournalEntry struct {
	ID           string
	ConnectionID string
	Role         string
	Action       string
	EventType    string
	ArtifactID   string
	Detail       string
	CreatedAt    time.Time
}

// Record appends an entry. Failures are logged, never returned, so the
// journal cannot stall routing.
func (db *DB) Record(e JournalEntry) {
	e.Detail = truncate(e.Detail, maxDetail)
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(
		"INSERT INTO relay_journal (id, connection_id, role, action, event_type, artifact_id, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.ConnectionID, e.Role, e.Action, e.EventType, e.ArtifactID, e.Detail, e.CreatedAt,
	)
	if err != nil {
		logger.Warn("Journal write failed: %v", err)
	}
}

// Recent returns up to limit entries, newest first.
func (db *DB) Recent(limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, connection_id, role, action, event_type, artifact_id, detail, created_at
		 FROM relay_journal ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.Role, &e.Action, &e.EventType, &e.ArtifactID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than the cutoff and returns how many went.
func (db *DB) Prune(before time.Time) (int64, error) {
	result, err := db.Exec("DELETE FROM relay_journal WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return result.RowsAffected()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
