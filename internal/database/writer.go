package database

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/runframe/agentrelay/internal/logger"
)

const defaultJournalQueue = 1024

// JournalWriter records entries on its own goroutine so a busy database
// never stalls the connection that produced them. When the queue is full
// entries are dropped.
type JournalWriter struct {
	db      *DB
	queue   chan JournalEntry
	stopped chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewJournalWriter(db *DB, size int) *JournalWriter {
	if size <= 0 {
		size = defaultJournalQueue
	}
	w := &JournalWriter{
		db:      db,
		queue:   make(chan JournalEntry, size),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue never blocks. It reports false when the entry was dropped.
func (w *JournalWriter) Enqueue(e JournalEntry) bool {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- e:
		return true
	default:
		if n := w.dropped.Add(1); n == 1 || n%1000 == 0 {
			logger.Warn("Journal queue full, %d entries dropped", n)
		}
		return false
	}
}

// Dropped is the number of entries discarded because the queue was full.
func (w *JournalWriter) Dropped() int64 {
	return w.dropped.Load()
}

func (w *JournalWriter) run() {
	defer close(w.stopped)
	for e := range w.queue {
		w.db.Record(e)
	}
}

// Close stops accepting entries and waits until the queued ones are written.
func (w *JournalWriter) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.stopped
}
