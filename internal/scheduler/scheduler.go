package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/runframe/agentrelay/internal/logger"
)

// Pruner removes journal rows older than a cutoff.
type Pruner interface {
	Prune(before time.Time) (int64, error)
}

// Scheduler runs journal retention on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	mu        sync.Mutex
	entryID   cron.EntryID
	pruner    Pruner
	retention time.Duration
	now       func() time.Time
}

func New(pruner Pruner, retentionDays int) *Scheduler {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		pruner:    pruner,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// Schedule registers the retention job, replacing any previous one.
func (s *Scheduler) Schedule(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}
	id, err := s.cron.AddFunc(expr, s.RunRetention)
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", expr, err)
	}
	s.entryID = id
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the next retention run, or the zero time when unscheduled.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// RunRetention prunes once.
func (s *Scheduler) RunRetention() {
	cutoff := s.now().Add(-s.retention)
	rows, err := s.pruner.Prune(cutoff)
	if err != nil {
		logger.Error("Journal retention failed: %v", err)
		return
	}
	if rows > 0 {
		logger.Info("Journal retention: removed %d entries older than %s", rows, cutoff.Format(time.RFC3339))
	}
}
