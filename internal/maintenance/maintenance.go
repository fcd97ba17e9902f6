// Package maintenance runs the periodic housekeeping jobs: sweeping expired
// cache entries and enforcing the ledger retention window.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"signalhub/internal/cache"
	"signalhub/internal/ledger"
)

// Default job schedules. Cache sweeps are cheap and keep the index small;
// retention enforcement only needs to run once a day.
const (
	cacheSweepSpec = "@every 1h"
	retentionSpec  = "@daily"
)

// Scheduler owns the cron runner and its jobs.
type Scheduler struct {
	cron          *cron.Cron
	cache         *cache.SemanticCache
	ledger        *ledger.Ledger
	retentionDays int
}

// New registers the housekeeping jobs. A retentionDays of zero or less
// disables retention enforcement.
func New(c *cache.SemanticCache, l *ledger.Ledger, retentionDays int) (*Scheduler, error) {
	s := &Scheduler{
		cron:          cron.New(),
		cache:         c,
		ledger:        l,
		retentionDays: retentionDays,
	}

	if _, err := s.cron.AddFunc(cacheSweepSpec, s.SweepCache); err != nil {
		return nil, fmt.Errorf("failed to schedule cache sweep: %w", err)
	}
	if retentionDays > 0 {
		if _, err := s.cron.AddFunc(retentionSpec, s.EnforceRetention); err != nil {
			return nil, fmt.Errorf("failed to schedule retention job: %w", err)
		}
	}
	return s, nil
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[Maintenance] Scheduled jobs: cache sweep %s, retention %s (%d days)",
		cacheSweepSpec, retentionSpec, s.retentionDays)
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("[Maintenance] Gave up waiting for running jobs: %v", ctx.Err())
	}
}

// SweepCache drops expired cache entries.
func (s *Scheduler) SweepCache() {
	if removed := s.cache.CleanupExpired(); removed > 0 {
		log.Printf("[Maintenance] Swept %d expired cache entries", removed)
	}
}

// EnforceRetention deletes usage records older than the retention window.
func (s *Scheduler) EnforceRetention() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	if removed := s.ledger.Cleanup(cutoff); removed > 0 {
		log.Printf("[Maintenance] Removed %d usage records older than %s",
			removed, cutoff.Format(time.RFC3339))
	}
}
