// Package retention runs the nightly database compaction pass: expired
// ephemeral threads are deleted, checkpoint revisions are capped per
// thread, and the store is vacuumed to reclaim space.
package retention

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// EphemeralPrefixes name the thread families that carry an ISO date
// suffix and expire after the retention window. Everything else is a
// persistent conversation thread.
var EphemeralPrefixes = []string{
	"daily_report_",
	"debrief_",
	"recap_",
	"consolidate_",
	"calendar_task_",
}

// Store is the slice of the checkpoint store the compactor needs.
type Store interface {
	ListThreads() ([]string, error)
	ExpireEphemeral(prefixes []string, cutoffDate string) (int64, error)
	CapRevisions(threadID string, keep int) (int64, error)
	Vacuum() error
}

// Config sets the compaction schedule and limits.
type Config struct {
	Hour          int // local wall-clock hour to run at
	Minute        int
	RetentionDays int // ephemeral threads older than this are deleted
	MaxRevisions  int // checkpoint revisions kept per thread
}

// Stats reports what a single compaction pass removed.
type Stats struct {
	RowsExpired      int64
	RevisionsDeleted int64
}

// Compactor owns the nightly prune schedule. RunOnce may also be called
// directly, for the prune subcommand and for tests.
type Compactor struct {
	store  Store
	logger *slog.Logger
	cfg    Config

	cron    *cron.Cron
	running sync.Mutex

	now func() time.Time
}

func New(store Store, logger *slog.Logger, cfg Config) *Compactor {
	if cfg.RetentionDays < 1 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxRevisions < 1 {
		cfg.MaxRevisions = 20
	}
	return &Compactor{
		store:  store,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Start schedules the nightly pass. It returns once the schedule is
// registered; the pass itself runs on the cron goroutine.
func (c *Compactor) Start() error {
	c.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	schedule := fmt.Sprintf("%d %d * * *", c.cfg.Minute, c.cfg.Hour)
	_, err := c.cron.AddFunc(schedule, func() {
		if _, err := c.RunOnce(); err != nil {
			c.logger.Error("Nightly compaction failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule compaction: %w", err)
	}

	c.cron.Start()
	c.logger.Info("Retention compactor started",
		"schedule", schedule,
		"retention_days", c.cfg.RetentionDays,
		"max_revisions", c.cfg.MaxRevisions)
	return nil
}

// Stop halts the schedule and waits for an in-flight pass to finish,
// up to a bounded drain window.
func (c *Compactor) Stop() {
	if c.cron == nil {
		return
	}
	ctx := c.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		c.logger.Warn("Compaction still running at shutdown, abandoning wait")
	}
	c.logger.Info("Retention compactor stopped")
}

// RunOnce executes a full compaction pass. If a pass is already in
// flight the call is skipped and reports zero work.
func (c *Compactor) RunOnce() (Stats, error) {
	if !c.running.TryLock() {
		c.logger.Warn("Compaction already running, skipping")
		return Stats{}, nil
	}
	defer c.running.Unlock()

	var stats Stats

	cutoff := c.now().AddDate(0, 0, -c.cfg.RetentionDays).Format("2006-01-02")
	expired, err := c.store.ExpireEphemeral(EphemeralPrefixes, cutoff)
	if err != nil {
		return stats, fmt.Errorf("expire ephemeral threads: %w", err)
	}
	stats.RowsExpired = expired

	threads, err := c.store.ListThreads()
	if err != nil {
		return stats, fmt.Errorf("list threads: %w", err)
	}
	for _, id := range threads {
		n, err := c.store.CapRevisions(id, c.cfg.MaxRevisions)
		if err != nil {
			return stats, fmt.Errorf("cap revisions for %s: %w", id, err)
		}
		stats.RevisionsDeleted += n
	}

	if err := c.store.Vacuum(); err != nil {
		return stats, fmt.Errorf("vacuum: %w", err)
	}

	c.logger.Info("Compaction pass complete",
		"rows_expired", stats.RowsExpired,
		"revisions_deleted", stats.RevisionsDeleted)
	return stats, nil
}
