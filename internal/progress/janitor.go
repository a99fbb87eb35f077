package progress

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Pruner is the optional store capability the janitor uses for bulk deletes.
// *database.Database implements it.
type Pruner interface {
	PruneProgressBefore(cutoff time.Time) (int64, error)
}

// Janitor sweeps progress records that have not been watched within the
// retention window. Sweeps run on a cron schedule so an always-on companion
// box does them off-hours.
type Janitor struct {
	tracker   *Tracker
	pruner    Pruner
	cron      *cron.Cron
	retention time.Duration
	logger    *logrus.Logger
}

// NewJanitor creates a janitor keeping records for retentionDays. It does
// nothing until Start is called.
func NewJanitor(tracker *Tracker, pruner Pruner, retentionDays int, logger *logrus.Logger) *Janitor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return &Janitor{
		tracker:   tracker,
		pruner:    pruner,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
	}
}

// Start schedules sweeps using a standard 5-field cron spec.
func (j *Janitor) Start(schedule string) error {
	if j.retention <= 0 {
		return nil // retention disabled
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, j.Sweep); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	c.Start()
	j.cron = c

	j.logger.WithFields(logrus.Fields{
		"schedule":       schedule,
		"retention_days": int(j.retention.Hours() / 24),
	}).Info("Progress retention janitor started")
	return nil
}

// Sweep removes expired records from memory and from the store.
func (j *Janitor) Sweep() {
	cutoff := time.Now().Add(-j.retention)

	removed := j.tracker.PruneBefore(cutoff)

	if j.pruner != nil {
		if _, err := j.pruner.PruneProgressBefore(cutoff); err != nil {
			j.logger.WithError(err).Warn("Could not prune stored progress records")
		}
	}

	if removed > 0 {
		j.logger.WithFields(logrus.Fields{
			"removed": removed,
			"cutoff":  cutoff,
		}).Info("Pruned stale progress records")
	}
}

// Stop cancels scheduled sweeps. Safe to call before Start.
func (j *Janitor) Stop() {
	if j.cron != nil {
		j.cron.Stop()
	}
}
