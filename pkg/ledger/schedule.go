package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler resets the ledger on a cron schedule, by default at midnight.
type Scheduler struct {
	cron *cron.Cron
}

// ScheduleReset starts calling l.ResetToday on spec (standard five-field
// cron syntax or descriptors such as "@midnight").
func ScheduleReset(l *Ledger, spec string) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := l.ResetToday(ctx); err != nil {
			l.log.WithError(err).Error("Scheduled attendance reset failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid reset schedule %q: %w", spec, err)
	}
	c.Start()
	l.log.WithField("spec", spec).Debug("Attendance reset scheduled")
	return &Scheduler{cron: c}, nil
}

// Stop stops the schedule and waits for a running reset to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
