package pulls

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler refreshes a Store on a cron schedule.
type Scheduler struct {
	cron  *cron.Cron
	store *Store
	log   *zap.Logger
}

// NewScheduler parses spec, a 5-field cron expression or a descriptor such
// as "@every 5m". An empty spec returns a nil scheduler, which is valid and
// does nothing.
func NewScheduler(spec string, store *Store, log *zap.Logger) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	s := &Scheduler{cron: c, store: store, log: log}

	if _, err := c.AddFunc(spec, s.refresh); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
	s.log.Info("pull request sync scheduled", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop halts the schedule and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.store.opts.SyncTimeout)
	defer cancel()
	pulls, err := s.store.Sync(ctx, true)
	if err != nil {
		s.log.Warn("scheduled pull request sync failed", zap.Error(err))
		return
	}
	s.log.Debug("scheduled pull request sync complete", zap.Int("pulls", len(pulls)))
}
