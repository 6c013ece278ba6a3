package source

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
)

// Scheduler registers each source's cron schedule and appends a
// SourceRequested on every tick, carrying the since watermark that
// Service.LastRunCompleted derives.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	outbox  Outbox
	log     *logging.Logger
}

// NewScheduler builds the scheduler.
func NewScheduler(service *Service, ob Outbox, log *logging.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		service: service,
		outbox:  ob,
		log:     log,
	}
}

// Register adds a source's schedule. Sources without a schedule are
// skipped; an unparsable cron expression is a Configuration error.
func (s *Scheduler) Register(def hook.SourceDefinition) error {
	if def.Schedule == nil {
		return nil
	}
	schedule := *def.Schedule

	_, err := s.cron.AddFunc(schedule.Cron, func() {
		s.tick(def.Name, schedule.Limit)
	})
	if err != nil {
		return errors.Configuration("source " + def.Name + ": invalid cron expression " + schedule.Cron)
	}

	s.log.WithComponent("scheduler").WithFields(logrus.Fields{
		"source": def.Name,
		"cron":   schedule.Cron,
	}).Info("source schedule registered")
	return nil
}

func (s *Scheduler) tick(sourceName string, limit int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	since, err := s.service.LastRunCompleted(ctx, sourceName)
	if err != nil {
		s.log.WithComponent("scheduler").WithError(err).WithField("source", sourceName).
			Error("watermark lookup failed")
		return
	}

	evt, err := event.New(&event.SourceRequested{
		SourceName: sourceName,
		Since:      since,
		Limit:      limit,
	})
	if err != nil {
		s.log.WithComponent("scheduler").WithError(err).Error("build source request")
		return
	}
	if err := s.outbox.AppendNew(ctx, evt); err != nil {
		s.log.WithComponent("scheduler").WithError(err).WithField("source", sourceName).
			Error("append source request failed")
		return
	}

	s.log.WithComponent("scheduler").WithField("source", sourceName).Debug("source run requested")
}

// Start begins ticking.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts ticking and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
