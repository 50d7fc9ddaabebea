package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SchedulerService runs the named background jobs of the service.
// A panicking job is logged and recovered; a run still in progress
// makes the next tick of the same job a no-op.
type SchedulerService struct {
	cron *cron.Cron
	log  logrus.FieldLogger
}

func NewSchedulerService(loc *time.Location, log logrus.FieldLogger) *SchedulerService {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log: log}
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: log,
	}
}

// ScheduleDaily runs job every day at the HH:MM time in the scheduler's location.
func (s *SchedulerService) ScheduleDaily(name, at string, job func()) (cron.EntryID, error) {
	spec, err := buildDailySpec(at)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return s.cron.AddJob(spec, s.named(name, job))
}

// ScheduleInterval runs job every interval, rounded to whole seconds.
func (s *SchedulerService) ScheduleInterval(name string, interval time.Duration, job func()) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("%s: interval must be positive", name)
	}
	return s.cron.Schedule(cron.Every(interval), s.named(name, job)), nil
}

func (s *SchedulerService) named(name string, job func()) cron.Job {
	return cron.FuncJob(func() {
		start := time.Now()
		job()
		s.log.WithFields(logrus.Fields{"job": name, "took": time.Since(start)}).Debug("[cron] job finished")
	})
}

// Entries is the number of registered jobs.
func (s *SchedulerService) Entries() int {
	return len(s.cron.Entries())
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger routes cron's own messages into logrus.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Debug("[cron] " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(kvFields(keysAndValues)).Error("[cron] " + msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

func buildDailySpec(timeStr string) (string, error) {
	parts := strings.Split(strings.TrimSpace(timeStr), ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// sec min hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}

// OverdueDigestJob counts overdue tasks and hands the number to the notifier.
func OverdueDigestJob(tasks TaskService, notifier Notifier, log logrus.FieldLogger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		n, err := tasks.CountOverdue(ctx, time.Now().UTC())
		if err != nil {
			log.WithError(err).Error("[digest] count overdue tasks")
			return
		}
		log.WithField("overdue", n).Info("[digest] overdue tasks counted")
		if notifier != nil {
			notifier.OverdueDigest(n)
		}
	}
}
