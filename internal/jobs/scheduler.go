package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const lockTTL = 23 * time.Hour

// Locker grants a key to one caller at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker shares daily run keys across instances. Locks are left to
// expire so that a second instance skips the same day.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client *redislock.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	_, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type Scheduler struct {
	jobs   []Job
	loc    *time.Location
	hour   int
	minute int
	locker Locker
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewScheduler runs jobs once a day at hour:minute in loc. A nil locker
// means every instance runs every job.
func NewScheduler(loc *time.Location, hour, minute int, locker Locker, log logrus.FieldLogger, jobs ...Job) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{jobs: jobs, loc: loc, hour: hour, minute: minute, locker: locker, log: log, now: time.Now}
}

// NextRun returns the first hour:minute in loc strictly after now.
func NextRun(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := NextRun(s.now(), s.loc, s.hour, s.minute)
		s.log.WithField("next_run", next.Format(time.RFC3339)).Info("jobs scheduled")
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		s.RunOnce(ctx, next)
	}
}

// RunOnce runs every job for the day of at. Job failures are logged.
func (s *Scheduler) RunOnce(ctx context.Context, at time.Time) {
	day := at.In(s.loc).Format("2006-01-02")
	for _, job := range s.jobs {
		log := s.log.WithFields(logrus.Fields{"job": job.Name, "day": day})
		if s.locker != nil {
			ok, err := s.locker.TryLock(ctx, "jobs:"+job.Name+":"+day, lockTTL)
			if err != nil {
				log.WithError(err).Warn("job lock unavailable, skipping")
				continue
			}
			if !ok {
				log.Info("job already ran elsewhere")
				continue
			}
		}
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			log.WithError(err).Error("job failed")
			continue
		}
		log.WithField("elapsed", time.Since(start).String()).Info("job done")
	}
}
