package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler fires the eviction checks: the drawdown check daily at 00:00
// UTC and the monthly evaluation on the last day of the month at 23:59 UTC.
type Scheduler struct {
	svc Service
	log *zap.Logger
	now func() time.Time
}

func NewScheduler(svc Service, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{svc: svc, log: log.Named("scheduler"), now: func() time.Time { return time.Now().UTC() }}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now()
		daily, monthly := nextDaily(now), nextMonthEnd(now)
		next := daily
		if monthly.Before(next) {
			next = monthly
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if next.Equal(daily) {
			evicted, err := s.svc.DailyDrawdownCheck(ctx)
			s.report("daily drawdown check", evicted, err)
		}
		if next.Equal(monthly) {
			evicted, err := s.svc.MonthlyEvaluation(ctx, monthly.Format("2006-01"))
			s.report("monthly evaluation", evicted, err)
		}
	}
}

func (s *Scheduler) report(job string, evicted []int64, err error) {
	if err != nil {
		s.log.Error(job+" failed", zap.Error(err))
		return
	}
	s.log.Info(job+" done", zap.Int64s("evicted", evicted))
}

// nextDaily is the next midnight UTC strictly after now.
func nextDaily(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

// nextMonthEnd is the next last-day-of-month 23:59 UTC strictly after now.
func nextMonthEnd(now time.Time) time.Time {
	now = now.UTC()
	t := time.Date(now.Year(), now.Month()+1, 0, 23, 59, 0, 0, time.UTC)
	if !t.After(now) {
		t = time.Date(now.Year(), now.Month()+2, 0, 23, 59, 0, 0, time.UTC)
	}
	return t
}
