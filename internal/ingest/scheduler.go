package ingest

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

const lockKey = "classsight:ingest:lock"

// Scheduler re-runs ingestion on a cron spec. A redis SetNX lock keeps
// multiple instances from ingesting concurrently; without redis the scheduler
// still runs but relies on the content-addressed inserts for safety.
type Scheduler struct {
	Ingestor *Ingestor
	CronSpec string
	LockTTL  time.Duration
	Rdb      *redis.Client
	Stop     chan struct{}

	logger  *log.Logger
	lastRun time.Time
}

func NewScheduler(ing *Ingestor, cronSpec string, lockTTL time.Duration, rdb *redis.Client) *Scheduler {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Scheduler{
		Ingestor: ing,
		CronSpec: cronSpec,
		LockTTL:  lockTTL,
		Rdb:      rdb,
		Stop:     make(chan struct{}),
		logger:   log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if !isDue(s.CronSpec, s.lastRun) {
		return
	}
	ctx := context.Background()
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, lockKey, "1", s.LockTTL).Result()
		if err != nil {
			s.logger.Printf("ingest lock error: %v", err)
			return
		}
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, lockKey)
	}
	s.lastRun = time.Now()
	if _, _, err := s.Ingestor.Run(ctx); err != nil {
		s.logger.Printf("scheduled ingestion failed: %v", err)
	}
}

// isDue reports whether the cron spec has a fire time between the last run and
// now. An empty or invalid spec never fires.
func isDue(spec string, last time.Time) bool {
	if spec == "" {
		return false
	}
	switch spec {
	case "@hourly":
		spec = "0 * * * *"
	case "@daily":
		spec = "0 0 * * *"
	case "@weekly":
		spec = "0 0 * * 0"
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return false
	}
	if last.IsZero() {
		last = time.Now().Add(-time.Minute)
	}
	next := expr.Next(last)
	return !next.IsZero() && !next.After(time.Now())
}
