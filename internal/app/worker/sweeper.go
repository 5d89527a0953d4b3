package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/domain/repository"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/queue"

	"github.com/go-co-op/gocron/v2"
)

const sweepBatch = 100

// Sweeper periodically re-queues submissions stuck in pending, e.g. after
// a failed enqueue or a worker crash.
type Sweeper struct {
	ledger     repository.LedgerRepository
	jobs       queue.JobQueue
	interval   time.Duration
	staleAfter time.Duration
	sched      gocron.Scheduler
	now        func() time.Time
}

func NewSweeper(ledger repository.LedgerRepository, jobs queue.JobQueue, interval, staleAfter time.Duration) (*Sweeper, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Sweeper{
		ledger:     ledger,
		jobs:       jobs,
		interval:   interval,
		staleAfter: staleAfter,
		sched:      sched,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start schedules Sweep every interval. Runs never overlap.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			n, err := s.Sweep(ctx)
			if err != nil {
				slog.Error("Pending sweep failed", "err", err)
				return
			}
			if n > 0 {
				slog.Info("Re-queued stale submissions", "count", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.sched.Start()
	return nil
}

func (s *Sweeper) Stop() error {
	return s.sched.Shutdown()
}

// Sweep enqueues pending submissions older than staleAfter and returns how
// many were queued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	pending, err := s.ledger.ListPending(ctx, s.now().Add(-s.staleAfter), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	queued := 0
	for _, sub := range pending {
		if err := s.jobs.Enqueue(ctx, strconv.FormatInt(sub.ID, 10)); err != nil {
			return queued, fmt.Errorf("enqueue %d: %w", sub.ID, err)
		}
		queued++
	}
	return queued, nil
}
