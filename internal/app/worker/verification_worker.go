package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/app/service"
	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/model"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/repository"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/metrics"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/queue"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/storage"
)

const (
	defaultPollTimeout = time.Second
	errorBackoff       = 5 * time.Second
	lockPrefix         = "verification_lock:"
)

// Job results reported to metrics.
const (
	JobDone    = "done"
	JobSkipped = "skipped"
	JobRetry   = "retry"
	JobFailed  = "failed"
)

type Options struct {
	LockTTL     time.Duration
	PollTimeout time.Duration
}

// VerificationWorker drains the verification queue, one submission at a
// time, and resolves each pending upload.
type VerificationWorker struct {
	jobs     queue.JobQueue
	locker   queue.Locker
	ledger   repository.LedgerRepository
	images   storage.ImageStore
	pipeline *service.SubmissionService
	metrics  *metrics.Metrics
	opts     Options
}

func NewVerificationWorker(
	jobs queue.JobQueue,
	locker queue.Locker,
	ledger repository.LedgerRepository,
	images storage.ImageStore,
	pipeline *service.SubmissionService,
	m *metrics.Metrics,
	opts Options,
) *VerificationWorker {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	return &VerificationWorker{
		jobs:     jobs,
		locker:   locker,
		ledger:   ledger,
		images:   images,
		pipeline: pipeline,
		metrics:  m,
		opts:     opts,
	}
}

// Start blocks until ctx is cancelled.
func (w *VerificationWorker) Start(ctx context.Context) {
	slog.Info("Verification worker started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Verification worker stopping")
			return
		default:
		}

		jobID, err := w.jobs.Dequeue(ctx, w.opts.PollTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrQueueEmpty) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			slog.Error("Failed to dequeue verification job", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
			continue
		}

		result := w.ProcessJob(ctx, jobID)
		w.metrics.ObserveJob(result)
	}
}

// ProcessJob handles one queued submission id and reports what happened.
func (w *VerificationWorker) ProcessJob(ctx context.Context, jobID string) string {
	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil {
		slog.Warn("Dropping malformed job id", "job_id", jobID)
		return JobFailed
	}

	release, err := w.locker.Acquire(ctx, lockPrefix+jobID, w.opts.LockTTL)
	if err != nil {
		if errors.Is(err, common.ErrLockNotAcquired) {
			slog.Info("Submission is being verified elsewhere", "submission_id", id)
			return JobSkipped
		}
		slog.Error("Failed to acquire verification lock", "submission_id", id, "err", err)
		return JobRetry
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			slog.Error("Failed to release verification lock", "submission_id", id, "err", err)
		}
	}()

	return w.handleSubmission(ctx, id)
}

func (w *VerificationWorker) handleSubmission(ctx context.Context, id int64) string {
	sub, err := w.ledger.GetSubmission(ctx, id)
	if err != nil {
		slog.Error("Failed to load submission", "submission_id", id, "err", err)
		if errors.Is(err, common.ErrNotFound) {
			return JobFailed
		}
		return JobRetry
	}
	if !sub.IsPending() {
		return JobSkipped
	}

	data, err := w.readImage(ctx, sub.ImageRef)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("Failed to read stored image", "submission_id", id, "err", err)
			return JobRetry
		}
		outcome := model.Outcome{
			Status:  model.StatusRejected,
			Reason:  common.CodeInvalidImage,
			Message: "Stored image is missing",
		}
		if _, err := w.pipeline.Finalize(ctx, sub, outcome); err != nil {
			slog.Error("Failed to resolve submission", "submission_id", id, "err", err)
			return JobFailed
		}
		return JobDone
	}

	outcome, err := w.pipeline.Evaluate(ctx, data, sub.Filename, sub.Username)
	if err != nil && service.Transient(err) {
		// Left pending; the sweeper re-queues it.
		slog.Warn("Verification deferred", "submission_id", id, "err", err)
		return JobRetry
	}
	if err != nil {
		slog.Error("Verification failed permanently", "submission_id", id, "err", err)
	}
	if _, err := w.pipeline.Finalize(ctx, sub, outcome); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return JobSkipped
		}
		slog.Error("Failed to resolve submission", "submission_id", id, "err", err)
		return JobFailed
	}
	return JobDone
}

func (w *VerificationWorker) readImage(ctx context.Context, ref string) ([]byte, error) {
	rc, err := w.images.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
