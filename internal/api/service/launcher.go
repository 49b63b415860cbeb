package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/solverify/verify-service/internal/api/model"
	"github.com/solverify/verify-service/internal/backoff"
	"github.com/solverify/verify-service/internal/verifier"
)

// Publisher is the queue surface the queue launcher needs; the RabbitMQ
// client satisfies it.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// QueueLauncher hands the job to the worker service by publishing its id.
// Delivery is at-least-once; the worker's claim guard keeps execution
// single-flight per job.
type QueueLauncher struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewQueueLauncher(publisher Publisher, logger *slog.Logger) *QueueLauncher {
	return &QueueLauncher{
		publisher: publisher,
		logger:    logger,
	}
}

func (l *QueueLauncher) Launch(ctx context.Context, job *model.VerificationJob) error {
	body, err := json.Marshal(map[string]string{"job_id": job.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := l.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job message: %w", err)
	}

	l.logger.Debug("Job published for verification",
		slog.String("job_id", job.ID),
	)

	return nil
}

// CompletionStore is the persistence surface of the background completion
// path.
type CompletionStore interface {
	UpdateJobStatus(ctx context.Context, jobID, status, errorMessage string) error
	UpsertVerifiedProgram(ctx context.Context, program *model.VerifiedProgram) error
}

// GoroutineLauncher runs the verifier in a detached goroutine inside the API
// process, for single-binary deployments without a broker. The goroutine
// outlives the originating request.
type GoroutineLauncher struct {
	store    CompletionStore
	verifier verifier.Verifier
	retry    backoff.Policy
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewGoroutineLauncher(store CompletionStore, v verifier.Verifier, retry backoff.Policy, logger *slog.Logger) *GoroutineLauncher {
	return &GoroutineLauncher{
		store:    store,
		verifier: v,
		retry:    retry,
		logger:   logger,
	}
}

func (l *GoroutineLauncher) Launch(_ context.Context, job *model.VerificationJob) error {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(job)
	}()
	return nil
}

// Wait blocks until every launched verification has finished. Used on
// shutdown.
func (l *GoroutineLauncher) Wait() {
	l.wg.Wait()
}

// run executes exactly one terminal transition for the job: completed on
// success, failed on error. Completion writes are retried with backoff and
// a final failure is logged and absorbed, leaving the record stale for the
// reconciliation sweep.
func (l *GoroutineLauncher) run(job *model.VerificationJob) {
	ctx := context.Background()

	program, err := l.verifier.Verify(ctx, job.Params())
	if err != nil {
		l.logger.Error("Verification failed",
			slog.String("job_id", job.ID),
			slog.String("program_id", job.ProgramID),
			slog.String("error", err.Error()),
		)
		l.persist(ctx, job.ID, "job status update", func() error {
			return l.store.UpdateJobStatus(ctx, job.ID, model.JobStatusFailed, err.Error())
		})
		return
	}

	l.persist(ctx, job.ID, "verified result upsert", func() error {
		return l.store.UpsertVerifiedProgram(ctx, program)
	})
	l.persist(ctx, job.ID, "job status update", func() error {
		return l.store.UpdateJobStatus(ctx, job.ID, model.JobStatusCompleted, "")
	})

	l.logger.Info("Verification completed",
		slog.String("job_id", job.ID),
		slog.String("program_id", job.ProgramID),
		slog.Bool("verified", program.IsVerified),
	)
}

func (l *GoroutineLauncher) persist(ctx context.Context, jobID, op string, fn func() error) {
	if err := l.retry.Retry(ctx, fn); err != nil {
		l.logger.Error("Background write failed",
			slog.String("job_id", jobID),
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
}
