package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solverify/verify-service/internal/api/model"
	"github.com/solverify/verify-service/internal/worker/domain"
)

// processJob runs one queued verification job to a terminal status.
//
// The returned error only drives the ack/nack decision: a nil return means
// the message is done (including terminal verification failures, which must
// never be retried).
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
	)

	job, err := w.storage.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			// Redelivered message for a job another worker owns or already
			// finished. Drop it.
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job already claimed: %w", err)
		}
		// Claim failed before any work started; safe to redeliver.
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.ID, heartbeatDone)
	defer close(heartbeatDone)

	program, err := w.verifier.Verify(jobCtx, job.Params())

	if err != nil {
		w.logger.Error("Verification failed",
			slog.String("job_id", job.ID),
			slog.String("program_id", job.ProgramID),
			slog.String("error", err.Error()),
		)

		w.persist(ctx, job.ID, "job status update", func() error {
			return w.storage.UpdateJobStatus(ctx, job.ID, model.JobStatusFailed, err.Error())
		})

		// Failed verifications are terminal; ack the message.
		return nil
	}

	w.persist(ctx, job.ID, "verified result upsert", func() error {
		return w.storage.UpsertVerifiedProgram(ctx, program)
	})
	w.persist(ctx, job.ID, "job status update", func() error {
		return w.storage.UpdateJobStatus(ctx, job.ID, model.JobStatusCompleted, "")
	})

	w.logger.Info("Verification completed",
		slog.String("job_id", job.ID),
		slog.String("program_id", job.ProgramID),
		slog.Bool("verified", program.IsVerified),
	)

	return nil
}

// persist runs a completion write under the bounded retry policy. A final
// failure is logged and absorbed; the record stays in_progress until the
// reconciliation sweep picks it up.
func (w *Worker) persist(ctx context.Context, jobID, op string, fn func() error) {
	if err := w.completionRetry.Retry(ctx, fn); err != nil {
		w.logger.Error("Background write failed",
			slog.String("job_id", jobID),
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.storage.UpdateJobHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
