package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/solverify/verify-service/internal/api/model"
	"github.com/solverify/verify-service/internal/worker/domain"
)

// runSweeper periodically reconciles long-stuck in-progress jobs: a crash
// mid-verification or a lost completion write leaves a recoverable record,
// never a silently dropped job.
func (w *Worker) runSweeper(ctx context.Context) {
	w.logger.Info("Reconciliation sweeper started",
		slog.Duration("interval", w.sweepInterval),
		slog.Duration("stale_after", w.sweepStaleAfter),
	)

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Reconciliation sweeper stopped")
			return
		case <-ticker.C:
			w.reconcileStaleJobs(ctx)
		}
	}
}

func (w *Worker) reconcileStaleJobs(ctx context.Context) {
	jobs, err := w.storage.FindStaleJobs(ctx, w.sweepStaleAfter, w.sweepBatchSize)
	if err != nil {
		w.logger.Error("Failed to find stale jobs",
			slog.String("error", err.Error()),
		)
		return
	}

	for i := range jobs {
		job := &jobs[i]

		// A verdict recorded after the job was created means only the final
		// status write was lost; repair it instead of rebuilding.
		program, err := w.storage.GetVerifiedProgram(ctx, job.ProgramID)
		if err == nil && program.VerifiedAt.After(job.CreatedAt) {
			if err := w.storage.UpdateJobStatus(ctx, job.ID, model.JobStatusCompleted, ""); err != nil {
				w.logger.Error("Failed to repair stale completed job",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			} else {
				w.logger.Info("Repaired stale job from stored verdict",
					slog.String("job_id", job.ID),
					slog.String("program_id", job.ProgramID),
				)
			}
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrResultNotFound) {
			w.logger.Error("Failed to check verdict for stale job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		w.requeueStaleJob(ctx, job)
	}
}

// requeueStaleJob releases a dead worker's claim and republishes the job id.
func (w *Worker) requeueStaleJob(ctx context.Context, job *model.VerificationJob) {
	if err := w.storage.ReleaseJob(ctx, job.ID); err != nil {
		w.logger.Error("Failed to release stale job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	body, err := json.Marshal(domain.JobMessage{JobID: job.ID})
	if err != nil {
		w.logger.Error("Failed to marshal requeue message",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := w.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		w.logger.Error("Failed to republish stale job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	// Touch the heartbeat so the next sweep does not requeue it again
	// before a worker picks it up.
	if err := w.storage.UpdateJobHeartbeat(ctx, job.ID); err != nil {
		w.logger.Warn("Failed to touch heartbeat after requeue",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	w.logger.Info("Requeued stale job",
		slog.String("job_id", job.ID),
		slog.String("program_id", job.ProgramID),
	)
}
