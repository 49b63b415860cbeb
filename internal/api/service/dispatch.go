package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/solverify/verify-service/internal/api/model"
	"github.com/solverify/verify-service/internal/api/storage"
)

// JobStore is the persistence surface the dispatch service needs. The sqlx
// implementation lives in internal/api/storage; tests use a fake.
type JobStore interface {
	FindJobByParams(ctx context.Context, params model.BuildParams) (*model.VerificationJob, error)
	InsertJob(ctx context.Context, job *model.VerificationJob) (bool, error)
	GetVerifiedProgram(ctx context.Context, programID string) (*model.VerifiedProgram, error)
}

// Launcher starts the verification for a freshly created job without
// blocking the request path.
type Launcher interface {
	Launch(ctx context.Context, job *model.VerificationJob) error
}

// Dispatch owns job creation: it deduplicates incoming requests against
// stored jobs, persists new jobs, and hands them to the launcher.
type Dispatch struct {
	store    JobStore
	launcher Launcher
	logger   *slog.Logger
}

func NewDispatch(store JobStore, launcher Launcher, logger *slog.Logger) *Dispatch {
	return &Dispatch{
		store:    store,
		launcher: launcher,
		logger:   logger,
	}
}

// Submit handles one verification request. Exactly one of the four outcome
// shapes is returned; a job is created only when no field-equal request
// already has one.
func (d *Dispatch) Submit(ctx context.Context, params model.BuildParams) Outcome {
	requestID := uuid.New().String()

	existing, err := d.store.FindJobByParams(ctx, params)
	if err != nil && !errors.Is(err, storage.ErrJobNotFound) {
		// Fail open: a broken dedup lookup degrades to best-effort
		// deduplication, it never blocks the request.
		d.logger.Warn("Duplicate lookup failed, proceeding without dedup",
			slog.String("program_id", params.ProgramID),
			slog.String("error", err.Error()),
		)
		existing = nil
	}

	if existing != nil {
		if out, handled := d.resolveDuplicate(ctx, existing, requestID); handled {
			return out
		}
	}

	job := model.NewVerificationJob(requestID, params)
	inserted, err := d.store.InsertJob(ctx, job)
	if err != nil {
		d.logger.Error("Failed to insert verification job",
			slog.String("program_id", params.ProgramID),
			slog.String("error", err.Error()),
		)
		return InternalErrorOutcome(MsgInsertFailed)
	}

	if !inserted {
		// Lost the race against a concurrent identical submit; the winner's
		// record decides the response.
		winner, err := d.store.FindJobByParams(ctx, params)
		if err != nil {
			d.logger.Error("Failed to load job after insert conflict",
				slog.String("program_id", params.ProgramID),
				slog.String("error", err.Error()),
			)
			return InternalErrorOutcome(MsgInsertFailed)
		}
		if out, handled := d.resolveDuplicate(ctx, winner, requestID); handled {
			return out
		}
		return InProgressOutcome(requestID, MsgAlreadyInProgress)
	}

	// The job row is durable; a launch failure is recoverable by the
	// reconciliation sweep, so the caller still gets its ack.
	if err := d.launcher.Launch(ctx, job); err != nil {
		d.logger.Error("Failed to launch verification",
			slog.String("job_id", job.ID),
			slog.String("program_id", params.ProgramID),
			slog.String("error", err.Error()),
		)
	}

	d.logger.Info("Verification job created",
		slog.String("job_id", job.ID),
		slog.String("program_id", params.ProgramID),
		slog.String("repository", params.Repository),
	)

	return InProgressOutcome(requestID, MsgVerificationStarted)
}

// resolveDuplicate applies the duplicate policy to a matching job. The
// returned bool is false only for a non-terminal record in an unknown state.
func (d *Dispatch) resolveDuplicate(ctx context.Context, job *model.VerificationJob, requestID string) (Outcome, bool) {
	switch job.Status {
	case model.JobStatusCompleted:
		program, err := d.store.GetVerifiedProgram(ctx, job.ProgramID)
		if err != nil {
			// A completed job without a stored verdict is an inconsistency,
			// not a reason to rebuild.
			d.logger.Error("Completed job has no verified result",
				slog.String("job_id", job.ID),
				slog.String("program_id", job.ProgramID),
				slog.String("error", err.Error()),
			)
			return InternalErrorOutcome(MsgMissingResult), true
		}
		return ReportOutcome(ProjectReport(job.Params(), program)), true

	case model.JobStatusInProgress:
		return InProgressOutcome(requestID, MsgAlreadyInProgress), true

	case model.JobStatusFailed:
		return ConflictOutcome(MsgPreviousFailed), true

	default:
		return Outcome{}, false
	}
}
