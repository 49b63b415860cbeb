package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/solverify/verify-service/internal/api/model"
	"github.com/solverify/verify-service/internal/worker/domain"
)

const jobColumns = `
	id, request_hash, repository, commit_hash, program_id, lib_name,
	bpf_flag, base_image, mount_path, cargo_args, status, worker_id,
	error_message, created_at, updated_at, started_at, last_heartbeat_at
`

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob marks an unclaimed in-progress job as owned by this worker.
// The worker_id guard guarantees at most one verification run per job even
// when the queue redelivers the message.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*model.VerificationJob, error) {
	query := `
		UPDATE verification_jobs
		SET worker_id = $1,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		  AND worker_id = ''
		RETURNING ` + jobColumns

	var job model.VerificationJob
	err := s.db.QueryRowxContext(ctx, query, workerID, jobID, model.JobStatusInProgress).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed, terminal, or missing",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("program_id", job.ProgramID),
	)

	return &job, nil
}

// ReleaseJob clears the claim on a stuck job so the sweep can requeue it.
func (s *Storage) ReleaseJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE verification_jobs
		SET worker_id = '',
		    started_at = NULL,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $2
	`

	_, err := s.db.ExecContext(ctx, query, jobID, model.JobStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}

	return nil
}

// UpdateJobStatus moves an in-progress job to a terminal status.
func (s *Storage) UpdateJobStatus(ctx context.Context, jobID, status, errorMessage string) error {
	query := `
		UPDATE verification_jobs
		SET status = $1,
		    error_message = $2,
		    updated_at = NOW()
		WHERE id = $3
		  AND status = $4
	`

	_, err := s.db.ExecContext(ctx, query, status, errorMessage, jobID, model.JobStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

// UpdateJobHeartbeat refreshes last_heartbeat_at for a running job.
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE verification_jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, model.JobStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may be terminal)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// UpsertVerifiedProgram writes the verdict for a program, overwriting any
// prior verdict (last writer wins).
func (s *Storage) UpsertVerifiedProgram(ctx context.Context, program *model.VerifiedProgram) error {
	query := `
		INSERT INTO verified_programs (
			program_id, is_verified, on_chain_hash, executable_hash, verified_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (program_id) DO UPDATE
		SET is_verified = EXCLUDED.is_verified,
		    on_chain_hash = EXCLUDED.on_chain_hash,
		    executable_hash = EXCLUDED.executable_hash,
		    verified_at = EXCLUDED.verified_at
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		program.ProgramID,
		program.IsVerified,
		program.OnChainHash,
		program.ExecutableHash,
		program.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert verified program: %w", err)
	}

	return nil
}

// GetVerifiedProgram returns the stored verdict for a program id, or
// domain.ErrResultNotFound.
func (s *Storage) GetVerifiedProgram(ctx context.Context, programID string) (*model.VerifiedProgram, error) {
	query := `
		SELECT program_id, is_verified, on_chain_hash, executable_hash, verified_at
		FROM verified_programs
		WHERE program_id = $1
	`

	var program model.VerifiedProgram
	err := s.db.GetContext(ctx, &program, query, programID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get verified program: %w", err)
	}

	return &program, nil
}

// FindStaleJobs returns in-progress jobs whose last heartbeat (or creation,
// for never-started jobs) is older than the cutoff.
func (s *Storage) FindStaleJobs(ctx context.Context, staleAfter time.Duration, limit int) ([]model.VerificationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM verification_jobs
		WHERE status = $1
		  AND COALESCE(last_heartbeat_at, created_at) < $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	cutoff := time.Now().UTC().Add(-staleAfter)

	var jobs []model.VerificationJob
	err := s.db.SelectContext(ctx, &jobs, query, model.JobStatusInProgress, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale jobs: %w", err)
	}

	return jobs, nil
}
