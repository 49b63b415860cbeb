package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/solverify/verify-service/internal/api/model"
	"github.com/solverify/verify-service/shared/postgresql"
)

var (
	// ErrJobNotFound is returned when no job matches the lookup.
	ErrJobNotFound = errors.New("verification job not found")

	// ErrProgramNotFound is returned when a program has no verified result.
	ErrProgramNotFound = errors.New("verified program not found")
)

const jobColumns = `
	id, request_hash, repository, commit_hash, program_id, lib_name,
	bpf_flag, base_image, mount_path, cargo_args, status, worker_id,
	error_message, created_at, updated_at, started_at, last_heartbeat_at
`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// FindJobByParams returns the most recent job whose request fields equal
// params, or ErrJobNotFound.
func (s *Storage) FindJobByParams(ctx context.Context, params model.BuildParams) (*model.VerificationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM verification_jobs
		WHERE request_hash = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var job model.VerificationJob
	err := s.db.GetContext(ctx, &job, query, params.Hash())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find job by params: %w", err)
	}

	return &job, nil
}

// InsertJob persists a new job. The insert is conditional on the request
// hash: when an equal request already has a job, nothing is written and
// inserted is false.
func (s *Storage) InsertJob(ctx context.Context, job *model.VerificationJob) (bool, error) {
	query := `
		INSERT INTO verification_jobs (
			id, request_hash, repository, commit_hash, program_id, lib_name,
			bpf_flag, base_image, mount_path, cargo_args, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		)
		ON CONFLICT (request_hash) DO NOTHING
	`

	res, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.RequestHash,
		job.Repository,
		job.CommitHash,
		job.ProgramID,
		job.LibName,
		job.BpfFlag,
		job.BaseImage,
		job.MountPath,
		job.CargoArgs,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}

	return rows == 1, nil
}

// GetJobByID returns a job by its tracking id, or ErrJobNotFound.
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.VerificationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM verification_jobs
		WHERE id = $1
	`

	var job model.VerificationJob
	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// FindLatestJobByProgram returns the most recent job for a program id, or
// ErrJobNotFound.
func (s *Storage) FindLatestJobByProgram(ctx context.Context, programID string) (*model.VerificationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM verification_jobs
		WHERE program_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var job model.VerificationJob
	err := s.db.GetContext(ctx, &job, query, programID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find job by program: %w", err)
	}

	return &job, nil
}

// UpdateJobStatus moves a job to a terminal status. The guard on the current
// status keeps terminal states final.
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

	return nil
}

// GetVerifiedProgram returns the stored verdict for a program id, or
// ErrProgramNotFound.
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
			return nil, ErrProgramNotFound
		}
		return nil, fmt.Errorf("failed to get verified program: %w", err)
	}

	return &program, nil
}

// UpsertVerifiedProgram writes a verdict, overwriting any prior verdict for
// the same program id (last writer wins).
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

type JobFilter struct {
	Status   string
	PageSize int
	Cursor   *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs ordered newest first; the extra row
// lets the caller detect whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.VerificationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM verification_jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.VerificationJob
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
