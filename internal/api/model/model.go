package model

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Job status values. A job starts in_progress and transitions exactly once
// to completed or failed.
const (
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// BuildParams is the caller-supplied description of one unit of verification
// work. Two requests describe the same work iff every field is equal.
type BuildParams struct {
	Repository string
	CommitHash string
	ProgramID  string
	LibName    string
	BpfFlag    bool
	BaseImage  string
	MountPath  string
	CargoArgs  []string
}

// Hash returns the deterministic fingerprint of the full params tuple,
// used as the dedup key for conditional inserts.
func (p BuildParams) Hash() string {
	h := sha256.New()
	fields := []string{
		p.Repository,
		p.CommitHash,
		p.ProgramID,
		p.LibName,
		strconv.FormatBool(p.BpfFlag),
		p.BaseImage,
		p.MountPath,
		strings.Join(p.CargoArgs, "\x1f"),
	}
	h.Write([]byte(strings.Join(fields, "\x1e")))
	return hex.EncodeToString(h.Sum(nil))
}

// RepoURL returns the commit-qualified repository URL when a commit hash was
// supplied, the bare repository otherwise.
func (p BuildParams) RepoURL() string {
	if p.CommitHash == "" {
		return p.Repository
	}
	return p.Repository + "/commit/" + p.CommitHash
}

// VerificationJob is one accepted unit of verification work. id, the request
// fields and created_at are immutable after creation; only status and the
// worker bookkeeping columns mutate.
type VerificationJob struct {
	ID              string         `db:"id"`
	RequestHash     string         `db:"request_hash"`
	Repository      string         `db:"repository"`
	CommitHash      string         `db:"commit_hash"`
	ProgramID       string         `db:"program_id"`
	LibName         string         `db:"lib_name"`
	BpfFlag         bool           `db:"bpf_flag"`
	BaseImage       string         `db:"base_image"`
	MountPath       string         `db:"mount_path"`
	CargoArgs       pq.StringArray `db:"cargo_args"`
	Status          string         `db:"status"`
	WorkerID        string         `db:"worker_id"`
	ErrorMessage    string         `db:"error_message"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	LastHeartbeatAt sql.NullTime   `db:"last_heartbeat_at"`
}

// NewVerificationJob builds an in-progress job for the given params.
func NewVerificationJob(id string, params BuildParams) *VerificationJob {
	now := time.Now().UTC()
	return &VerificationJob{
		ID:          id,
		RequestHash: params.Hash(),
		Repository:  params.Repository,
		CommitHash:  params.CommitHash,
		ProgramID:   params.ProgramID,
		LibName:     params.LibName,
		BpfFlag:     params.BpfFlag,
		BaseImage:   params.BaseImage,
		MountPath:   params.MountPath,
		CargoArgs:   pq.StringArray(params.CargoArgs),
		Status:      JobStatusInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Params reconstructs the build params recorded on the job.
func (j *VerificationJob) Params() BuildParams {
	return BuildParams{
		Repository: j.Repository,
		CommitHash: j.CommitHash,
		ProgramID:  j.ProgramID,
		LibName:    j.LibName,
		BpfFlag:    j.BpfFlag,
		BaseImage:  j.BaseImage,
		MountPath:  j.MountPath,
		CargoArgs:  []string(j.CargoArgs),
	}
}

// Terminal reports whether the job has reached completed or failed.
func (j *VerificationJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// VerifiedProgram is the verdict produced by a successful verification,
// keyed by program id. Later successful verifications overwrite it.
type VerifiedProgram struct {
	ProgramID      string    `db:"program_id"`
	IsVerified     bool      `db:"is_verified"`
	OnChainHash    string    `db:"on_chain_hash"`
	ExecutableHash string    `db:"executable_hash"`
	VerifiedAt     time.Time `db:"verified_at"`
}
