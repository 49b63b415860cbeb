package dto

import "github.com/solverify/verify-service/internal/api/model"

// VerifyRequest is the inbound payload for POST /api/v1/verify.
// Repository and program id are required; everything else is optional.
type VerifyRequest struct {
	Repository string   `json:"repository" binding:"required"`
	CommitHash string   `json:"commit_hash"`
	ProgramID  string   `json:"program_id" binding:"required"`
	LibName    string   `json:"lib_name"`
	BpfFlag    *bool    `json:"bpf_flag"`
	BaseImage  string   `json:"base_image"`
	MountPath  string   `json:"mount_path"`
	CargoArgs  []string `json:"cargo_args"`
}

// Params converts the request into the domain build params.
func (r *VerifyRequest) Params() model.BuildParams {
	bpf := false
	if r.BpfFlag != nil {
		bpf = *r.BpfFlag
	}
	return model.BuildParams{
		Repository: r.Repository,
		CommitHash: r.CommitHash,
		ProgramID:  r.ProgramID,
		LibName:    r.LibName,
		BpfFlag:    bpf,
		BaseImage:  r.BaseImage,
		MountPath:  r.MountPath,
		CargoArgs:  r.CargoArgs,
	}
}

// StatusResponse is the verification report returned when a completed job
// already covers the request.
type StatusResponse struct {
	IsVerified     bool   `json:"is_verified"`
	Message        string `json:"message"`
	OnChainHash    string `json:"on_chain_hash"`
	ExecutableHash string `json:"executable_hash"`
	RepoURL        string `json:"repo_url"`
}

// VerifyResponse acknowledges an accepted or already-running verification.
type VerifyResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

// ErrorResponse carries the conflict and internal-error shapes.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// JobResponse exposes a stored job for the polling endpoints.
type JobResponse struct {
	JobID        string   `json:"job_id"`
	Repository   string   `json:"repository"`
	CommitHash   string   `json:"commit_hash,omitempty"`
	ProgramID    string   `json:"program_id"`
	LibName      string   `json:"lib_name,omitempty"`
	BpfFlag      bool     `json:"bpf_flag"`
	BaseImage    string   `json:"base_image,omitempty"`
	MountPath    string   `json:"mount_path,omitempty"`
	CargoArgs    []string `json:"cargo_args,omitempty"`
	Status       string   `json:"status"`
	ErrorMessage string   `json:"error_message,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// ListJobsRequest holds the query parameters of GET /api/v1/jobs.
type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is a cursor-paginated page of jobs.
type ListJobsResponse struct {
	Jobs       []JobResponse `json:"jobs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
