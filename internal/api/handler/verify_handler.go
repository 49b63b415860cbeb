package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/solverify/verify-service/internal/api/dto"
	"github.com/solverify/verify-service/internal/api/model"
	"github.com/solverify/verify-service/internal/api/service"
	"github.com/solverify/verify-service/internal/api/storage"
)

// Verify handles POST /api/v1/verify
// Accepts a verification request, dedupes it and starts a background build.
func (h *VerifyHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	outcome := h.dispatch.Submit(c.Request.Context(), req.Params())

	switch outcome.Kind {
	case service.OutcomeReport:
		c.JSON(http.StatusOK, outcome.Report)
	case service.OutcomeInProgress:
		c.JSON(http.StatusOK, outcome.Ack)
	case service.OutcomeConflict:
		c.JSON(http.StatusConflict, outcome.Err)
	default:
		c.JSON(http.StatusInternalServerError, outcome.Err)
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the current state of one verification job.
func (h *VerifyHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

// GetProgramStatus handles GET /api/v1/status/:program_id
// Returns the latest verification verdict for a deployed program.
func (h *VerifyHandler) GetProgramStatus(c *gin.Context) {
	programID := c.Param("program_id")
	if programID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "program_id is required",
		})
		return
	}

	program, err := h.storage.GetVerifiedProgram(c.Request.Context(), programID)
	if err != nil {
		if errors.Is(err, storage.ErrProgramNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{
				Status: "error",
				Error:  "program has not been verified",
			})
			return
		}
		h.logger.Error("Failed to get verified program", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get verification status",
		})
		return
	}

	// The repo reference comes from the most recent job for the program;
	// the verdict is current even when that lookup fails.
	var params model.BuildParams
	if job, err := h.storage.FindLatestJobByProgram(c.Request.Context(), programID); err == nil {
		params = job.Params()
	}

	c.JSON(http.StatusOK, service.ProjectReport(params, program))
}

// ListJobs handles GET /api/v1/jobs
// Lists verification jobs with optional status filtering and pagination.
func (h *VerifyHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.storage.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobResponse, len(jobs))
	for i := range jobs {
		jobResponse[i] = jobToResponse(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		cursorObj := storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		}
		nextCursor, err = EncodeJobCursor(&cursorObj)
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

func jobToResponse(job *model.VerificationJob) dto.JobResponse {
	return dto.JobResponse{
		JobID:        job.ID,
		Repository:   job.Repository,
		CommitHash:   job.CommitHash,
		ProgramID:    job.ProgramID,
		LibName:      job.LibName,
		BpfFlag:      job.BpfFlag,
		BaseImage:    job.BaseImage,
		MountPath:    job.MountPath,
		CargoArgs:    []string(job.CargoArgs),
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
}
