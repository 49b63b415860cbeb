package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solverify/verify-service/internal/api/dto"
	"github.com/solverify/verify-service/internal/api/model"
	"github.com/solverify/verify-service/internal/api/service"
	"github.com/solverify/verify-service/internal/api/storage"
)

type stubStore struct {
	existing    *model.VerificationJob
	findErr     error
	insertErr   error
	program     *model.VerifiedProgram
	programErr  error
	insertCount int
}

func (s *stubStore) FindJobByParams(_ context.Context, _ model.BuildParams) (*model.VerificationJob, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.existing == nil {
		return nil, storage.ErrJobNotFound
	}
	return s.existing, nil
}

func (s *stubStore) InsertJob(_ context.Context, _ *model.VerificationJob) (bool, error) {
	if s.insertErr != nil {
		return false, s.insertErr
	}
	s.insertCount++
	return true, nil
}

func (s *stubStore) GetVerifiedProgram(_ context.Context, _ string) (*model.VerifiedProgram, error) {
	if s.programErr != nil {
		return nil, s.programErr
	}
	return s.program, nil
}

type noopLauncher struct{}

func (noopLauncher) Launch(_ context.Context, _ *model.VerificationJob) error { return nil }

func newTestRouter(store service.JobStore) *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewVerifyHandler(&Dependencies{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dispatch: service.NewDispatch(store, noopLauncher{}, slog.New(slog.NewTextHandler(io.Discard, nil))),
	})

	r := gin.New()
	r.POST("/api/v1/verify", h.Verify)
	return r
}

func postVerify(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

const validBody = `{"repository":"https://x/y","commit_hash":"abc123","program_id":"P1"}`

func TestVerify_NewRequestAccepted(t *testing.T) {
	store := &stubStore{}
	rec := postVerify(t, newTestRouter(store), validBody)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.JobStatusInProgress, resp.Status)
	assert.Equal(t, service.MsgVerificationStarted, resp.Message)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, 1, store.insertCount)
}

func TestVerify_MissingRequiredFields(t *testing.T) {
	store := &stubStore{}
	rec := postVerify(t, newTestRouter(store), `{"repository":"https://x/y"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, store.insertCount)
}

func TestVerify_CompletedDuplicateReturnsReport(t *testing.T) {
	job := model.NewVerificationJob("11111111-1111-1111-1111-111111111111", model.BuildParams{
		Repository: "https://x/y",
		CommitHash: "abc123",
		ProgramID:  "P1",
	})
	job.Status = model.JobStatusCompleted
	store := &stubStore{
		existing: job,
		program: &model.VerifiedProgram{
			ProgramID:      "P1",
			IsVerified:     true,
			OnChainHash:    "h1",
			ExecutableHash: "h1",
		},
	}

	rec := postVerify(t, newTestRouter(store), validBody)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsVerified)
	assert.Equal(t, "On chain program verified", resp.Message)
	assert.Equal(t, "https://x/y/commit/abc123", resp.RepoURL)
	assert.Zero(t, store.insertCount)
}

func TestVerify_FailedDuplicateConflicts(t *testing.T) {
	job := model.NewVerificationJob("11111111-1111-1111-1111-111111111111", model.BuildParams{
		Repository: "https://x/y",
		CommitHash: "abc123",
		ProgramID:  "P1",
	})
	job.Status = model.JobStatusFailed
	store := &stubStore{existing: job}

	rec := postVerify(t, newTestRouter(store), validBody)

	require.Equal(t, http.StatusConflict, rec.Code)

	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, service.MsgPreviousFailed, resp.Error)
}

func TestVerify_InsertErrorIsInternal(t *testing.T) {
	store := &stubStore{insertErr: assert.AnError}

	rec := postVerify(t, newTestRouter(store), validBody)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, service.MsgInsertFailed, resp.Error)
}
