package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solverify/verify-service/internal/api/model"
	"github.com/solverify/verify-service/internal/api/storage"
)

type findResult struct {
	job *model.VerificationJob
	err error
}

type fakeStore struct {
	findResults []findResult
	findCalls   int

	insertErr      error
	insertConflict bool
	inserted       []*model.VerificationJob

	program    *model.VerifiedProgram
	programErr error
}

func (s *fakeStore) FindJobByParams(_ context.Context, _ model.BuildParams) (*model.VerificationJob, error) {
	if s.findCalls >= len(s.findResults) {
		s.findCalls++
		return nil, storage.ErrJobNotFound
	}
	res := s.findResults[s.findCalls]
	s.findCalls++
	return res.job, res.err
}

func (s *fakeStore) InsertJob(_ context.Context, job *model.VerificationJob) (bool, error) {
	if s.insertErr != nil {
		return false, s.insertErr
	}
	if s.insertConflict {
		return false, nil
	}
	s.inserted = append(s.inserted, job)
	return true, nil
}

func (s *fakeStore) GetVerifiedProgram(_ context.Context, _ string) (*model.VerifiedProgram, error) {
	if s.programErr != nil {
		return nil, s.programErr
	}
	return s.program, nil
}

type fakeLauncher struct {
	launched []*model.VerificationJob
	err      error
}

func (l *fakeLauncher) Launch(_ context.Context, job *model.VerificationJob) error {
	if l.err != nil {
		return l.err
	}
	l.launched = append(l.launched, job)
	return nil
}

func testParams() model.BuildParams {
	return model.BuildParams{
		Repository: "https://x/y",
		CommitHash: "abc123",
		ProgramID:  "P1",
		LibName:    "l",
	}
}

func terminalJob(status string) *model.VerificationJob {
	job := model.NewVerificationJob("11111111-1111-1111-1111-111111111111", testParams())
	job.Status = status
	return job
}

func newTestDispatch(store JobStore, launcher Launcher) *Dispatch {
	return NewDispatch(store, launcher, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubmit_NewRequest(t *testing.T) {
	store := &fakeStore{}
	launcher := &fakeLauncher{}
	d := newTestDispatch(store, launcher)

	out := d.Submit(context.Background(), testParams())

	require.Equal(t, OutcomeInProgress, out.Kind)
	require.NotNil(t, out.Ack)
	assert.Equal(t, model.JobStatusInProgress, out.Ack.Status)
	assert.Equal(t, MsgVerificationStarted, out.Ack.Message)
	assert.NotEmpty(t, out.Ack.RequestID)

	// Exactly one job created, in progress, and launched exactly once.
	require.Len(t, store.inserted, 1)
	job := store.inserted[0]
	assert.Equal(t, model.JobStatusInProgress, job.Status)
	assert.Equal(t, out.Ack.RequestID, job.ID)
	assert.Equal(t, testParams().Hash(), job.RequestHash)

	require.Len(t, launcher.launched, 1)
	assert.Equal(t, job.ID, launcher.launched[0].ID)
}

func TestSubmit_CompletedDuplicateReturnsReport(t *testing.T) {
	store := &fakeStore{
		findResults: []findResult{{job: terminalJob(model.JobStatusCompleted)}},
		program: &model.VerifiedProgram{
			ProgramID:      "P1",
			IsVerified:     true,
			OnChainHash:    "h1",
			ExecutableHash: "h1",
			VerifiedAt:     time.Now(),
		},
	}
	launcher := &fakeLauncher{}
	d := newTestDispatch(store, launcher)

	out := d.Submit(context.Background(), testParams())

	require.Equal(t, OutcomeReport, out.Kind)
	require.NotNil(t, out.Report)
	assert.True(t, out.Report.IsVerified)
	assert.Equal(t, "On chain program verified", out.Report.Message)
	assert.Equal(t, "https://x/y/commit/abc123", out.Report.RepoURL)
	assert.Equal(t, "h1", out.Report.OnChainHash)
	assert.Equal(t, "h1", out.Report.ExecutableHash)

	// No second job, no launch.
	assert.Empty(t, store.inserted)
	assert.Empty(t, launcher.launched)
}

func TestSubmit_CompletedDuplicateNotVerified(t *testing.T) {
	store := &fakeStore{
		findResults: []findResult{{job: terminalJob(model.JobStatusCompleted)}},
		program: &model.VerifiedProgram{
			ProgramID:      "P1",
			IsVerified:     false,
			OnChainHash:    "h1",
			ExecutableHash: "h2",
		},
	}
	d := newTestDispatch(store, &fakeLauncher{})

	out := d.Submit(context.Background(), testParams())

	require.Equal(t, OutcomeReport, out.Kind)
	assert.False(t, out.Report.IsVerified)
	assert.Equal(t, "On chain program not verified", out.Report.Message)
}

func TestSubmit_CompletedWithoutResultIsInternalError(t *testing.T) {
	store := &fakeStore{
		findResults: []findResult{{job: terminalJob(model.JobStatusCompleted)}},
		programErr:  storage.ErrProgramNotFound,
	}
	launcher := &fakeLauncher{}
	d := newTestDispatch(store, launcher)

	out := d.Submit(context.Background(), testParams())

	require.Equal(t, OutcomeInternalError, out.Kind)
	require.NotNil(t, out.Err)
	assert.Equal(t, "error", out.Err.Status)
	assert.Empty(t, store.inserted)
	assert.Empty(t, launcher.launched)
}

func TestSubmit_InProgressDuplicateReturnsAck(t *testing.T) {
	existing := terminalJob(model.JobStatusInProgress)
	store := &fakeStore{
		findResults: []findResult{{job: existing}},
	}
	launcher := &fakeLauncher{}
	d := newTestDispatch(store, launcher)

	out := d.Submit(context.Background(), testParams())

	require.Equal(t, OutcomeInProgress, out.Kind)
	require.NotNil(t, out.Ack)
	assert.Equal(t, MsgAlreadyInProgress, out.Ack.Message)
	// The ack carries a fresh tracking id, not the stored job's id.
	assert.NotEqual(t, existing.ID, out.Ack.RequestID)

	assert.Empty(t, store.inserted)
	assert.Empty(t, launcher.launched)
}

func TestSubmit_FailedDuplicateReturnsConflict(t *testing.T) {
	store := &fakeStore{
		findResults: []findResult{{job: terminalJob(model.JobStatusFailed)}},
	}
	launcher := &fakeLauncher{}
	d := newTestDispatch(store, launcher)

	out := d.Submit(context.Background(), testParams())

	require.Equal(t, OutcomeConflict, out.Kind)
	require.NotNil(t, out.Err)
	assert.Equal(t, MsgPreviousFailed, out.Err.Error)

	// A failed job is never retried automatically.
	assert.Empty(t, store.inserted)
	assert.Empty(t, launcher.launched)
}

func TestSubmit_DedupLookupErrorFailsOpen(t *testing.T) {
	store := &fakeStore{
		findResults: []findResult{{err: errors.New("store unreachable")}},
	}
	launcher := &fakeLauncher{}
	d := newTestDispatch(store, launcher)

	out := d.Submit(context.Background(), testParams())

	require.Equal(t, OutcomeInProgress, out.Kind)
	assert.Equal(t, MsgVerificationStarted, out.Ack.Message)
	assert.Len(t, store.inserted, 1)
	assert.Len(t, launcher.launched, 1)
}

func TestSubmit_InsertFailureAbortsWithoutLaunch(t *testing.T) {
	store := &fakeStore{
		insertErr: errors.New("insert failed"),
	}
	launcher := &fakeLauncher{}
	d := newTestDispatch(store, launcher)

	out := d.Submit(context.Background(), testParams())

	require.Equal(t, OutcomeInternalError, out.Kind)
	assert.Equal(t, MsgInsertFailed, out.Err.Error)
	assert.Empty(t, launcher.launched)
}

func TestSubmit_InsertConflictResolvesAgainstWinner(t *testing.T) {
	winner := terminalJob(model.JobStatusInProgress)
	store := &fakeStore{
		findResults: []findResult{
			{err: storage.ErrJobNotFound}, // dedup check sees nothing
			{job: winner},                 // re-read after lost insert race
		},
		insertConflict: true,
	}
	launcher := &fakeLauncher{}
	d := newTestDispatch(store, launcher)

	out := d.Submit(context.Background(), testParams())

	require.Equal(t, OutcomeInProgress, out.Kind)
	assert.Equal(t, MsgAlreadyInProgress, out.Ack.Message)
	assert.Equal(t, 2, store.findCalls)
	assert.Empty(t, launcher.launched)
}

func TestSubmit_LaunchFailureStillAcks(t *testing.T) {
	store := &fakeStore{}
	launcher := &fakeLauncher{err: errors.New("broker down")}
	d := newTestDispatch(store, launcher)

	out := d.Submit(context.Background(), testParams())

	// The job row is durable; the sweep recovers a failed launch.
	require.Equal(t, OutcomeInProgress, out.Kind)
	assert.Equal(t, MsgVerificationStarted, out.Ack.Message)
	assert.Len(t, store.inserted, 1)
}

func TestSubmit_BackToBackIdenticalRequests(t *testing.T) {
	store := &fakeStore{}
	launcher := &fakeLauncher{}
	d := newTestDispatch(store, launcher)

	first := d.Submit(context.Background(), testParams())
	require.Equal(t, OutcomeInProgress, first.Kind)
	require.Len(t, store.inserted, 1)

	// Second call sees the first job still in progress.
	store.findResults = append(store.findResults,
		findResult{}, // consumed by first call
		findResult{job: store.inserted[0]},
	)
	second := d.Submit(context.Background(), testParams())

	require.Equal(t, OutcomeInProgress, second.Kind)
	assert.Equal(t, MsgAlreadyInProgress, second.Ack.Message)
	assert.Len(t, store.inserted, 1, "no second job may be created")
	assert.Len(t, launcher.launched, 1, "worker must be invoked exactly once")
}
