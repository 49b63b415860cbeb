package service

import (
	"github.com/solverify/verify-service/internal/api/dto"
	"github.com/solverify/verify-service/internal/api/model"
)

// Response messages. The duplicate-failure and database-failure texts are
// part of the public API surface and deliberately verbose.
const (
	MsgVerificationStarted = "Build verification started"
	MsgAlreadyInProgress   = "Build verification already in progress"
	MsgProgramVerified     = "On chain program verified"
	MsgProgramNotVerified  = "On chain program not verified"
	MsgPreviousFailed      = "The previous request has already been processed, but unfortunately, the verification process has failed."
	MsgInsertFailed        = "An unforeseen database error has occurred, preventing the initiation of the build process. Kindly try again after some time."
	MsgMissingResult       = "The verification finished but its result could not be found. Kindly try again after some time."
)

// OutcomeKind selects which of the four response shapes an Outcome carries.
type OutcomeKind int

const (
	OutcomeReport OutcomeKind = iota
	OutcomeInProgress
	OutcomeConflict
	OutcomeInternalError
)

// Outcome is the dispatch service's answer to one submit call.
type Outcome struct {
	Kind   OutcomeKind
	Report *dto.StatusResponse
	Ack    *dto.VerifyResponse
	Err    *dto.ErrorResponse
}

func ReportOutcome(report *dto.StatusResponse) Outcome {
	return Outcome{Kind: OutcomeReport, Report: report}
}

func InProgressOutcome(requestID, message string) Outcome {
	return Outcome{
		Kind: OutcomeInProgress,
		Ack: &dto.VerifyResponse{
			Status:    model.JobStatusInProgress,
			RequestID: requestID,
			Message:   message,
		},
	}
}

func ConflictOutcome(message string) Outcome {
	return Outcome{
		Kind: OutcomeConflict,
		Err:  &dto.ErrorResponse{Status: "error", Error: message},
	}
}

func InternalErrorOutcome(message string) Outcome {
	return Outcome{
		Kind: OutcomeInternalError,
		Err:  &dto.ErrorResponse{Status: "error", Error: message},
	}
}

// ProjectReport maps a stored verdict into the caller-facing verification
// report for the given request.
func ProjectReport(params model.BuildParams, program *model.VerifiedProgram) *dto.StatusResponse {
	return &dto.StatusResponse{
		IsVerified:     program.IsVerified,
		Message:        VerdictMessage(program.IsVerified),
		OnChainHash:    program.OnChainHash,
		ExecutableHash: program.ExecutableHash,
		RepoURL:        params.RepoURL(),
	}
}

// VerdictMessage is the human-readable form of a verdict flag.
func VerdictMessage(isVerified bool) string {
	if isVerified {
		return MsgProgramVerified
	}
	return MsgProgramNotVerified
}
