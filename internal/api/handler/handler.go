package handler

import (
	"log/slog"

	"github.com/solverify/verify-service/internal/api/service"
	"github.com/solverify/verify-service/internal/api/storage"
)

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Logger   *slog.Logger
	Dispatch *service.Dispatch
	Storage  *storage.Storage
}

// VerifyHandler serves the verification endpoints.
type VerifyHandler struct {
	logger   *slog.Logger
	dispatch *service.Dispatch
	storage  *storage.Storage
}

// NewVerifyHandler creates a new VerifyHandler instance.
func NewVerifyHandler(deps *Dependencies) *VerifyHandler {
	return &VerifyHandler{
		logger:   deps.Logger,
		dispatch: deps.Dispatch,
		storage:  deps.Storage,
	}
}
