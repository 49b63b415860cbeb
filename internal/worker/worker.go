package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/solverify/verify-service/internal/api/model"
	"github.com/solverify/verify-service/internal/backoff"
	"github.com/solverify/verify-service/internal/verifier"
	"github.com/solverify/verify-service/internal/worker/domain"
	"github.com/solverify/verify-service/internal/worker/storage"
	"github.com/solverify/verify-service/shared/postgresql"
	"github.com/solverify/verify-service/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	DBClient          *postgresql.Client
	RabbitClient      *rabbitmq.Client
	Verifier          verifier.Verifier
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	CompletionRetry   backoff.Policy
	SweepInterval     time.Duration
	SweepStaleAfter   time.Duration
	SweepBatchSize    int
}

// jobStore is the persistence surface the processing and sweep paths need;
// internal/worker/storage implements it, tests use a fake.
type jobStore interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*model.VerificationJob, error)
	ReleaseJob(ctx context.Context, jobID string) error
	UpdateJobStatus(ctx context.Context, jobID, status, errorMessage string) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
	UpsertVerifiedProgram(ctx context.Context, program *model.VerifiedProgram) error
	GetVerifiedProgram(ctx context.Context, programID string) (*model.VerifiedProgram, error)
	FindStaleJobs(ctx context.Context, staleAfter time.Duration, limit int) ([]model.VerificationJob, error)
}

// publisher is the queue surface the sweeper needs for republishing.
type publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Worker consumes queued verification jobs, runs them through the verifier
// and records the outcome.
type Worker struct {
	logger            *slog.Logger
	dbClient          *postgresql.Client
	rabbitClient      *rabbitmq.Client
	publisher         publisher
	storage           jobStore
	verifier          verifier.Verifier
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	completionRetry   backoff.Policy
	sweepInterval     time.Duration
	sweepStaleAfter   time.Duration
	sweepBatchSize    int
	workerID          string
	jobsChan          chan *domain.JobMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	sweepBatch := cfg.SweepBatchSize
	if sweepBatch <= 0 {
		sweepBatch = 50
	}

	return &Worker{
		logger:            cfg.Logger,
		dbClient:          cfg.DBClient,
		rabbitClient:      cfg.RabbitClient,
		publisher:         cfg.RabbitClient,
		storage:           storage.NewStorage(cfg.DBClient.GetDB(), cfg.Logger),
		verifier:          cfg.Verifier,
		concurrency:       cfg.Concurrency,
		prefetchCount:     cfg.PrefetchCount,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: heartbeat,
		completionRetry:   cfg.CompletionRetry,
		sweepInterval:     cfg.SweepInterval,
		sweepStaleAfter:   cfg.SweepStaleAfter,
		sweepBatchSize:    sweepBatch,
		workerID:          "verify-worker-" + uuid.New().String(),
		jobsChan:          make(chan *domain.JobMessage),
		stopChan:          make(chan struct{}),
	}
}

// Start begins consuming and processing verification jobs until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)

	go w.startMessageDispatcher(ctx, deliveries)

	if w.sweepInterval > 0 {
		go w.runSweeper(ctx)
	}

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
