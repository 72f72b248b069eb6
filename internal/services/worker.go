package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gnafhan/cv-evaluator-workflow/internal/repositories"
	"github.com/gnafhan/cv-evaluator-workflow/internal/telemetry"
)

// Worker delivers each queued job to exactly one evaluator invocation. The
// 10s poller re-enqueues rows still in queued status, which is the transport
// level redelivery; the evaluator never retries a whole job itself.
type Worker interface {
	Start(ctx context.Context)
	Stop()
	EnqueueJob(evalID uuid.UUID)
}

type worker struct {
	evalRepo         repositories.EvaluationRepository
	evaluatorService EvaluatorService
	jobQueue         chan uuid.UUID
	concurrency      int
	jobTimeout       time.Duration
	logger           *zap.Logger
	metrics          *telemetry.Metrics
	wg               sync.WaitGroup
	stopChan         chan struct{}

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

func NewWorker(
	evalRepo repositories.EvaluationRepository,
	evaluatorService EvaluatorService,
	concurrency int,
	jobTimeout time.Duration,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &worker{
		evalRepo:         evalRepo,
		evaluatorService: evaluatorService,
		jobQueue:         make(chan uuid.UUID, 100),
		concurrency:      concurrency,
		jobTimeout:       jobTimeout,
		logger:           logger,
		metrics:          metrics,
		stopChan:         make(chan struct{}),
		inflight:         make(map[uuid.UUID]struct{}),
	}
}

// Start implements Worker.
func (w *worker) Start(ctx context.Context) {
	w.logger.Info("starting worker pool", zap.Int("concurrency", w.concurrency))

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.processJobs(ctx, i+1)
	}

	w.wg.Add(1)
	go w.pollPendingJobs(ctx)
}

// Stop implements Worker.
func (w *worker) Stop() {
	w.logger.Info("stopping worker pool")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("worker pool stopped")
}

// EnqueueJob implements Worker. Enqueueing an already-inflight job is a no-op
// so poller redelivery cannot hand one job to two workers. The send never
// blocks: a full queue drops the delivery and leaves the row in queued status
// for the poller to redeliver, so the HTTP path stays bounded.
func (w *worker) EnqueueJob(evalID uuid.UUID) {
	w.mu.Lock()
	if _, busy := w.inflight[evalID]; busy {
		w.mu.Unlock()
		return
	}
	w.inflight[evalID] = struct{}{}
	w.mu.Unlock()

	select {
	case w.jobQueue <- evalID:
		w.metrics.QueueDepth.Inc()
		w.logger.Debug("job enqueued", zap.String("job_id", evalID.String()))
	case <-w.stopChan:
		w.release(evalID)
		w.logger.Warn("worker stopped, job not enqueued", zap.String("job_id", evalID.String()))
	default:
		w.release(evalID)
		w.logger.Warn("job queue full, deferring to poller redelivery", zap.String("job_id", evalID.String()))
	}
}

func (w *worker) release(evalID uuid.UUID) {
	w.mu.Lock()
	delete(w.inflight, evalID)
	w.mu.Unlock()
}

func (w *worker) processJobs(ctx context.Context, workerID int) {
	defer w.wg.Done()
	log := w.logger.With(zap.Int("worker_id", workerID))

	for {
		select {
		case <-w.stopChan:
			log.Debug("worker stopped")
			return
		case evalID := <-w.jobQueue:
			w.metrics.QueueDepth.Dec()
			log.Info("processing job", zap.String("job_id", evalID.String()))

			// The wall-clock timeout is the only cancellation mechanism; a
			// dequeued job otherwise runs to completion or failure.
			jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
			err := w.evaluatorService.EvaluateCandidate(jobCtx, evalID)
			cancel()
			w.release(evalID)

			if err != nil {
				log.Error("job failed", zap.String("job_id", evalID.String()), zap.Error(err))
			} else {
				log.Info("job completed", zap.String("job_id", evalID.String()))
			}
		}
	}
}

func (w *worker) pollPendingJobs(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			pendingJobs, err := w.evalRepo.FindPendingJobs(10)
			if err != nil {
				w.logger.Warn("failed to fetch pending jobs", zap.Error(err))
				continue
			}

			if len(pendingJobs) > 0 {
				w.logger.Debug("found pending jobs", zap.Int("count", len(pendingJobs)))
			}

			for _, job := range pendingJobs {
				w.EnqueueJob(job.ID)
			}
		}
	}
}
