// Package scheduler owns the discovery job lifecycle: submission, queueing,
// execution and cancellation. Job state is mutated only here.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/metrics"
)

// Scheduler accepts discovery requests and hands them to the worker pool.
type Scheduler struct {
	queue   keyword.Queue
	jobs    keyword.JobStore
	clock   keyword.Clock
	ids     keyword.IDGenerator
	cancels *CancelRegistry
	logger  *zap.Logger
}

// New constructs a Scheduler. The registry must be shared with the workers
// so cancellation reaches running jobs.
func New(
	queue keyword.Queue,
	jobs keyword.JobStore,
	clock keyword.Clock,
	ids keyword.IDGenerator,
	cancels *CancelRegistry,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		queue:   queue,
		jobs:    jobs,
		clock:   clock,
		ids:     ids,
		cancels: cancels,
		logger:  logger,
	}
}

// ErrInvalidRequest marks submission-contract violations.
var ErrInvalidRequest = errors.New("invalid discovery request")

// ValidateRequest checks a discovery request against the submission contract.
func ValidateRequest(req keyword.DiscoveryRequest) error {
	if req.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidRequest)
	}
	if req.AppID == "" {
		return fmt.Errorf("%w: app_id is required", ErrInvalidRequest)
	}
	if req.Region == "" {
		return fmt.Errorf("%w: region is required", ErrInvalidRequest)
	}
	if !keyword.ValidTargetCount(req.TargetCount) {
		return fmt.Errorf("%w: target_count must be one of %v", ErrInvalidRequest, keyword.AllowedTargetCounts)
	}
	switch req.Depth {
	case keyword.DepthQuick, keyword.DepthStandard, keyword.DepthComprehensive:
	default:
		return fmt.Errorf("%w: depth %q is not supported", ErrInvalidRequest, req.Depth)
	}
	return nil
}

// Submit validates the request, persists a pending job and enqueues it.
func (s *Scheduler) Submit(ctx context.Context, req keyword.DiscoveryRequest) (keyword.DiscoveryJob, error) {
	if err := ValidateRequest(req); err != nil {
		return keyword.DiscoveryJob{}, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return keyword.DiscoveryJob{}, fmt.Errorf("generate job id: %w", err)
	}
	job := keyword.DiscoveryJob{
		ID:        id,
		Request:   req,
		Status:    keyword.JobStatusPending,
		Submitted: s.clock.Now(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return keyword.DiscoveryJob{}, fmt.Errorf("create job: %w", err)
	}

	item := keyword.QueueItem{
		JobID:     job.ID,
		Request:   req,
		Submitted: job.Submitted.UnixMilli(),
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		// The job row exists but will never run; surface that on the row.
		now := s.clock.Now()
		job.Status = keyword.JobStatusFailed
		job.Reason = keyword.ReasonSchedulerFault
		job.ErrorText = fmt.Sprintf("enqueue: %v", err)
		job.Finished = &now
		if updateErr := s.jobs.UpdateJob(ctx, job); updateErr != nil {
			s.logger.Error("mark job failed after enqueue error",
				zap.String("job_id", job.ID), zap.Error(updateErr))
		}
		metrics.ObserveJob(string(keyword.JobStatusFailed))
		return keyword.DiscoveryJob{}, fmt.Errorf("enqueue job: %w", err)
	}

	metrics.ObserveJob(string(keyword.JobStatusPending))
	s.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("app_id", req.AppID),
		zap.String("region", req.Region),
		zap.Int("target_count", req.TargetCount),
		zap.String("depth", string(req.Depth)),
	)
	return job, nil
}

// GetStatus returns the current job row.
func (s *Scheduler) GetStatus(ctx context.Context, jobID string) (keyword.DiscoveryJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// Cancel requests job cancellation. Terminal jobs return ErrAlreadyTerminal.
// A running job is signaled through its worker context and reaches the failed
// state asynchronously; a still-queued job is failed immediately.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (keyword.DiscoveryJob, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return keyword.DiscoveryJob{}, err
	}
	if job.Status.IsTerminal() {
		return job, keyword.ErrAlreadyTerminal
	}

	if s.cancels.Cancel(jobID) {
		s.logger.Info("cancellation signaled", zap.String("job_id", jobID))
		return job, nil
	}

	// Not picked up by a worker yet: fail the row so a later dequeue skips it.
	now := s.clock.Now()
	job.Status = keyword.JobStatusFailed
	job.Reason = keyword.ReasonCancelled
	job.Finished = &now
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return keyword.DiscoveryJob{}, fmt.Errorf("cancel job: %w", err)
	}
	metrics.ObserveJob(string(keyword.JobStatusFailed))
	s.logger.Info("queued job cancelled", zap.String("job_id", jobID))
	return job, nil
}

// CancelRegistry tracks cancel functions for running jobs.
type CancelRegistry struct {
	mu        sync.Mutex
	active    map[string]context.CancelFunc
	requested map[string]bool
}

// NewCancelRegistry builds an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{
		active:    make(map[string]context.CancelFunc),
		requested: make(map[string]bool),
	}
}

// Register records the cancel function for a job about to run.
func (r *CancelRegistry) Register(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[jobID] = cancel
	if r.requested[jobID] {
		cancel()
	}
}

// Cancel fires the job's cancel function. It reports whether a running job
// was signaled; false means the job never reached a worker. The request is
// recorded regardless, so a worker that loaded the job but has not yet
// registered still observes the cancellation on Register.
func (r *CancelRegistry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested[jobID] = true
	cancel, ok := r.active[jobID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// Requested reports whether cancellation was asked for this job.
func (r *CancelRegistry) Requested(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requested[jobID]
}

// Deregister clears job state once the run finishes.
func (r *CancelRegistry) Deregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, jobID)
	delete(r.requested, jobID)
}
