package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voxelpromo/voxelpromo/internal/metrics"
	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// Dispatcher fans out queue work to a pool of workers and owns job
// submission.
type Dispatcher struct {
	queue   offer.Queue
	jobs    offer.JobStore
	ids     offer.IDGenerator
	clock   offer.Clock
	workers []*Worker
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(queue offer.Queue, jobs offer.JobStore, ids offer.IDGenerator, clock offer.Clock, workers []*Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		jobs:    jobs,
		ids:     ids,
		clock:   clock,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit persists a queued job and hands it to the worker pool.
func (d *Dispatcher) Submit(ctx context.Context, params offer.JobParameters) (offer.CollectJob, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return offer.CollectJob{}, fmt.Errorf("new job id: %w", err)
	}

	job := offer.CollectJob{
		ID:         id,
		Status:     offer.JobStatusQueued,
		Submitted:  d.now(),
		Parameters: params,
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return offer.CollectJob{}, fmt.Errorf("create job: %w", err)
	}

	item := offer.QueueItem{
		JobID:     job.ID,
		Params:    params,
		Submitted: job.Submitted.UnixNano(),
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		// The job record stays behind marked failed so the caller can see why.
		_ = d.jobs.UpdateJobStatus(ctx, job.ID, offer.JobStatusFailed,
			fmt.Sprintf("enqueue: %v", err), offer.JobCounters{})
		return offer.CollectJob{}, fmt.Errorf("queue enqueue: %w", err)
	}

	metrics.ObserveJob(string(offer.JobStatusQueued))
	return job, nil
}

// Job fetches one job record.
func (d *Dispatcher) Job(ctx context.Context, jobID string) (offer.CollectJob, error) {
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return offer.CollectJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (d *Dispatcher) now() time.Time {
	if d.clock == nil {
		return time.Now().UTC()
	}
	return d.clock.Now()
}
