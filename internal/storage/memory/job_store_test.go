package memory

import (
	"context"
	"testing"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := offer.CollectJob{ID: "job-1", Status: offer.JobStatusQueued}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, job); err == nil {
		t.Fatal("expected duplicate job error")
	}
	if err := store.UpdateJobStatus(ctx, job.ID, offer.JobStatusRunning, "", offer.JobCounters{}); err != nil {
		t.Fatalf("UpdateJobStatus running error = %v", err)
	}

	err := store.UpdateJobStatus(
		ctx,
		job.ID,
		offer.JobStatusSucceeded,
		"done",
		offer.JobCounters{OffersScraped: 3, OffersSaved: 2},
	)
	if err != nil {
		t.Fatalf("UpdateJobStatus succeeded error = %v", err)
	}
	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if final.Status != offer.JobStatusSucceeded || final.Started == nil || final.Finished == nil {
		t.Fatalf("expected timestamps set, got %+v", final)
	}
	if final.ErrorText != "done" || final.Counters.OffersSaved != 2 {
		t.Fatalf("expected counters/error text to persist, got %+v", final)
	}

	if _, err := store.GetJob(ctx, "missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}
