// Package collector executes collect jobs: scrape the requested sources,
// rewrite affiliate links, persist the batch and emit events.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voxelpromo/voxelpromo/internal/affiliate"
	"github.com/voxelpromo/voxelpromo/internal/metrics"
	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// Saver is the slice of the offer service the worker needs.
type Saver interface {
	SaveOffers(ctx context.Context, offers []offer.Offer) (offer.SaveCounters, error)
	PostPending(ctx context.Context, limit int) ([]offer.PostSummary, error)
	PublishCollected(ctx context.Context, jobID string, counters offer.SaveCounters)
}

// Worker consumes queue items and runs the collection pipeline.
type Worker struct {
	queue    offer.Queue
	jobs     offer.JobStore
	saver    Saver
	rewriter *affiliate.Rewriter
	scrapers map[offer.Source]offer.Scraper
	logger   *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(
	queue offer.Queue,
	jobs offer.JobStore,
	saver Saver,
	rewriter *affiliate.Rewriter,
	scrapers []offer.Scraper,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	bySource := make(map[offer.Source]offer.Scraper, len(scrapers))
	for _, s := range scrapers {
		bySource[s.Source()] = s
	}
	return &Worker{
		queue:    queue,
		jobs:     jobs,
		saver:    saver,
		rewriter: rewriter,
		scrapers: bySource,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued collect job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item offer.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, offer.JobStatusRunning, "", offer.JobCounters{}); err != nil {
		w.logger.Error("job status update failed",
			zap.String("job_id", item.JobID), zap.Error(err))
	}

	counters, saveCounters, err := w.collect(ctx, item)
	switch {
	case ctx.Err() != nil:
		w.finishJob(context.WithoutCancel(ctx), item.JobID, offer.JobStatusCanceled, ctx.Err().Error(), counters)
		return
	case err != nil:
		w.finishJob(ctx, item.JobID, offer.JobStatusFailed, err.Error(), counters)
		metrics.ObserveJob(string(offer.JobStatusFailed))
		return
	}

	w.saver.PublishCollected(ctx, item.JobID, saveCounters)

	if item.Params.AutoPost {
		if _, postErr := w.saver.PostPending(ctx, item.Params.MaxOffers); postErr != nil {
			w.logger.Warn("auto-post after collect failed",
				zap.String("job_id", item.JobID), zap.Error(postErr))
		}
	}

	w.finishJob(ctx, item.JobID, offer.JobStatusSucceeded, "", counters)
	metrics.ObserveJob(string(offer.JobStatusSucceeded))
}

// collect scrapes every requested source concurrently, then saves the
// combined batch. A failing source degrades the job, it fails only when
// every source fails.
func (w *Worker) collect(ctx context.Context, item offer.QueueItem) (offer.JobCounters, offer.SaveCounters, error) {
	sources := item.Params.Sources
	if len(sources) == 0 {
		sources = offer.KnownSources()
	}

	var (
		mu       sync.Mutex
		counters offer.JobCounters
		batch    []offer.Offer
		failures []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		scraper, ok := w.scrapers[src]
		if !ok {
			w.logger.Warn("no scraper for source", zap.String("source", string(src)))
			continue
		}
		g.Go(func() error {
			result, err := scraper.Scrape(gctx, offer.ScrapeRequest{
				JobID:    item.JobID,
				Query:    item.Params.Query,
				Category: item.Params.Category,
				Limit:    item.Params.MaxOffers,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				counters.SourcesFailed++
				failures = append(failures, fmt.Sprintf("%s: %v", src, err))
				w.logger.Warn("source scrape failed",
					zap.String("job_id", item.JobID),
					zap.String("source", string(src)),
					zap.Error(err))
				return nil
			}
			counters.OffersScraped += len(result.Offers)
			batch = append(batch, w.prepare(item, result.Offers)...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counters, offer.SaveCounters{}, err
	}
	if counters.SourcesFailed > 0 && counters.OffersScraped == 0 {
		return counters, offer.SaveCounters{}, errors.New(strings.Join(failures, "; "))
	}

	saved, err := w.saver.SaveOffers(ctx, batch)
	if err != nil {
		return counters, saved, fmt.Errorf("save batch: %w", err)
	}
	counters.OffersSaved = saved.Inserted + saved.Reactivated + saved.Refreshed
	return counters, saved, nil
}

// prepare rewrites affiliate links and applies the job's discount floor.
func (w *Worker) prepare(item offer.QueueItem, offers []offer.Offer) []offer.Offer {
	kept := offers[:0]
	for _, o := range offers {
		o = offer.Sanitize(o)
		if item.Params.MinPct > 0 && o.DiscountPct < item.Params.MinPct {
			continue
		}
		if w.rewriter != nil {
			link, err := w.rewriter.Rewrite(o.Source, o.ProductURL)
			if err != nil {
				w.logger.Warn("affiliate rewrite failed",
					zap.String("url", o.ProductURL), zap.Error(err))
			} else {
				o.AffiliateURL = link
			}
		}
		kept = append(kept, o)
	}
	return kept
}

func (w *Worker) finishJob(ctx context.Context, jobID string, status offer.JobStatus, errText string, counters offer.JobCounters) {
	if err := w.jobs.UpdateJobStatus(ctx, jobID, status, errText, counters); err != nil {
		w.logger.Error("job finish update failed",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
