package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxelpromo/voxelpromo/internal/affiliate"
	"github.com/voxelpromo/voxelpromo/internal/channel"
	"github.com/voxelpromo/voxelpromo/internal/copywriter"
	sha256hash "github.com/voxelpromo/voxelpromo/internal/hash/sha256"
	uuidgen "github.com/voxelpromo/voxelpromo/internal/id/uuid"
	"github.com/voxelpromo/voxelpromo/internal/metrics"
	"github.com/voxelpromo/voxelpromo/internal/offer"
	memorypub "github.com/voxelpromo/voxelpromo/internal/publisher/memory"
	memoryqueue "github.com/voxelpromo/voxelpromo/internal/queue/memory"
	"github.com/voxelpromo/voxelpromo/internal/service"
	"github.com/voxelpromo/voxelpromo/internal/shortlink"
	"github.com/voxelpromo/voxelpromo/internal/storage/memory"
)

type fakeScraper struct {
	source offer.Source
	offers []offer.Offer
	err    error
}

func (f *fakeScraper) Source() offer.Source { return f.source }

func (f *fakeScraper) Scrape(_ context.Context, _ offer.ScrapeRequest) (offer.ScrapeResult, error) {
	if f.err != nil {
		return offer.ScrapeResult{}, f.err
	}
	return offer.ScrapeResult{Source: f.source, Offers: f.offers}, nil
}

type env struct {
	dispatcher *Dispatcher
	store      *memory.OfferStore
	jobs       *memory.JobStore
	telegram   *channel.Memory
	cancel     context.CancelFunc
}

func newEnv(t *testing.T, scrapers ...offer.Scraper) *env {
	t.Helper()
	metrics.Init()

	store := memory.NewOfferStore()
	jobs := memory.NewJobStore()
	queue := memoryqueue.NewQueue(4)
	telegram := channel.NewMemory(offer.ChannelTelegram)

	links := shortlink.New(shortlink.Config{BaseURL: "https://vxl.to"},
		memory.NewShortLinkStore(), sha256hash.New(), nil, nil)
	svc := service.NewOfferService(
		service.OfferServiceConfig{},
		store,
		memory.NewHistoryStore(),
		links,
		copywriter.NewTemplateRenderer(nil),
		memorypub.New(),
		[]offer.Channel{telegram},
		uuidgen.New(),
		nil,
		nil,
	)

	rewriter := affiliate.NewRewriter(affiliate.Config{AmazonTag: "voxel-20"})
	worker := NewWorker(queue, jobs, svc, rewriter, scrapers, nil)
	dispatcher := NewDispatcher(queue, jobs, uuidgen.New(), nil, []*Worker{worker})

	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Run(ctx)
	t.Cleanup(cancel)

	return &env{dispatcher: dispatcher, store: store, jobs: jobs, telegram: telegram, cancel: cancel}
}

func sampleOffers() []offer.Offer {
	return []offer.Offer{
		{
			Title:         "Echo Dot",
			Source:        offer.SourceAmazon,
			ProductURL:    "https://www.amazon.com.br/dp/B09B8V1LZ3",
			CurrentPrice:  279,
			OriginalPrice: 399,
			Active:        true,
		},
		{
			Title:         "Fire Stick",
			Source:        offer.SourceAmazon,
			ProductURL:    "https://www.amazon.com.br/dp/B0BQVPL3Q5",
			CurrentPrice:  249.9,
			OriginalPrice: 250,
			Active:        true,
		},
	}
}

func waitForStatus(t *testing.T, e *env, jobID string, status offer.JobStatus) offer.CollectJob {
	t.Helper()
	var job offer.CollectJob
	require.Eventually(t, func() bool {
		var err error
		job, err = e.dispatcher.Job(context.Background(), jobID)
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitRunsJob(t *testing.T) {
	e := newEnv(t, &fakeScraper{source: offer.SourceAmazon, offers: sampleOffers()})

	job, err := e.dispatcher.Submit(context.Background(), offer.JobParameters{
		Sources:   []offer.Source{offer.SourceAmazon},
		Query:     "echo",
		MaxOffers: 10,
	})
	require.NoError(t, err)
	require.Equal(t, offer.JobStatusQueued, job.Status)

	done := waitForStatus(t, e, job.ID, offer.JobStatusSucceeded)
	require.Equal(t, 2, done.Counters.OffersScraped)
	require.Equal(t, 2, done.Counters.OffersSaved)

	saved, err := e.store.List(context.Background(), offer.ListFilter{})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	for _, o := range saved {
		require.Contains(t, o.AffiliateURL, "tag=voxel-20")
	}
	// Nothing was auto-posted.
	require.Empty(t, e.telegram.Messages())
}

func TestSubmitAutoPost(t *testing.T) {
	e := newEnv(t, &fakeScraper{source: offer.SourceAmazon, offers: sampleOffers()})

	job, err := e.dispatcher.Submit(context.Background(), offer.JobParameters{
		Sources:  []offer.Source{offer.SourceAmazon},
		Query:    "echo",
		AutoPost: true,
	})
	require.NoError(t, err)

	waitForStatus(t, e, job.ID, offer.JobStatusSucceeded)
	require.Eventually(t, func() bool {
		return len(e.telegram.Messages()) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMinDiscountFilter(t *testing.T) {
	e := newEnv(t, &fakeScraper{source: offer.SourceAmazon, offers: sampleOffers()})

	job, err := e.dispatcher.Submit(context.Background(), offer.JobParameters{
		Sources: []offer.Source{offer.SourceAmazon},
		Query:   "echo",
		MinPct:  20,
	})
	require.NoError(t, err)

	done := waitForStatus(t, e, job.ID, offer.JobStatusSucceeded)
	require.Equal(t, 1, done.Counters.OffersSaved)

	saved, err := e.store.List(context.Background(), offer.ListFilter{})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Equal(t, "Echo Dot", saved[0].Title)
}

func TestPartialSourceFailureDegrades(t *testing.T) {
	e := newEnv(t,
		&fakeScraper{source: offer.SourceAmazon, offers: sampleOffers()},
		&fakeScraper{source: offer.SourceShopee, err: errors.New("bot wall")},
	)

	job, err := e.dispatcher.Submit(context.Background(), offer.JobParameters{
		Sources: []offer.Source{offer.SourceAmazon, offer.SourceShopee},
		Query:   "echo",
	})
	require.NoError(t, err)

	done := waitForStatus(t, e, job.ID, offer.JobStatusSucceeded)
	require.Equal(t, 1, done.Counters.SourcesFailed)
	require.Equal(t, 2, done.Counters.OffersSaved)
}

func TestAllSourcesFailingFailsJob(t *testing.T) {
	e := newEnv(t, &fakeScraper{source: offer.SourceAmazon, err: errors.New("bot wall")})

	job, err := e.dispatcher.Submit(context.Background(), offer.JobParameters{
		Sources: []offer.Source{offer.SourceAmazon},
		Query:   "echo",
	})
	require.NoError(t, err)

	done := waitForStatus(t, e, job.ID, offer.JobStatusFailed)
	require.Contains(t, done.ErrorText, "bot wall")
}
