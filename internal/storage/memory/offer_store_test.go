package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

func sampleOffer(id, url string) offer.Offer {
	return offer.Offer{
		ID:           id,
		Title:        "Offer " + id,
		Source:       offer.SourceAmazon,
		ProductURL:   url,
		CurrentPrice: 10,
		Active:       true,
		CollectedAt:  time.Now().UTC(),
	}
}

func TestOfferStoreInsertRejectsDuplicateURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewOfferStore()
	require.NoError(t, s.Insert(ctx, sampleOffer("a", "https://ex.com/1")))
	err := s.Insert(ctx, sampleOffer("b", "https://ex.com/1"))
	require.ErrorIs(t, err, offer.ErrDuplicate)

	got, err := s.GetByProductURL(ctx, "https://ex.com/1")
	require.NoError(t, err)
	require.Equal(t, "a", got.ID)
}

func TestOfferStoreMarkPostedIsIdempotentGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewOfferStore()
	require.NoError(t, s.Insert(ctx, sampleOffer("a", "https://ex.com/1")))

	now := time.Now().UTC()
	require.NoError(t, s.MarkPosted(ctx, "a", now))
	require.ErrorIs(t, s.MarkPosted(ctx, "a", now), offer.ErrAlreadyPosted)

	got, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	require.True(t, got.Posted)
	require.NotNil(t, got.PostedAt)
}

func TestOfferStoreListFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewOfferStore()

	active := sampleOffer("a", "https://ex.com/1")
	inactive := sampleOffer("b", "https://ex.com/2")
	inactive.Active = false
	posted := sampleOffer("c", "https://ex.com/3")
	posted.Posted = true
	shopee := sampleOffer("d", "https://ex.com/4")
	shopee.Source = offer.SourceShopee

	for _, o := range []offer.Offer{active, inactive, posted, shopee} {
		require.NoError(t, s.Insert(ctx, o))
	}

	got, err := s.List(ctx, offer.ListFilter{OnlyActive: true, Unposted: true})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = s.List(ctx, offer.ListFilter{Source: offer.SourceShopee})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "d", got[0].ID)

	got, err = s.List(ctx, offer.ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestOfferStoreDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewOfferStore()
	require.NoError(t, s.Insert(ctx, sampleOffer("a", "https://ex.com/1")))
	require.NoError(t, s.Delete(ctx, "a"))
	require.ErrorIs(t, s.Delete(ctx, "a"), offer.ErrNotFound)

	// URL index must be released so the offer can be re-inserted.
	require.NoError(t, s.Insert(ctx, sampleOffer("a2", "https://ex.com/1")))
}

func TestShortLinkStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewShortLinkStore()
	link := offer.ShortLink{Code: "abc123", TargetURL: "https://ex.com/x", URLHash: "h1"}
	require.NoError(t, s.Save(ctx, link))
	require.ErrorIs(t, s.Save(ctx, link), offer.ErrDuplicate)

	byHash, err := s.GetByHash(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, "abc123", byHash.Code)

	require.NoError(t, s.IncrementClicks(ctx, "abc123"))
	require.NoError(t, s.IncrementClicks(ctx, "abc123"))
	got, err := s.GetByCode(ctx, "abc123")
	require.NoError(t, err)
	require.EqualValues(t, 2, got.Clicks)
}

func TestTemplateStoreDefaultIsExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewTemplateStore()
	require.NoError(t, s.Save(ctx, offer.MessageTemplate{ID: "t1", Name: "one", Default: true}))
	require.NoError(t, s.Save(ctx, offer.MessageTemplate{ID: "t2", Name: "two", Default: true}))

	def, err := s.GetDefault(ctx)
	require.NoError(t, err)
	require.Equal(t, "t2", def.ID)

	first, err := s.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.False(t, first.Default)
}

func TestJobStoreLifecycleTimestamps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewJobStore()
	job := offer.CollectJob{ID: "job-1", Status: offer.JobStatusQueued, Submitted: time.Now().UTC()}
	require.NoError(t, s.CreateJob(ctx, job))
	require.ErrorIs(t, s.CreateJob(ctx, job), offer.ErrDuplicate)

	require.NoError(t, s.UpdateJobStatus(ctx, "job-1", offer.JobStatusRunning, "", offer.JobCounters{}))
	running, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, running.Started)
	require.Nil(t, running.Finished)

	counters := offer.JobCounters{OffersScraped: 5, OffersSaved: 3}
	require.NoError(t, s.UpdateJobStatus(ctx, "job-1", offer.JobStatusSucceeded, "", counters))
	done, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, done.Finished)
	require.Equal(t, counters, done.Counters)
}
