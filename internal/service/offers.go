// Package service implements the offer pipeline: batch persistence with
// de-duplication and the multi-channel posting fan-out.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	systemclock "github.com/voxelpromo/voxelpromo/internal/clock/system"
	"github.com/voxelpromo/voxelpromo/internal/metrics"
	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// Topics published by the pipeline.
const (
	TopicOffersCollected = "offers.collected"
	TopicOfferPosted     = "offers.posted"
)

// ShortLinker turns a target URL into a public short URL.
type ShortLinker interface {
	Shorten(ctx context.Context, targetURL, offerID string) (offer.ShortLink, error)
	PublicURL(code string) string
}

// OfferServiceConfig carries the posting knobs.
type OfferServiceConfig struct {
	// ChannelRPS paces sequential channel sends. Zero disables pacing.
	ChannelRPS float64
}

// OfferService owns offer persistence and posting.
type OfferService struct {
	cfg     OfferServiceConfig
	store   offer.Store
	history offer.HistoryStore
	links   ShortLinker
	writer  offer.Copywriter
	pub     offer.Publisher
	ids     offer.IDGenerator
	clock   offer.Clock
	log     *zap.Logger
	pacer   *rate.Limiter

	channels []offer.Channel
}

// NewOfferService builds an OfferService.
func NewOfferService(
	cfg OfferServiceConfig,
	store offer.Store,
	history offer.HistoryStore,
	links ShortLinker,
	writer offer.Copywriter,
	pub offer.Publisher,
	channels []offer.Channel,
	ids offer.IDGenerator,
	clock offer.Clock,
	log *zap.Logger,
) *OfferService {
	if clock == nil {
		clock = systemclock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	var pacer *rate.Limiter
	if cfg.ChannelRPS > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.ChannelRPS), 1)
	}
	return &OfferService{
		cfg:      cfg,
		store:    store,
		history:  history,
		links:    links,
		writer:   writer,
		pub:      pub,
		ids:      ids,
		clock:    clock,
		log:      log,
		pacer:    pacer,
		channels: channels,
	}
}

// SaveOffers persists a scraped batch. Membership is decided by product
// URL: new offers are inserted, known inactive ones are reactivated with
// fresh prices, known active ones only get price updates when the numbers
// moved. Invalid offers are skipped.
func (s *OfferService) SaveOffers(ctx context.Context, offers []offer.Offer) (offer.SaveCounters, error) {
	var counters offer.SaveCounters
	for _, o := range offers {
		o = offer.Sanitize(o)
		if !o.Valid() {
			counters.Skipped++
			metrics.ObserveOfferCollected(string(o.Source), "skipped")
			continue
		}

		outcome, err := s.saveOne(ctx, o)
		if err != nil {
			return counters, fmt.Errorf("save offer %q: %w", o.ProductURL, err)
		}
		switch outcome {
		case "inserted":
			counters.Inserted++
		case "reactivated":
			counters.Reactivated++
		case "refreshed":
			counters.Refreshed++
		default:
			counters.Skipped++
		}
		metrics.ObserveOfferCollected(string(o.Source), outcome)
	}

	s.log.Info("offer batch saved",
		zap.Int("inserted", counters.Inserted),
		zap.Int("reactivated", counters.Reactivated),
		zap.Int("refreshed", counters.Refreshed),
		zap.Int("skipped", counters.Skipped))
	return counters, nil
}

func (s *OfferService) saveOne(ctx context.Context, o offer.Offer) (string, error) {
	now := s.clock.Now()

	existing, err := s.store.GetByProductURL(ctx, o.ProductURL)
	if errors.Is(err, offer.ErrNotFound) {
		id, idErr := s.ids.NewID()
		if idErr != nil {
			return "", fmt.Errorf("new offer id: %w", idErr)
		}
		o.ID = id
		o.Active = true
		o.Posted = false
		o.CollectedAt = now
		o.UpdatedAt = now
		if insErr := s.store.Insert(ctx, o); insErr != nil {
			// A concurrent collector may have inserted the same URL.
			if errors.Is(insErr, offer.ErrDuplicate) {
				return "skipped", nil
			}
			return "", insErr
		}
		return "inserted", nil
	}
	if err != nil {
		return "", err
	}

	if !existing.Active {
		existing.Active = true
		existing.Posted = false
		existing.PostedAt = nil
		existing.Title = o.Title
		existing.AffiliateURL = o.AffiliateURL
		existing.ImageURL = o.ImageURL
		existing.CurrentPrice = o.CurrentPrice
		existing.OriginalPrice = o.OriginalPrice
		existing.DiscountPct = o.DiscountPct
		existing.CollectedAt = now
		existing.UpdatedAt = now
		if updErr := s.store.Update(ctx, existing); updErr != nil {
			return "", updErr
		}
		return "reactivated", nil
	}

	if priceChanged(existing, o) {
		existing.CurrentPrice = o.CurrentPrice
		existing.OriginalPrice = o.OriginalPrice
		existing.DiscountPct = o.DiscountPct
		existing.UpdatedAt = now
		if updErr := s.store.Update(ctx, existing); updErr != nil {
			return "", updErr
		}
		return "refreshed", nil
	}
	return "skipped", nil
}

func priceChanged(existing, scraped offer.Offer) bool {
	return existing.CurrentPrice != scraped.CurrentPrice ||
		existing.OriginalPrice != scraped.OriginalPrice
}

// PostOffer renders copy for the offer and fans it out to every configured
// channel sequentially. A channel failure is recorded and does not stop the
// others; the offer is marked posted once at least one channel accepted it.
// Posting an already-posted offer fails with ErrAlreadyPosted before any
// channel is called.
func (s *OfferService) PostOffer(ctx context.Context, offerID string) (offer.PostSummary, error) {
	o, err := s.store.GetByID(ctx, offerID)
	if err != nil {
		return offer.PostSummary{}, fmt.Errorf("load offer: %w", err)
	}
	if o.Posted {
		return offer.PostSummary{}, offer.ErrAlreadyPosted
	}
	if len(s.channels) == 0 {
		return offer.PostSummary{}, fmt.Errorf("no channels configured")
	}

	msg, err := s.renderMessage(ctx, o)
	if err != nil {
		return offer.PostSummary{}, err
	}

	summary := offer.PostSummary{OfferID: o.ID}
	for _, ch := range s.channels {
		if err := s.pace(ctx); err != nil {
			return summary, err
		}

		externalID, postErr := ch.Post(ctx, msg)
		rec := offer.PostRecord{
			OfferID:    o.ID,
			Channel:    ch.Name(),
			Succeeded:  postErr == nil,
			ExternalID: externalID,
			PostedAt:   s.clock.Now(),
		}
		if postErr != nil {
			rec.ErrorText = postErr.Error()
			summary.Failed++
			metrics.ObservePost(string(ch.Name()), "failed")
			s.log.Warn("channel post failed",
				zap.String("offer_id", o.ID),
				zap.String("channel", string(ch.Name())),
				zap.Error(postErr))
		} else {
			summary.Succeeded++
			metrics.ObservePost(string(ch.Name()), "succeeded")
		}
		summary.Attempted++

		if id, idErr := s.ids.NewID(); idErr == nil {
			rec.ID = id
		}
		if s.history != nil {
			if histErr := s.history.RecordPost(ctx, rec); histErr != nil {
				s.log.Warn("record post history failed", zap.Error(histErr))
			}
		}
		summary.Records = append(summary.Records, rec)
	}

	if summary.Succeeded > 0 {
		if err := s.store.MarkPosted(ctx, o.ID, s.clock.Now()); err != nil {
			return summary, fmt.Errorf("mark posted: %w", err)
		}
		s.publish(ctx, TopicOfferPosted, summary)
	}
	return summary, nil
}

// PostPending posts every active unposted offer, oldest batch first.
func (s *OfferService) PostPending(ctx context.Context, limit int) ([]offer.PostSummary, error) {
	pending, err := s.store.List(ctx, offer.ListFilter{OnlyActive: true, Unposted: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list pending offers: %w", err)
	}

	var summaries []offer.PostSummary
	for _, o := range pending {
		summary, postErr := s.PostOffer(ctx, o.ID)
		if postErr != nil {
			if errors.Is(postErr, offer.ErrAlreadyPosted) {
				continue
			}
			return summaries, postErr
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *OfferService) renderMessage(ctx context.Context, o offer.Offer) (offer.Message, error) {
	link := o.AffiliateURL
	if link == "" {
		link = o.ProductURL
	}
	if s.links != nil {
		short, err := s.links.Shorten(ctx, link, o.ID)
		if err != nil {
			s.log.Warn("shorten link failed", zap.String("offer_id", o.ID), zap.Error(err))
		} else {
			link = s.links.PublicURL(short.Code)
		}
	}

	text, err := s.writer.Compose(ctx, o, link)
	if err != nil {
		return offer.Message{}, fmt.Errorf("compose copy: %w", err)
	}
	return offer.Message{
		OfferID:  o.ID,
		Text:     text,
		ImageURL: o.ImageURL,
		LinkURL:  link,
	}, nil
}

func (s *OfferService) pace(ctx context.Context) error {
	if s.pacer == nil {
		return nil
	}
	if err := s.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("channel pacing: %w", err)
	}
	return nil
}

func (s *OfferService) publish(ctx context.Context, topic string, payload any) {
	if s.pub == nil {
		return
	}
	if _, err := s.pub.Publish(ctx, topic, payload); err != nil {
		s.log.Warn("publish event failed", zap.String("topic", topic), zap.Error(err))
	}
}

// PublishCollected emits the batch event after a collect run.
func (s *OfferService) PublishCollected(ctx context.Context, jobID string, counters offer.SaveCounters) {
	s.publish(ctx, TopicOffersCollected, struct {
		JobID    string             `json:"job_id"`
		Counters offer.SaveCounters `json:"counters"`
		At       time.Time          `json:"at"`
	}{JobID: jobID, Counters: counters, At: s.clock.Now()})
}
