// Package shortlink issues and resolves short codes for affiliate URLs.
package shortlink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/voxelpromo/voxelpromo/internal/metrics"
	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// ErrMaxRetriesExceeded is returned when the maximum number of retries for
// generating a short code is exceeded.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating short code")

const (
	defaultCodeLength = 8
	maxRetries        = 5
)

// Config configures the short link service.
type Config struct {
	// BaseURL is the public prefix rendered into messages, e.g.
	// https://vxl.to.
	BaseURL    string
	CodeLength int
}

// Service issues nanoid short codes. Shortening is idempotent on the target
// URL: the same URL always maps to the same code via the hash index.
type Service struct {
	cfg   Config
	store offer.ShortLinkStore
	hash  offer.Hasher
	clock offer.Clock
	log   *zap.Logger
}

// New builds a Service.
func New(cfg Config, store offer.ShortLinkStore, hash offer.Hasher, clock offer.Clock, log *zap.Logger) *Service {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = defaultCodeLength
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{cfg: cfg, store: store, hash: hash, clock: clock, log: log}
}

// Shorten returns the short link for targetURL, creating one if needed.
func (s *Service) Shorten(ctx context.Context, targetURL, offerID string) (offer.ShortLink, error) {
	urlHash, err := s.hash.Hash([]byte(targetURL))
	if err != nil {
		return offer.ShortLink{}, fmt.Errorf("hash target url: %w", err)
	}

	existing, err := s.store.GetByHash(ctx, urlHash)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, offer.ErrNotFound):
		return offer.ShortLink{}, fmt.Errorf("lookup short link: %w", err)
	}

	length := s.cfg.CodeLength
	for i := 0; i < maxRetries; i++ {
		code, genErr := gonanoid.New(length)
		if genErr != nil {
			return offer.ShortLink{}, fmt.Errorf("generate short code: %w", genErr)
		}

		link := offer.ShortLink{
			Code:      code,
			TargetURL: targetURL,
			URLHash:   urlHash,
			OfferID:   offerID,
			CreatedAt: s.now(),
		}
		saveErr := s.store.Save(ctx, link)
		if saveErr == nil {
			s.log.Debug("short link created",
				zap.String("code", code),
				zap.String("offer_id", offerID))
			return link, nil
		}
		if errors.Is(saveErr, offer.ErrDuplicate) {
			// Collision, try again with a longer code.
			length++
			continue
		}
		return offer.ShortLink{}, fmt.Errorf("save short link: %w", saveErr)
	}
	return offer.ShortLink{}, ErrMaxRetriesExceeded
}

// Resolve returns the target URL for a code and counts the click.
func (s *Service) Resolve(ctx context.Context, code string) (string, error) {
	link, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("resolve short code: %w", err)
	}
	if err := s.store.IncrementClicks(ctx, code); err != nil {
		// A lost click must not break the redirect.
		s.log.Warn("increment clicks failed", zap.String("code", code), zap.Error(err))
	}
	metrics.ObserveRedirect()
	return link.TargetURL, nil
}

// Stats returns the stored link for a code without counting a click.
func (s *Service) Stats(ctx context.Context, code string) (offer.ShortLink, error) {
	link, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return offer.ShortLink{}, fmt.Errorf("short link stats: %w", err)
	}
	return link, nil
}

// PublicURL renders the public short URL for a code.
func (s *Service) PublicURL(code string) string {
	if s.cfg.BaseURL == "" {
		return "/r/" + code
	}
	return s.cfg.BaseURL + "/r/" + code
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}
