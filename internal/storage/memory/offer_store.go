// Package memory provides mutex-guarded map stores for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// OfferStore is an in-memory offer.Store implementation.
type OfferStore struct {
	mu    sync.RWMutex
	byID  map[string]offer.Offer
	byURL map[string]string
}

// NewOfferStore constructs an OfferStore.
func NewOfferStore() *OfferStore {
	return &OfferStore{
		byID:  make(map[string]offer.Offer),
		byURL: make(map[string]string),
	}
}

// Insert stores a new offer, rejecting duplicate IDs and product URLs.
func (s *OfferStore) Insert(_ context.Context, o offer.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[o.ID]; exists {
		return offer.ErrDuplicate
	}
	if _, exists := s.byURL[o.ProductURL]; exists {
		return offer.ErrDuplicate
	}
	s.byID[o.ID] = o
	s.byURL[o.ProductURL] = o.ID
	return nil
}

// Update replaces a stored offer.
func (s *OfferStore) Update(_ context.Context, o offer.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.byID[o.ID]
	if !ok {
		return offer.ErrNotFound
	}
	if prev.ProductURL != o.ProductURL {
		delete(s.byURL, prev.ProductURL)
		s.byURL[o.ProductURL] = o.ID
	}
	s.byID[o.ID] = o
	return nil
}

// GetByID fetches an offer by ID.
func (s *OfferStore) GetByID(_ context.Context, id string) (offer.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return offer.Offer{}, offer.ErrNotFound
	}
	return o, nil
}

// GetByProductURL answers the dedup membership query.
func (s *OfferStore) GetByProductURL(_ context.Context, url string) (offer.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return offer.Offer{}, offer.ErrNotFound
	}
	return s.byID[id], nil
}

// List returns offers matching the filter, newest first.
func (s *OfferStore) List(_ context.Context, filter offer.ListFilter) ([]offer.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]offer.Offer, 0, len(s.byID))
	for _, o := range s.byID {
		if filter.Source != "" && o.Source != filter.Source {
			continue
		}
		if filter.OnlyActive && !o.Active {
			continue
		}
		if filter.Unposted && o.Posted {
			continue
		}
		out = append(out, o)
	}
	sortByCollectedDesc(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MarkPosted flips the posted flag exactly once.
func (s *OfferStore) MarkPosted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return offer.ErrNotFound
	}
	if o.Posted {
		return offer.ErrAlreadyPosted
	}
	o.Posted = true
	o.PostedAt = &at
	o.UpdatedAt = at
	s.byID[id] = o
	return nil
}

// SetActive toggles the active flag.
func (s *OfferStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return offer.ErrNotFound
	}
	o.Active = active
	s.byID[id] = o
	return nil
}

// Delete removes an offer and its URL index entry.
func (s *OfferStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return offer.ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byURL, o.ProductURL)
	return nil
}

func sortByCollectedDesc(offers []offer.Offer) {
	sort.Slice(offers, func(i, j int) bool {
		return offers[i].CollectedAt.After(offers[j].CollectedAt)
	})
}
