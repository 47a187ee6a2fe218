package memory

import (
	"context"
	"sync"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// ShortLinkStore is an in-memory offer.ShortLinkStore implementation.
type ShortLinkStore struct {
	mu     sync.RWMutex
	byCode map[string]offer.ShortLink
	byHash map[string]string
}

// NewShortLinkStore constructs a ShortLinkStore.
func NewShortLinkStore() *ShortLinkStore {
	return &ShortLinkStore{
		byCode: make(map[string]offer.ShortLink),
		byHash: make(map[string]string),
	}
}

// Save stores a short link, rejecting duplicate codes.
func (s *ShortLinkStore) Save(_ context.Context, link offer.ShortLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byCode[link.Code]; exists {
		return offer.ErrDuplicate
	}
	s.byCode[link.Code] = link
	if link.URLHash != "" {
		s.byHash[link.URLHash] = link.Code
	}
	return nil
}

// GetByCode fetches a short link by code.
func (s *ShortLinkStore) GetByCode(_ context.Context, code string) (offer.ShortLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.byCode[code]
	if !ok {
		return offer.ShortLink{}, offer.ErrNotFound
	}
	return link, nil
}

// GetByHash fetches a short link by target URL hash.
func (s *ShortLinkStore) GetByHash(_ context.Context, hash string) (offer.ShortLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.byHash[hash]
	if !ok {
		return offer.ShortLink{}, offer.ErrNotFound
	}
	return s.byCode[code], nil
}

// IncrementClicks bumps the click counter for a code.
func (s *ShortLinkStore) IncrementClicks(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.byCode[code]
	if !ok {
		return offer.ErrNotFound
	}
	link.Clicks++
	s.byCode[code] = link
	return nil
}

// TemplateStore is an in-memory offer.TemplateStore implementation.
type TemplateStore struct {
	mu   sync.RWMutex
	byID map[string]offer.MessageTemplate
}

// NewTemplateStore constructs a TemplateStore.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{byID: make(map[string]offer.MessageTemplate)}
}

// Save inserts or replaces a template. Marking one template default
// clears the flag on the others.
func (s *TemplateStore) Save(_ context.Context, tpl offer.MessageTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tpl.Default {
		for id, existing := range s.byID {
			if existing.Default {
				existing.Default = false
				s.byID[id] = existing
			}
		}
	}
	s.byID[tpl.ID] = tpl
	return nil
}

// GetByID fetches a template by ID.
func (s *TemplateStore) GetByID(_ context.Context, id string) (offer.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.byID[id]
	if !ok {
		return offer.MessageTemplate{}, offer.ErrNotFound
	}
	return tpl, nil
}

// GetDefault returns the template flagged as default.
func (s *TemplateStore) GetDefault(_ context.Context) (offer.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tpl := range s.byID {
		if tpl.Default {
			return tpl, nil
		}
	}
	return offer.MessageTemplate{}, offer.ErrNotFound
}

// List returns all stored templates.
func (s *TemplateStore) List(_ context.Context) ([]offer.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]offer.MessageTemplate, 0, len(s.byID))
	for _, tpl := range s.byID {
		out = append(out, tpl)
	}
	return out, nil
}

// Delete removes a template.
func (s *TemplateStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return offer.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

// HistoryStore is an in-memory offer.HistoryStore implementation.
type HistoryStore struct {
	mu      sync.RWMutex
	byOffer map[string][]offer.PostRecord
}

// NewHistoryStore constructs a HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{byOffer: make(map[string][]offer.PostRecord)}
}

// RecordPost appends one posting attempt.
func (s *HistoryStore) RecordPost(_ context.Context, rec offer.PostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOffer[rec.OfferID] = append(s.byOffer[rec.OfferID], rec)
	return nil
}

// ListByOffer returns all attempts for an offer.
func (s *HistoryStore) ListByOffer(_ context.Context, offerID string) ([]offer.PostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.byOffer[offerID]
	out := make([]offer.PostRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// SecurityLog is an in-memory offer.SecurityLog implementation.
type SecurityLog struct {
	mu     sync.RWMutex
	events []offer.SecurityEvent
}

// NewSecurityLog constructs a SecurityLog.
func NewSecurityLog() *SecurityLog {
	return &SecurityLog{}
}

// Record appends a security event.
func (s *SecurityLog) Record(_ context.Context, ev offer.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns the recorded events (for tests).
func (s *SecurityLog) Events() []offer.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]offer.SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}
