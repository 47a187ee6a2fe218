// Package offer defines core types shared across subsystems.
package offer

import (
	"time"
)

// Source identifies the marketplace an offer was collected from.
type Source string

// Supported marketplace sources.
const (
	SourceAmazon       Source = "amazon"
	SourceAliExpress   Source = "aliexpress"
	SourceMercadoLivre Source = "mercadolivre"
	SourceShopee       Source = "shopee"
)

// KnownSources lists every marketplace the collector understands.
func KnownSources() []Source {
	return []Source{SourceAmazon, SourceAliExpress, SourceMercadoLivre, SourceShopee}
}

// Offer is a scraped marketplace product record with pricing metadata.
type Offer struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Source        Source     `json:"source"`
	ProductURL    string     `json:"product_url"`
	AffiliateURL  string     `json:"affiliate_url"`
	ImageURL      string     `json:"image_url,omitempty"`
	Category      string     `json:"category,omitempty"`
	CurrentPrice  float64    `json:"current_price"`
	OriginalPrice float64    `json:"original_price"`
	DiscountPct   float64    `json:"discount_pct"`
	Currency      string     `json:"currency,omitempty"`
	Active        bool       `json:"active"`
	Posted        bool       `json:"posted"`
	PostedAt      *time.Time `json:"posted_at,omitempty"`
	CollectedAt   time.Time  `json:"collected_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ChannelName identifies a publishing channel.
type ChannelName string

// Supported publishing channels.
const (
	ChannelTelegram  ChannelName = "telegram"
	ChannelWhatsApp  ChannelName = "whatsapp"
	ChannelInstagram ChannelName = "instagram"
	ChannelX         ChannelName = "x"
)

// Message is the rendered content handed to a channel.
type Message struct {
	OfferID  string
	Text     string
	ImageURL string
	LinkURL  string
}

// PostRecord is persisted for every per-channel posting attempt.
type PostRecord struct {
	ID         string      `json:"id"`
	OfferID    string      `json:"offer_id"`
	Channel    ChannelName `json:"channel"`
	Succeeded  bool        `json:"succeeded"`
	ErrorText  string      `json:"error_text,omitempty"`
	ExternalID string      `json:"external_id,omitempty"`
	PostedAt   time.Time   `json:"posted_at"`
}

// PostSummary reports the outcome of one PostOffer fan-out.
type PostSummary struct {
	OfferID   string       `json:"offer_id"`
	Attempted int          `json:"attempted"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Records   []PostRecord `json:"records"`
}

// SaveCounters tracks what SaveOffers did to a scraped batch.
type SaveCounters struct {
	Inserted    int `json:"inserted"`
	Reactivated int `json:"reactivated"`
	Refreshed   int `json:"refreshed"`
	Skipped     int `json:"skipped"`
}

// ShortLink maps a nanoid code to a destination affiliate URL.
type ShortLink struct {
	Code      string    `json:"code"`
	TargetURL string    `json:"target_url"`
	URLHash   string    `json:"url_hash"`
	OfferID   string    `json:"offer_id,omitempty"`
	Clicks    int64     `json:"clicks"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageTemplate is a stored promotional-copy template with placeholders.
type MessageTemplate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	Default   bool      `json:"default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SecurityEvent records auth failures and rate-limit violations.
type SecurityEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	ClientIP   string    `json:"client_ip"`
	Path       string    `json:"path"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// JobStatus represents the lifecycle state of a collect job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobParameters captures what a collect job should scrape.
type JobParameters struct {
	Sources   []Source `json:"sources"`
	Query     string   `json:"query"`
	Category  string   `json:"category,omitempty"`
	MaxOffers int      `json:"max_offers"`
	MinPct    float64  `json:"min_discount_pct,omitempty"`
	AutoPost  bool     `json:"auto_post"`
}

// CollectJob is the metadata persisted for each submitted collection run.
type CollectJob struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-job collection stats.
type JobCounters struct {
	OffersScraped int `json:"offers_scraped"`
	OffersSaved   int `json:"offers_saved"`
	SourcesFailed int `json:"sources_failed"`
	Retries       int `json:"retries"`
}

// QueueItem wraps a collect job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}

// ScrapeRequest captures a single-source scrape invocation.
type ScrapeRequest struct {
	JobID    string
	Query    string
	Category string
	Limit    int
}

// ScrapeResult is returned by a Scraper implementation.
type ScrapeResult struct {
	Source   Source
	Offers   []Offer
	PageURL  string
	RawHTML  []byte
	Duration time.Duration
}
