package offer

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("already exists")
	ErrAlreadyPosted = errors.New("offer already posted")
)

// Store persists offers and answers the dedup membership queries.
type Store interface {
	Insert(ctx context.Context, o Offer) error
	Update(ctx context.Context, o Offer) error
	GetByID(ctx context.Context, id string) (Offer, error)
	GetByProductURL(ctx context.Context, url string) (Offer, error)
	List(ctx context.Context, filter ListFilter) ([]Offer, error)
	MarkPosted(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// ListFilter narrows Store.List results.
type ListFilter struct {
	Source     Source
	OnlyActive bool
	Unposted   bool
	Limit      int
}

// ShortLinkStore persists short links.
type ShortLinkStore interface {
	Save(ctx context.Context, link ShortLink) error
	GetByCode(ctx context.Context, code string) (ShortLink, error)
	GetByHash(ctx context.Context, hash string) (ShortLink, error)
	IncrementClicks(ctx context.Context, code string) error
}

// TemplateStore persists message templates.
type TemplateStore interface {
	Save(ctx context.Context, tpl MessageTemplate) error
	GetByID(ctx context.Context, id string) (MessageTemplate, error)
	GetDefault(ctx context.Context) (MessageTemplate, error)
	List(ctx context.Context) ([]MessageTemplate, error)
	Delete(ctx context.Context, id string) error
}

// HistoryStore persists per-channel posting attempts.
type HistoryStore interface {
	RecordPost(ctx context.Context, rec PostRecord) error
	ListByOffer(ctx context.Context, offerID string) ([]PostRecord, error)
}

// SecurityLog persists security events.
type SecurityLog interface {
	Record(ctx context.Context, ev SecurityEvent) error
}

// JobStore persists collect job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job CollectJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	GetJob(ctx context.Context, jobID string) (CollectJob, error)
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes pipeline events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for collect jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Scraper collects offers from one marketplace.
type Scraper interface {
	Source() Source
	Scrape(ctx context.Context, req ScrapeRequest) (ScrapeResult, error)
}

// Channel publishes a rendered message to one external platform.
type Channel interface {
	Name() ChannelName
	Post(ctx context.Context, msg Message) (externalID string, err error)
}

// Copywriter produces promotional copy for an offer.
type Copywriter interface {
	Compose(ctx context.Context, o Offer, link string) (string, error)
}

// RetryPolicy decides retry behavior for transient failures.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for dedup/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}
