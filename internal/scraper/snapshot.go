package scraper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	systemclock "github.com/voxelpromo/voxelpromo/internal/clock/system"
	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// SnapshotWriter persists raw page HTML to a blob store for audit and
// re-parsing. Snapshot failures are logged, never propagated: losing a
// snapshot must not fail a scrape.
type SnapshotWriter struct {
	store offer.BlobStore
	clock offer.Clock
	log   *zap.Logger
}

// NewSnapshotWriter builds a SnapshotWriter. A nil store disables snapshots.
func NewSnapshotWriter(store offer.BlobStore, clock offer.Clock, log *zap.Logger) *SnapshotWriter {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = systemclock.New()
	}
	return &SnapshotWriter{store: store, clock: clock, log: log}
}

// Write stores one page snapshot and returns its URI, or "" when disabled
// or failed.
func (w *SnapshotWriter) Write(ctx context.Context, source offer.Source, jobID string, body []byte) string {
	if w == nil || w.store == nil || len(body) == 0 {
		return ""
	}
	now := w.clock.Now().UTC()
	name := jobID
	if name == "" {
		name = fmt.Sprintf("%d", now.UnixNano())
	}
	path := fmt.Sprintf("snapshots/%s/%s/%s.html", source, now.Format("2006-01-02"), name)

	uri, err := w.store.PutObject(ctx, path, "text/html; charset=utf-8", body)
	if err != nil {
		w.log.Warn("snapshot write failed",
			zap.String("source", string(source)),
			zap.String("path", path),
			zap.Error(err))
		return ""
	}
	return uri
}
