package scraper

import (
	"go.uber.org/zap"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// Deps carries the shared machinery every marketplace scraper uses.
type Deps struct {
	Fetcher   *Fetcher
	Limiter   *Limiter
	Retry     offer.RetryPolicy
	Snapshots *SnapshotWriter
	Logger    *zap.Logger
}

// Log returns the configured logger or a nop logger.
func (d Deps) Log() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
