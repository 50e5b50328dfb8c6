// Package logging logs every snapshot the cache store publishes.
package logging

import (
	"context"

	"github.com/tigerroll/billcache/pkg/batch/core/cache"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// PublishLogger writes one structured line per published snapshot.
type PublishLogger struct{}

// NewPublishLogger creates a PublishLogger.
func NewPublishLogger() *PublishLogger {
	return &PublishLogger{}
}

// OnPublished implements cache.PublishListener.
func (l *PublishLogger) OnPublished(ctx context.Context, snap *model.Snapshot) {
	if snap == nil || logger.GetLogLevel() > logger.LevelInfo {
		return
	}
	fields := map[string]interface{}{
		"dataset":     snap.DatasetKey,
		"generation":  snap.Generation,
		"refreshed":   snap.RefreshedAt,
		"duration_ms": snap.RefreshDuration.Milliseconds(),
	}
	if snap.Payload != nil {
		fields["records"] = len(snap.Payload.Records)
		fields["query_ms"] = snap.Payload.QueryDuration.Milliseconds()
		fields["processing_ms"] = snap.Payload.ProcessingDuration.Milliseconds()
	}
	entry := logger.With(fields)
	entry.Info().Msg("snapshot published")
}

var _ cache.PublishListener = (*PublishLogger)(nil)
