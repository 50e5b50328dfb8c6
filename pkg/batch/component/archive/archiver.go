// Package archive writes every published snapshot to object storage as a Parquet file,
// partitioned by dataset and refresh date.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/billcache/pkg/batch/adapter/storage"
	"github.com/tigerroll/billcache/pkg/batch/core/cache"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

const (
	module      = "archive"
	contentType = "application/vnd.apache.parquet"
)

// Archiver uploads snapshots as Parquet files. As a cache.PublishListener it archives in the
// background; Wait blocks until pending uploads are done.
type Archiver struct {
	resolver storage.StorageConnectionResolver
	cfg      config.ArchiveConfig
	codec    parquet.CompressionCodec

	mu      sync.Mutex
	pending *errgroup.Group
}

// NewArchiver creates an Archiver.
//
// Parameters:
//
//	resolver: Resolves cfg.StorageRef to a storage connection.
//	cfg: The archive settings.
//
// Returns:
//
//	A new Archiver, or an error when the compression codec is unknown.
func NewArchiver(resolver storage.StorageConnectionResolver, cfg config.ArchiveConfig) (*Archiver, error) {
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("invalid compression '%s'", cfg.Compression), err, false)
	}
	return &Archiver{resolver: resolver, cfg: cfg, codec: codec, pending: new(errgroup.Group)}, nil
}

// OnPublished implements cache.PublishListener. The upload outlives the publishing call.
func (a *Archiver) OnPublished(ctx context.Context, snap *model.Snapshot) {
	ctx = context.WithoutCancel(ctx)
	a.mu.Lock()
	g := a.pending
	a.mu.Unlock()
	g.Go(func() error {
		_, err := a.Archive(ctx, snap)
		if err != nil {
			logger.Errorf("Archive: snapshot %s generation %d was not archived: %v", snap.DatasetKey, snap.Generation, err)
		}
		return err
	})
}

// Wait blocks until every archive started so far has finished and returns the first error.
func (a *Archiver) Wait() error {
	a.mu.Lock()
	g := a.pending
	a.pending = new(errgroup.Group)
	a.mu.Unlock()
	return g.Wait()
}

// ObjectName returns the object an archived snapshot is written to:
// <prefix>/<dataset>/dt=YYYY-MM-DD/<dataset>_g<generation>_<HHMMSS>.parquet, in UTC.
func (a *Archiver) ObjectName(snap *model.Snapshot) string {
	at := snap.RefreshedAt.UTC()
	file := fmt.Sprintf("%s_g%d_%s.parquet", snap.DatasetKey, snap.Generation, at.Format("150405"))
	return path.Join(strings.Trim(a.cfg.Prefix, "/"), snap.DatasetKey, "dt="+at.Format("2006-01-02"), file)
}

// Archive writes snap and returns the object name. An empty snapshot is skipped and yields "".
func (a *Archiver) Archive(ctx context.Context, snap *model.Snapshot) (string, error) {
	prototype, rows, err := toRows(snap)
	if err != nil {
		return "", exception.NewBatchError(module, "failed to convert snapshot", err, false)
	}
	if len(rows) == 0 {
		logger.Debugf("Archive: snapshot %s generation %d is empty, nothing to archive.", snap.DatasetKey, snap.Generation)
		return "", nil
	}

	buf, err := a.encode(prototype, rows)
	if err != nil {
		return "", err
	}

	conn, err := a.resolver.ResolveStorageConnection(ctx, a.cfg.StorageRef)
	if err != nil {
		return "", exception.NewBatchError(module, fmt.Sprintf("failed to resolve storage connection '%s'", a.cfg.StorageRef), err, true)
	}
	bucket := a.cfg.Bucket
	if bucket == "" {
		bucket = conn.Config().BucketName
	}
	objectName := a.ObjectName(snap)
	size := buf.Len()
	if err := conn.Upload(ctx, bucket, objectName, buf, contentType); err != nil {
		return "", exception.NewBatchError(module, fmt.Sprintf("failed to upload '%s'", objectName), err, true)
	}
	logger.Infof("Archive: wrote %d record(s) of %s generation %d to %s/%s (%d bytes).",
		len(rows), snap.DatasetKey, snap.Generation, bucket, objectName, size)
	return objectName, nil
}

// encode writes rows into a single-row-group Parquet file in memory.
func (a *Archiver) encode(prototype interface{}, rows []interface{}) (buf *bytes.Buffer, err error) {
	buf = new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, prototype, int64(len(rows)))
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to create parquet writer", err, false)
	}
	pw.CompressionType = a.codec
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return nil, exception.NewBatchError(module, "failed to write parquet row", err, false)
		}
	}
	// WriteStop panics on some schema mismatches.
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, exception.NewBatchError(module, fmt.Sprintf("parquet writer panicked: %v", r), nil, false)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, exception.NewBatchError(module, "failed to finish parquet file", err, false)
	}
	return buf, nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	}
	return 0, fmt.Errorf("unsupported compression type: %s", name)
}

var _ cache.PublishListener = (*Archiver)(nil)
