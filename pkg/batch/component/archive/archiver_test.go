package archive_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	storageAdapter "github.com/tigerroll/billcache/pkg/batch/adapter/storage"
	localstorage "github.com/tigerroll/billcache/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/billcache/pkg/batch/component/archive"
	"github.com/tigerroll/billcache/pkg/batch/core/cache"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/infrastructure/repository/inmemory"
	testutil "github.com/tigerroll/billcache/pkg/batch/test"
)

func newArchiver(t *testing.T, compression string) (*archive.Archiver, string) {
	t.Helper()
	baseDir := t.TempDir()
	cfg := config.NewConfig()
	cfg.BillCache.StorageConfigs["archive"] = map[string]interface{}{
		"type":        localstorage.ProviderType,
		"base_dir":    baseDir,
		"bucket_name": "snapshots",
	}
	resolver := storageAdapter.NewConnectionResolver(storageAdapter.ResolverParams{
		Providers: []storageAdapter.StorageProvider{localstorage.NewLocalProvider(cfg)},
		Cfg:       cfg,
	})
	a, err := archive.NewArchiver(resolver, config.ArchiveConfig{
		Enabled:     true,
		StorageRef:  "archive",
		Prefix:      "/billing/",
		Compression: compression,
	})
	require.NoError(t, err)
	return a, filepath.Join(baseDir, "snapshots")
}

func readRows[T any](t *testing.T, file string) []T {
	t.Helper()
	fr, err := local.NewLocalFileReader(file)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(T), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	rows := make([]T, pr.GetNumRows())
	require.NoError(t, pr.Read(&rows))
	return rows
}

func TestArchive_BalanceSnapshot(t *testing.T) {
	a, root := newArchiver(t, "GZIP")
	snap := testutil.NewTestSnapshot(testutil.NewTestBalancePayload("N02", "N01"), 7)

	name, err := a.Archive(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, "billing/nocs-balance-summary/dt=2026-03-14/nocs-balance-summary_g7_093000.parquet", name)

	rows := readRows[archive.BalanceRow](t, filepath.Join(root, filepath.FromSlash(name)))
	require.Len(t, rows, 2)
	assert.Equal(t, "N01", rows[0].NocsCode)
	assert.Equal(t, "200.00", rows[0].CreditBalanceAmt)
	assert.Equal(t, "80.00", rows[0].DueBalanceAmt)
	assert.Equal(t, "120.00", rows[0].NetBalance)
	assert.Equal(t, "60.00", rows[1].NetBalance)
	assert.EqualValues(t, 7, rows[0].Generation)
	assert.Equal(t, testutil.FixedNow.UnixMilli(), rows[0].RefreshedAt)
}

func TestArchive_AnalysisSnapshot(t *testing.T) {
	a, root := newArchiver(t, "")
	snap := testutil.NewTestSnapshot(testutil.NewTestAnalysisPayload("2026-01", "2026-02"), 3)

	name, err := a.Archive(context.Background(), snap)
	require.NoError(t, err)

	rows := readRows[archive.AnalysisRow](t, filepath.Join(root, filepath.FromSlash(name)))
	require.Len(t, rows, 2)
	assert.Equal(t, "2026-02", rows[1].AnalysisMonth)
	assert.EqualValues(t, 60, rows[1].TotalCustomers)
	assert.Equal(t, "2469.00", rows[1].StoppedOutstandingAmt)
}

func TestArchive_EmptySnapshotSkipped(t *testing.T) {
	a, _ := newArchiver(t, "NONE")
	name, err := a.Archive(context.Background(), testutil.NewTestSnapshot(testutil.NewTestBalancePayload(), 1))
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestNewArchiver_RejectsUnknownCompression(t *testing.T) {
	_, err := archive.NewArchiver(nil, config.ArchiveConfig{Compression: "BROTLI9"})
	assert.ErrorContains(t, err, "invalid compression")
}

func TestArchiver_ArchivesEveryPublish(t *testing.T) {
	a, root := newArchiver(t, "SNAPPY")
	store := cache.NewStore(inmemory.NewSummaryRepository(), metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer(),
		model.DatasetNocsBalanceSummary)
	store.SetClock(func() time.Time { return testutil.FixedNow })
	store.AddListener(a)

	for gen := uint64(1); gen <= 2; gen++ {
		_, err := store.Publish(context.Background(), model.DatasetNocsBalanceSummary, gen, testutil.NewTestBalancePayload("N01"), time.Second)
		require.NoError(t, err)
	}
	require.NoError(t, a.Wait())

	matches, err := filepath.Glob(filepath.Join(root, "billing", model.DatasetNocsBalanceSummary, "dt=2026-03-14", "*.parquet"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}
