package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wbrx/wayback_go_server/internal/model"
	"github.com/wbrx/wayback_go_server/internal/testutil"
)

func TestCacheRepository_SetAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewCacheRepository(db)

	err := repo.Set(&model.CacheEntry{
		CacheKey:    "inspect:example.com:20200101000000",
		TargetURL:   "www.example.com",
		Kind:        model.CacheKindInspect,
		Snapshot:    "20200101000000",
		PayloadJSON: `{"site_type":"wordpress"}`,
	})
	require.NoError(t, err)

	entry, err := repo.Get("inspect:example.com:20200101000000", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", entry.TargetURL)
	assert.Equal(t, `{"site_type":"wordpress"}`, entry.PayloadJSON)
}

func TestCacheRepository_SetOverwrites(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewCacheRepository(db)

	require.NoError(t, repo.Set(&model.CacheEntry{
		CacheKey: "k1", TargetURL: "https://example.com",
		Kind: model.CacheKindAnalyze, PayloadJSON: `{"v":1}`,
	}))
	require.NoError(t, repo.Set(&model.CacheEntry{
		CacheKey: "k1", TargetURL: "https://example.com",
		Kind: model.CacheKindAnalyze, PayloadJSON: `{"v":2}`,
	}))

	var count int64
	db.Model(&model.CacheEntry{}).Count(&count)
	assert.Equal(t, int64(1), count)

	entry, err := repo.Get("k1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, entry.PayloadJSON)
}

func TestCacheRepository_GetExpired(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewCacheRepository(db)

	entry := testutil.TestCacheEntry(t, db, "https://example.com", model.CacheKindSitemap, "old-key", "{}")
	db.Model(entry).Update("created_at", time.Now().Add(-2*time.Hour))

	_, err := repo.Get("old-key", time.Hour)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCacheRepository_GetLatest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewCacheRepository(db)

	older := testutil.TestCacheEntry(t, db, "https://example.com", model.CacheKindAnalyze, "a1", `{"v":1}`)
	db.Model(older).Update("created_at", time.Now().Add(-10*time.Minute))
	testutil.TestCacheEntry(t, db, "https://example.com", model.CacheKindAnalyze, "a2", `{"v":2}`)

	entry, err := repo.GetLatest("example.com", model.CacheKindAnalyze, "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, entry.PayloadJSON)
}

func TestCacheRepository_PruneOlderThan(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewCacheRepository(db)

	stale := testutil.TestCacheEntry(t, db, "https://example.com", model.CacheKindCheck, "stale", "{}")
	db.Model(stale).Update("created_at", time.Now().Add(-15*24*time.Hour))
	testutil.TestCacheEntry(t, db, "https://example.com", model.CacheKindCheck, "fresh", "{}")

	removed, err := repo.PruneOlderThan(14 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var count int64
	db.Model(&model.CacheEntry{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCacheRepository_PruneOlderThanZeroRemovesAll(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewCacheRepository(db)

	entry := testutil.TestCacheEntry(t, db, "https://example.com", model.CacheKindAnalyze, "a", "{}")
	db.Model(entry).Update("created_at", time.Now().Add(-time.Second))
	other := testutil.TestCacheEntry(t, db, "https://example.com", model.CacheKindSitemap, "s", "{}")
	db.Model(other).Update("created_at", time.Now().Add(-time.Second))

	// 保留期为 0 时视为立即过期，所有缓存行都会被清掉；
	// 文件清单不在此表，不受影响
	removed, err := repo.PruneOlderThan(0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	var count int64
	db.Model(&model.CacheEntry{}).Count(&count)
	assert.Equal(t, int64(0), count)
}
