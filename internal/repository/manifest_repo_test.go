package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrx/wayback_go_server/internal/model"
	"github.com/wbrx/wayback_go_server/internal/testutil"
)

func TestManifestRepository_Upsert(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewManifestRepository(db)

	err := repo.Upsert(&model.ManifestEntry{
		TargetURL: "www.example.com",
		Snapshot:  "20200101000000",
		URL:       "http://www.example.com/style.css",
		Status:    model.ManifestStatusMissing,
	})
	require.NoError(t, err)

	// 同键再次写入应更新而非新建
	err = repo.Upsert(&model.ManifestEntry{
		TargetURL:     "https://example.com",
		Snapshot:      "20200101000000",
		URL:           "http://www.example.com/style.css",
		Status:        model.ManifestStatusDownloaded,
		LocalPath:     "assets/style.css",
		UsedTimestamp: "20191230120000",
	})
	require.NoError(t, err)

	entries, err := repo.List("example.com", "20200101000000")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ManifestStatusDownloaded, entries[0].Status)
	assert.Equal(t, "assets/style.css", entries[0].LocalPath)
	assert.Equal(t, "20191230120000", entries[0].UsedTimestamp)
}

func TestManifestRepository_ListByStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewManifestRepository(db)

	testutil.TestManifestEntry(t, db, "https://example.com", "20200101000000",
		"http://www.example.com/a.css", model.ManifestStatusDownloaded)
	testutil.TestManifestEntry(t, db, "https://example.com", "20200101000000",
		"http://www.example.com/b.js", model.ManifestStatusMissing)
	testutil.TestManifestEntry(t, db, "https://example.com", "20200101000000",
		"http://www.example.com/c.png", model.ManifestStatusMissing)

	missing, err := repo.ListByStatus("example.com", "20200101000000", model.ManifestStatusMissing)
	require.NoError(t, err)
	assert.Len(t, missing, 2)
}

func TestManifestRepository_UpdateStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewManifestRepository(db)

	entry := testutil.TestManifestEntry(t, db, "https://example.com", "20200101000000",
		"http://www.example.com/a.css", model.ManifestStatusMissing)

	require.NoError(t, repo.UpdateStatus(entry.ID, model.ManifestStatusDownloaded))

	entries, err := repo.List("example.com", "20200101000000")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ManifestStatusDownloaded, entries[0].Status)
	assert.NotNil(t, entries[0].LastCheckedAt)
}

func TestManifestRepository_CountByStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewManifestRepository(db)

	testutil.TestManifestEntry(t, db, "https://example.com", "20200101000000",
		"http://www.example.com/a.css", model.ManifestStatusDownloaded)
	testutil.TestManifestEntry(t, db, "https://example.com", "20200101000000",
		"http://www.example.com/b.js", model.ManifestStatusDownloaded)
	testutil.TestManifestEntry(t, db, "https://example.com", "20200101000000",
		"http://www.example.com/c.png", model.ManifestStatusFailed)

	counts, err := repo.CountByStatus("example.com", "20200101000000")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.ManifestStatusDownloaded])
	assert.Equal(t, int64(1), counts[model.ManifestStatusFailed])
}
