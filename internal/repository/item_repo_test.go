package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/testutil"
)

func TestItemRepository_ListByJob(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewItemRepository(db)
	project := testutil.TestProject(t, db, "user-1")
	keys := testutil.TestKeys(t, db, project.ID, "home.title", "home.subtitle", "footer.copyright")
	job := testutil.TestJob(t, db, project.ID, model.JobStatusRunning)

	testutil.TestItem(t, db, job.ID, keys[0].ID, model.ItemStatusCompleted)
	testutil.TestItem(t, db, job.ID, keys[1].ID, model.ItemStatusFailed)
	testutil.TestItem(t, db, job.ID, keys[2].ID, model.ItemStatusPending)

	t.Run("all with key names", func(t *testing.T) {
		items, total, err := repo.ListByJob(job.ID, "", 0, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, items, 3)
		assert.Equal(t, "home.title", items[0].KeyName)
		assert.Equal(t, "footer.copyright", items[2].KeyName)
	})

	t.Run("failed only", func(t *testing.T) {
		items, total, err := repo.ListByJob(job.ID, model.ItemStatusFailed, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, items, 1)
		assert.Equal(t, "home.subtitle", items[0].KeyName)
		assert.Equal(t, "LLM_ERROR", items[0].ErrorCode)
	})

	t.Run("paging", func(t *testing.T) {
		items, total, err := repo.ListByJob(job.ID, "", 2, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, items, 1)
	})
}

func TestItemRepository_CreateBatchAndCount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewItemRepository(db)
	project := testutil.TestProject(t, db, "user-1")
	keys := testutil.TestKeys(t, db, project.ID, "a", "b")
	job := testutil.TestJob(t, db, project.ID, model.JobStatusPending)

	items := []*model.TranslationJobItem{
		{JobID: job.ID, KeyID: keys[0].ID, Status: model.ItemStatusPending},
		{JobID: job.ID, KeyID: keys[1].ID, Status: model.ItemStatusPending},
	}
	require.NoError(t, repo.CreateBatch(items))
	require.NoError(t, repo.CreateBatch(nil))
	assert.NotZero(t, items[0].ID)

	require.NoError(t, repo.UpdateStatus(items[1].ID, model.ItemStatusSkipped, "", ""))

	counts, err := repo.CountByStatus(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.ItemStatusPending])
	assert.Equal(t, 1, counts[model.ItemStatusSkipped])
}

func TestProjectRepository(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewProjectRepository(db)
	project := testutil.TestProject(t, db, "user-1", testutil.WithDefaultLocale("de"))
	keys := testutil.TestKeys(t, db, project.ID, "b.key", "a.key")
	other := testutil.TestProject(t, db, "user-2")
	otherKeys := testutil.TestKeys(t, db, other.ID, "x")

	found, err := repo.GetByID(project.ID)
	require.NoError(t, err)
	assert.Equal(t, "de", found.DefaultLocale)

	ids, err := repo.KeyIDs(project.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{keys[1].ID, keys[0].ID}, ids)

	count, err := repo.CountKeys(project.ID, []string{keys[0].ID, otherKeys[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
