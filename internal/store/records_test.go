package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probuild/fieldsync/internal/models"
)

func TestRecordsEmptyCorpus(t *testing.T) {
	records := NewRecords(NewMemoryKV())

	all, err := records.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, all)

	_, found, err := records.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordsPutAndGet(t *testing.T) {
	records := NewRecords(NewMemoryKV())

	rec := &models.WorkRecord{ID: "r1", ClientName: "Acme", Status: models.StatusCreated}
	require.NoError(t, records.Put(rec))

	got, found, err := records.Get("r1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Acme", got.ClientName)

	// Put with the same id replaces, not appends.
	rec.Status = models.StatusCompleted
	require.NoError(t, records.Put(rec))

	all, err := records.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.StatusCompleted, all[0].Status)
}

func TestRecordsReplaceByPrimaryKey(t *testing.T) {
	records := NewRecords(NewMemoryKV())

	require.NoError(t, records.Put(&models.WorkRecord{ID: "old", ClientName: "Acme", CreatedAt: 100}))

	renamed := &models.WorkRecord{ID: "new", ClientName: "Acme", CreatedAt: 100}
	require.NoError(t, records.Replace("old", renamed))

	all, err := records.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].ID)
}

func TestRecordsReplaceFallbackMatch(t *testing.T) {
	records := NewRecords(NewMemoryKV())

	require.NoError(t, records.Put(&models.WorkRecord{
		ID: "gone", ClientName: "Acme", ServiceType: "boiler", CreatedAt: 100,
	}))
	require.NoError(t, records.Put(&models.WorkRecord{
		ID: "other", ClientName: "Globex", ServiceType: "roof", CreatedAt: 200,
	}))

	// Primary key misses; the (client, created_at, service) triple matches.
	renamed := &models.WorkRecord{
		ID: "fresh", ClientName: "Acme", ServiceType: "boiler", CreatedAt: 100,
	}
	require.NoError(t, records.Replace("no-such-id", renamed))

	all, err := records.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2, "fallback match must update in place, not duplicate")

	_, found, err := records.Get("fresh")
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = records.Get("gone")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordsDelete(t *testing.T) {
	records := NewRecords(NewMemoryKV())

	require.NoError(t, records.Put(&models.WorkRecord{ID: "r1"}))
	require.NoError(t, records.Put(&models.WorkRecord{ID: "r2"}))
	require.NoError(t, records.Delete("r1"))

	all, err := records.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "r2", all[0].ID)
}
