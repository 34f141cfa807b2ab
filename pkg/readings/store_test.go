package readings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "readings.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

	first, err := store.Record(ctx, Submission{
		AccountContract: "002100000001",
		MeterID:         "000000123456",
		Value:           4300,
		Accepted:        true,
		SubmittedAt:     base,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	_, err = store.Record(ctx, Submission{
		AccountContract: "002100000001",
		MeterID:         "000000123456",
		Value:           4321,
		Accepted:        false,
		Response:        "Reading window closed",
		SubmittedAt:     base.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	_, err = store.Record(ctx, Submission{AccountContract: "002100000002", MeterID: "1", Value: 1, Accepted: true})
	require.NoError(t, err)

	list, err := store.List(ctx, "002100000001", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, 4321, list[0].Value, "newest first")
	assert.False(t, list[0].Accepted)
	assert.Equal(t, "Reading window closed", list[0].Response)
	assert.Equal(t, 4300, list[1].Value)
	assert.True(t, list[1].SubmittedAt.Equal(base))
}

func TestStore_List_Limit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Record(ctx, Submission{AccountContract: "002100000001", MeterID: "m", Value: i, Accepted: true})
		require.NoError(t, err)
	}

	list, err := store.List(ctx, "002100000001", 3)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestStore_List_Empty(t *testing.T) {
	store := openTestStore(t)

	list, err := store.List(context.Background(), "002100000009", 10)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestStore_Last(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

	last, err := store.Last(ctx, "002100000001")
	require.NoError(t, err)
	assert.Nil(t, last)

	store.Record(ctx, Submission{AccountContract: "002100000001", MeterID: "m", Value: 10, Accepted: true, SubmittedAt: base})
	store.Record(ctx, Submission{AccountContract: "002100000001", MeterID: "m", Value: 20, Accepted: false, SubmittedAt: base.Add(time.Hour)})

	last, err = store.Last(ctx, "002100000001")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 10, last.Value, "rejected submissions are skipped")
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.db")

	store, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	_, err = store.Record(context.Background(), Submission{AccountContract: "002100000001", MeterID: "m", Value: 7, Accepted: true})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	list, err := reopened.List(context.Background(), "002100000001", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "readings.db"), zerolog.Nop())
	assert.Error(t, err)
}
