package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vulnscan/scanengine/pkg/model"
	"github.com/vulnscan/scanengine/pkg/testutil"
)

func TestMemStoreCreateGetRoundTrip(t *testing.T) {
	store := NewMemStore()
	scan := Scan{ID: "scan-1", URL: "http://t/", Status: "pending"}
	require.NoError(t, store.Create(context.Background(), scan))

	got, err := store.Get(context.Background(), "scan-1")
	require.NoError(t, err)
	require.Equal(t, "pending", got.Status)
}

func TestMemStoreGetMissingReturnsErrNotFound(t *testing.T) {
	store := NewMemStore()
	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreUpdateDoesNotMutateEarlierSnapshot(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.Create(context.Background(), Scan{ID: "scan-2", Status: "pending"}))
	first, _ := store.Get(context.Background(), "scan-2")

	require.NoError(t, store.Update(context.Background(), Scan{ID: "scan-2", Status: "completed"}))
	require.Equal(t, "pending", first.Status)

	second, _ := store.Get(context.Background(), "scan-2")
	require.Equal(t, "completed", second.Status)
}

func TestMemStoreListOrdersByCreatedAt(t *testing.T) {
	store := NewMemStore()
	later := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(context.Background(), Scan{ID: "a", CreatedAt: later}))
	require.NoError(t, store.Create(context.Background(), Scan{ID: "b", CreatedAt: earlier}))

	all, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, model.ScanId("b"), all[0].ID)
}

func TestMemStoreCreateIsSafeForConcurrentCallers(t *testing.T) {
	store := NewMemStore()
	const n = 50
	testutil.RunConcurrently(n, func(i int) {
		id := model.ScanId(string(rune('a' + i%26)))
		_ = store.Create(context.Background(), Scan{ID: id, Status: "pending"})
	})

	all, err := store.List(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, all)
}
