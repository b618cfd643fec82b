package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taipei = time.FixedZone("CST", 8*60*60)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "app.db"), taipei)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestWatchlistRows(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	added, err := st.AddTicker(ctx, "U1", "2330")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = st.AddTicker(ctx, "U1", "2330")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = st.AddTicker(ctx, "U1", "0050")
	require.NoError(t, err)
	_, err = st.AddTicker(ctx, "U2", "2317")
	require.NoError(t, err)

	list, err := st.ListTickers(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"0050", "2330"}, list)

	removed, err := st.RemoveTicker(ctx, "U1", "2330")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = st.RemoveTicker(ctx, "U1", "2330")
	require.NoError(t, err)
	assert.False(t, removed)

	list, err = st.ListTickers(ctx, "U2")
	require.NoError(t, err)
	assert.Equal(t, []string{"2317"}, list)

	list, err = st.ListTickers(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWatchlistSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")

	st, err := Open(path, taipei)
	require.NoError(t, err)
	_, err = st.AddTicker(ctx, "global", "2330")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(path, taipei)
	require.NoError(t, err)
	defer st.Close()
	list, err := st.ListTickers(ctx, "global")
	require.NoError(t, err)
	assert.Equal(t, []string{"2330"}, list)
}

func TestNilStoreRejectsWatchlistWrites(t *testing.T) {
	var st *Store
	_, err := st.AddTicker(context.Background(), "U1", "2330")
	assert.Error(t, err)
	_, err = st.RemoveTicker(context.Background(), "U1", "2330")
	assert.Error(t, err)
	assert.NoError(t, st.InsertDelivery(context.Background(), DeliveryRecord{}))
	assert.NoError(t, st.Close())
}

func TestDeliveriesByDate(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	day := time.Date(2025, 1, 2, 9, 5, 0, 0, taipei)
	require.NoError(t, st.InsertDelivery(ctx, DeliveryRecord{ID: "a", TS: day.Unix(), Kind: "broadcast", Channel: "line", Target: "U1", Status: "sent", Payload: "hi"}))
	require.NoError(t, st.InsertDelivery(ctx, DeliveryRecord{ID: "b", TS: day.Add(time.Hour).Unix(), Kind: "broadcast", Channel: "line", Target: "U2", Status: "failed", Error: "boom"}))
	require.NoError(t, st.InsertDelivery(ctx, DeliveryRecord{ID: "c", TS: day.AddDate(0, 0, 1).Unix(), Status: "sent"}))

	items, err := st.QueryDeliveriesByDate(ctx, "2025-01-02", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, "a", items[1].ID)

	items, err = st.QueryDeliveriesByDate(ctx, "2025-01-02", "failed", 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "boom", items[0].Error)

	_, err = st.QueryDeliveriesByDate(ctx, "02/01/2025", "", 10, 0)
	assert.Error(t, err)
}

func TestClaimBroadcastRunOnce(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	ok, err := st.ClaimBroadcastRun(ctx, "2025-01-02", "09:05")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.ClaimBroadcastRun(ctx, "2025-01-02", "09:05")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.ClaimBroadcastRun(ctx, "2025-01-03", "09:05")
	require.NoError(t, err)
	assert.True(t, ok)

	runs, err := st.QueryBroadcastRuns(ctx, "2025-01-02")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "09:05", runs[0].Trigger)
}
