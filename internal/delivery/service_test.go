package delivery

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"line-stock-bot/internal/logging"
	"line-stock-bot/internal/store"
)

type fakeChannel struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Push(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+":"+text)
	return nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "d.db"), time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSendRecordsAndDedups(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	svc := NewService(st, Config{DedupWindow: time.Minute}, logging.NewSilent())
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ch := &fakeChannel{}

	first := svc.Send(ctx, ch, "U1", "hello", KindBroadcast)
	require.NoError(t, first.Error)
	assert.Equal(t, StatusSent, first.Status)
	assert.NotEmpty(t, first.ID)

	second := svc.Send(ctx, ch, "U1", "hello", KindBroadcast)
	assert.Equal(t, StatusSuppressed, second.Status)

	other := svc.Send(ctx, ch, "U2", "hello", KindBroadcast)
	assert.Equal(t, StatusSent, other.Status)

	now = now.Add(2 * time.Minute)
	third := svc.Send(ctx, ch, "U1", "hello", KindBroadcast)
	assert.Equal(t, StatusSent, third.Status)

	assert.Equal(t, []string{"U1:hello", "U2:hello", "U1:hello"}, ch.sent)

	recs, err := st.QueryDeliveriesByDate(ctx, "2025-03-14", "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 4)

	suppressed, err := st.QueryDeliveriesByDate(ctx, "2025-03-14", string(StatusSuppressed), 0, 0)
	require.NoError(t, err)
	require.Len(t, suppressed, 1)
	assert.Equal(t, second.ID, suppressed[0].ID)
	assert.Equal(t, "fake", suppressed[0].Channel)
	assert.Equal(t, KindBroadcast, suppressed[0].Kind)
}

func TestFailedSendIsNotDeduped(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	svc := NewService(st, Config{DedupWindow: time.Minute}, logging.NewSilent())
	ch := &fakeChannel{err: errors.New("boom")}

	res := svc.Send(ctx, ch, "U1", "x", KindReply)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorContains(t, res.Error, "boom")

	ch.err = nil
	res = svc.Send(ctx, ch, "U1", "x", KindReply)
	assert.Equal(t, StatusSent, res.Status)
}

type slowChannel struct {
	fakeChannel
	gate chan struct{}
}

func (c *slowChannel) Push(ctx context.Context, to, text string) error {
	<-c.gate
	return c.fakeChannel.Push(ctx, to, text)
}

func TestConcurrentIdenticalSendsPushOnce(t *testing.T) {
	svc := NewService(nil, Config{DedupWindow: time.Minute}, logging.NewSilent())
	ch := &slowChannel{gate: make(chan struct{})}

	const n = 20
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Send(context.Background(), ch, "U1", "same", KindBroadcast)
		}(i)
	}
	close(ch.gate)
	wg.Wait()

	sent := 0
	for _, r := range results {
		if r.Status == StatusSent {
			sent++
		} else {
			assert.Equal(t, StatusSuppressed, r.Status)
		}
	}
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"U1:same"}, ch.sent)
}

func TestFailedSendReleasesReservation(t *testing.T) {
	svc := NewService(nil, Config{DedupWindow: time.Minute}, logging.NewSilent())
	ch := &fakeChannel{err: errors.New("boom")}

	assert.Equal(t, StatusFailed, svc.Send(context.Background(), ch, "U1", "x", KindReply).Status)
	svc.dedupMu.Lock()
	assert.Empty(t, svc.dedup)
	svc.dedupMu.Unlock()
}

func TestRateLimitHonoursContext(t *testing.T) {
	svc := NewService(nil, Config{RateLimit: RateLimitConfig{PerMinute: 1, Burst: 1}}, logging.NewSilent())
	ch := &fakeChannel{}

	assert.Equal(t, StatusSent, svc.Send(context.Background(), ch, "U1", "a", KindBroadcast).Status)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := svc.Send(ctx, ch, "U1", "b", KindBroadcast)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorContains(t, res.Error, "rate limit")
	assert.Len(t, ch.sent, 1)
}
