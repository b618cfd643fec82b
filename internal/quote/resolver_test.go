package quote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"line-stock-bot/internal/logging"
	"line-stock-bot/internal/market"
)

var taipei = time.FixedZone("CST", 8*60*60)

// fakeProvider answers per (ticker, date) and records which dates were asked.
type fakeProvider struct {
	mu      sync.Mutex
	records map[string]map[string]market.Record
	errs    map[string]error
	names   map[string]string
	nameErr error
	asked   []string
	delay   time.Duration
	active  int32
	peak    int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		records: map[string]map[string]market.Record{},
		errs:    map[string]error{},
		names:   map[string]string{},
	}
}

func (f *fakeProvider) add(ticker, date string, open, closePx float64) {
	if f.records[ticker] == nil {
		f.records[ticker] = map[string]market.Record{}
	}
	f.records[ticker][date] = market.Record{
		Date:    date,
		StockID: ticker,
		Open:    decimal.NewFromFloat(open),
		Close:   decimal.NewFromFloat(closePx),
		High:    decimal.NewFromFloat(closePx),
		Low:     decimal.NewFromFloat(open),
	}
}

func (f *fakeProvider) DailyRecords(ctx context.Context, ticker string, day time.Time) ([]market.Record, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d := day.Format(market.DateLayout)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, ticker+"@"+d)
	if err := f.errs[ticker]; err != nil {
		return nil, err
	}
	if rec, ok := f.records[ticker][d]; ok {
		return []market.Record{rec}, nil
	}
	return nil, nil
}

func (f *fakeProvider) StockName(_ context.Context, ticker string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nameErr != nil {
		return "", f.nameErr
	}
	return f.names[ticker], nil
}

func newTestResolver(p market.Provider, now time.Time) *Resolver {
	r := NewResolver(p, Config{Location: taipei, LookbackDays: 5, RequestTimeout: time.Second, MaxConcurrency: 2}, logging.NewSilent())
	r.now = func() time.Time { return now }
	return r
}

// Thursday 2025-01-02 10:00 Taipei
var thursday = time.Date(2025, 1, 2, 10, 0, 0, 0, taipei)

func TestNewQuoteChange(t *testing.T) {
	q := NewQuote("2330", thursday, decimal.NewFromInt(100), decimal.NewFromInt(105), decimal.Zero, decimal.Zero)
	assert.Equal(t, "5.00", q.ChangeAbs.StringFixed(2))
	assert.Equal(t, "5.00", q.ChangePct.StringFixed(2))
	assert.Equal(t, Up, q.Direction)

	q = NewQuote("2330", thursday, decimal.NewFromInt(100), decimal.NewFromFloat(97.5), decimal.Zero, decimal.Zero)
	assert.Equal(t, "-2.50", q.ChangeAbs.StringFixed(2))
	assert.Equal(t, "-2.50", q.ChangePct.StringFixed(2))
	assert.Equal(t, Down, q.Direction)

	q = NewQuote("2330", thursday, decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.Zero, decimal.Zero)
	assert.Equal(t, Flat, q.Direction)
	assert.True(t, q.ChangePct.IsZero())
}

func TestNewQuoteZeroOpen(t *testing.T) {
	q := NewQuote("2330", thursday, decimal.Zero, decimal.NewFromInt(12), decimal.Zero, decimal.Zero)
	assert.True(t, q.ChangePct.IsZero())
	assert.Equal(t, "12.00", q.ChangeAbs.StringFixed(2))
	assert.Equal(t, Up, q.Direction)

	q = NewQuote("2330", thursday, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)
	assert.True(t, q.ChangePct.IsZero())
	assert.Equal(t, Flat, q.Direction)
}

func TestValidTicker(t *testing.T) {
	for _, ok := range []string{"2330", "0050", "00878", "00632R", "123456"} {
		assert.True(t, ValidTicker(ok), ok)
	}
	for _, bad := range []string{"", "23", "abcd", "2330.TW", "1234567", "00632r", "23 30"} {
		assert.False(t, ValidTicker(bad), bad)
	}
	assert.Equal(t, "2330", Normalize("  2330\t"))
}

func TestCandidateDates(t *testing.T) {
	// 2025-01-01 17:00 UTC is already 2025-01-02 in Taipei.
	now := time.Date(2025, 1, 1, 17, 0, 0, 0, time.UTC)
	dates := CandidateDates(now, taipei, 3)
	require.Len(t, dates, 3)
	assert.Equal(t, "2025-01-02", dates[0].Format(market.DateLayout))
	assert.Equal(t, "2025-01-01", dates[1].Format(market.DateLayout))
	assert.Equal(t, "2024-12-31", dates[2].Format(market.DateLayout))
}

func TestResolveToday(t *testing.T) {
	p := newFakeProvider()
	p.add("2330", "2025-01-02", 100, 105)
	p.names["2330"] = "台積電"

	q, err := newTestResolver(p, thursday).Resolve(context.Background(), " 2330 ")
	require.NoError(t, err)
	assert.Equal(t, "2330", q.Ticker)
	assert.Equal(t, "台積電", q.Name)
	assert.Equal(t, "2025-01-02", q.TradingDate.Format(market.DateLayout))
	assert.Equal(t, "105.00", q.Close.StringFixed(2))
	assert.Equal(t, []string{"2330@2025-01-02"}, p.asked)
}

func TestResolveWalksBackToThirdPriorDay(t *testing.T) {
	p := newFakeProvider()
	// Monday 2025-01-06; nothing for D, D-1, D-2; record on D-3 (Friday).
	monday := time.Date(2025, 1, 6, 9, 30, 0, 0, taipei)
	p.add("2330", "2025-01-03", 1070, 1075)

	q, err := newTestResolver(p, monday).Resolve(context.Background(), "2330")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-03", q.TradingDate.Format(market.DateLayout))
	assert.Equal(t, []string{
		"2330@2025-01-06",
		"2330@2025-01-05",
		"2330@2025-01-04",
		"2330@2025-01-03",
	}, p.asked)
}

func TestResolveNotFoundAfterWindow(t *testing.T) {
	p := newFakeProvider()
	p.add("2330", "2024-12-20", 1, 1) // outside the 5 day window

	_, err := newTestResolver(p, thursday).Resolve(context.Background(), "2330")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrProvider))
	assert.Len(t, p.asked, 5)
}

func TestResolveProviderErrorOnEveryAttempt(t *testing.T) {
	p := newFakeProvider()
	p.errs["2330"] = errors.New("connection refused")

	_, err := newTestResolver(p, thursday).Resolve(context.Background(), "2330")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestResolveInvalidTickerNeverCallsProvider(t *testing.T) {
	p := newFakeProvider()
	_, err := newTestResolver(p, thursday).Resolve(context.Background(), "TSMC")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTicker))
	assert.Empty(t, p.asked)
}

func TestResolveTimeoutIsProviderError(t *testing.T) {
	p := newFakeProvider()
	p.delay = 200 * time.Millisecond
	r := newTestResolver(p, thursday)
	r.cfg.RequestTimeout = 10 * time.Millisecond
	r.cfg.LookbackDays = 3

	_, err := r.Resolve(context.Background(), "2330")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))
}

func TestNameLookupFailureDegrades(t *testing.T) {
	p := newFakeProvider()
	p.add("2330", "2025-01-02", 100, 101)
	p.nameErr = errors.New("info dataset down")

	q, err := newTestResolver(p, thursday).Resolve(context.Background(), "2330")
	require.NoError(t, err)
	assert.Empty(t, q.Name)
}

func TestStaticNamesWin(t *testing.T) {
	p := newFakeProvider()
	p.add("2330", "2025-01-02", 100, 101)
	p.names["2330"] = "TSMC"

	r := NewResolver(p, Config{Location: taipei, Names: map[string]string{"2330": "台積電"}}, logging.NewSilent())
	r.now = func() time.Time { return thursday }
	q, err := r.Resolve(context.Background(), "2330")
	require.NoError(t, err)
	assert.Equal(t, "台積電", q.Name)
}

func TestResolveAllKeepsOrderAndIsolatesFailures(t *testing.T) {
	p := newFakeProvider()
	p.delay = 5 * time.Millisecond
	p.add("2330", "2025-01-02", 100, 105)
	p.add("0050", "2025-01-02", 190, 189)
	p.errs["2317"] = errors.New("boom")

	r := newTestResolver(p, thursday)
	res := r.ResolveAll(context.Background(), []string{"2330", "2317", "abc", "0050"})
	require.Len(t, res, 4)
	assert.Equal(t, "2330", res[0].Ticker)
	assert.NoError(t, res[0].Err)
	assert.True(t, errors.Is(res[1].Err, ErrProvider))
	assert.True(t, errors.Is(res[2].Err, ErrInvalidTicker))
	assert.Equal(t, "0050", res[3].Ticker)
	require.NotNil(t, res[3].Quote)
	assert.Equal(t, Down, res[3].Quote.Direction)

	assert.LessOrEqual(t, atomic.LoadInt32(&p.peak), int32(2))
}
