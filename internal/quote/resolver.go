// Package quote turns a ticker code into a priced, dated quote, walking back
// over missing trading days.
package quote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"line-stock-bot/internal/logging"
	"line-stock-bot/internal/market"
)

var (
	ErrInvalidTicker = errors.New("invalid ticker")
	ErrNotFound      = errors.New("no trading record")
	ErrProvider      = errors.New("provider error")
)

var tickerPattern = regexp.MustCompile(`^[0-9]{4,6}[A-Z]?$`)

// Normalize trims surrounding whitespace; codes are otherwise opaque.
func Normalize(ticker string) string {
	return strings.TrimSpace(ticker)
}

// ValidTicker reports whether a normalized code matches the exchange grammar.
func ValidTicker(ticker string) bool {
	return tickerPattern.MatchString(ticker)
}

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
	Flat Direction = "flat"
)

func (d Direction) Arrow() string {
	switch d {
	case Up:
		return "▲"
	case Down:
		return "▼"
	default:
		return "—"
	}
}

type Quote struct {
	Ticker      string          `json:"ticker"`
	Name        string          `json:"name,omitempty"`
	TradingDate time.Time       `json:"trading_date"`
	Open        decimal.Decimal `json:"open"`
	Close       decimal.Decimal `json:"close"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	ChangeAbs   decimal.Decimal `json:"change_abs"`
	ChangePct   decimal.Decimal `json:"change_pct"`
	Direction   Direction       `json:"direction"`
}

var hundred = decimal.NewFromInt(100)

// NewQuote derives change and direction from one day's open and close.
func NewQuote(ticker string, date time.Time, open, closePx, high, low decimal.Decimal) *Quote {
	change := closePx.Sub(open)
	pct := decimal.Zero
	if !open.IsZero() {
		pct = change.Div(open).Mul(hundred)
	}
	dir := Flat
	switch change.Sign() {
	case 1:
		dir = Up
	case -1:
		dir = Down
	}
	return &Quote{
		Ticker:      ticker,
		TradingDate: date,
		Open:        open,
		Close:       closePx,
		High:        high,
		Low:         low,
		ChangeAbs:   change,
		ChangePct:   pct,
		Direction:   dir,
	}
}

type Config struct {
	Location       *time.Location
	LookbackDays   int
	RequestTimeout time.Duration
	MaxConcurrency int
	Names          map[string]string
}

type Resolver struct {
	provider market.Provider
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time

	namesMu sync.RWMutex
	names   map[string]string
}

func NewResolver(provider market.Provider, cfg Config, logger *logging.Logger) *Resolver {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("CST", 8*60*60)
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 5
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	names := make(map[string]string, len(cfg.Names))
	for k, v := range cfg.Names {
		names[Normalize(k)] = v
	}
	return &Resolver{
		provider: provider,
		cfg:      cfg,
		logger:   logger.Component("quote"),
		now:      time.Now,
		names:    names,
	}
}

// CandidateDates lists the calendar days to try, newest first.
func CandidateDates(now time.Time, loc *time.Location, n int) []time.Time {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, today.AddDate(0, 0, -i))
	}
	return out
}

// Resolve returns the most recent trading-day quote for ticker.
func (r *Resolver) Resolve(ctx context.Context, ticker string) (*Quote, error) {
	ticker = Normalize(ticker)
	if !ValidTicker(ticker) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}

	var lastErr error
	attempts, failures := 0, 0
	for _, day := range CandidateDates(r.now(), r.cfg.Location, r.cfg.LookbackDays) {
		if ctx.Err() != nil {
			break
		}
		attempts++
		rec, err := r.fetch(ctx, ticker, day)
		if err != nil {
			failures++
			lastErr = err
			r.logger.Debug().Err(err).Str("ticker", ticker).Str("date", day.Format(market.DateLayout)).Msg("daily lookup failed")
			continue
		}
		if rec == nil {
			continue
		}
		date := day
		if parsed, err := time.ParseInLocation(market.DateLayout, rec.Date, r.cfg.Location); err == nil {
			date = parsed
		}
		q := NewQuote(ticker, date, rec.Open, rec.Close, rec.High, rec.Low)
		q.Name = r.lookupName(ctx, ticker)
		return q, nil
	}

	if attempts == 0 || failures == attempts {
		if lastErr == nil {
			lastErr = ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProvider, ticker, lastErr)
	}
	return nil, fmt.Errorf("%w: %s within %d days", ErrNotFound, ticker, r.cfg.LookbackDays)
}

func (r *Resolver) fetch(ctx context.Context, ticker string, day time.Time) (*market.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()
	recs, err := r.provider.DailyRecords(callCtx, ticker, day)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	rec := recs[len(recs)-1]
	return &rec, nil
}

func (r *Resolver) lookupName(ctx context.Context, ticker string) string {
	if name, ok := r.cachedName(ticker); ok {
		return name
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()
	name, err := r.provider.StockName(callCtx, ticker)
	if err != nil || name == "" {
		r.logger.Debug().Err(err).Str("ticker", ticker).Msg("name lookup degraded")
		return ""
	}
	r.namesMu.Lock()
	r.names[ticker] = name
	r.namesMu.Unlock()
	return name
}

func (r *Resolver) cachedName(ticker string) (string, bool) {
	r.namesMu.RLock()
	defer r.namesMu.RUnlock()
	name, ok := r.names[ticker]
	return name, ok
}
