package command

import (
	"context"

	"line-stock-bot/internal/logging"
	"line-stock-bot/internal/quote"
	"line-stock-bot/internal/watchlist"
)

type Watchlist interface {
	Add(ctx context.Context, owner, ticker string) (watchlist.AddResult, error)
	Remove(ctx context.Context, owner, ticker string) (watchlist.RemoveResult, error)
	List(ctx context.Context, owner string) ([]string, error)
}

type Resolver interface {
	Single(ctx context.Context, ticker string) quote.Result
	ResolveAll(ctx context.Context, tickers []string) []quote.Result
}

// Dispatcher executes parsed commands. It keeps no state between calls.
type Dispatcher struct {
	watchlist Watchlist
	resolver  Resolver
	logger    *logging.Logger
}

func NewDispatcher(wl Watchlist, resolver Resolver, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		watchlist: wl,
		resolver:  resolver,
		logger:    logger.Component("command"),
	}
}

// Handle parses text and returns the reply for owner. It never fails; every
// error path is rendered as a status line.
func (d *Dispatcher) Handle(ctx context.Context, owner, text string) string {
	cmd := Parse(text)
	d.logger.Debug().Str("owner", owner).Str("kind", cmd.Kind.String()).Str("ticker", cmd.Ticker).Msg("command")

	switch cmd.Kind {
	case KindTrack:
		return d.track(ctx, owner, cmd.Ticker)
	case KindUntrack:
		return d.untrack(ctx, owner, cmd.Ticker)
	case KindList:
		return d.list(ctx, owner)
	case KindQuoteAll:
		return d.quoteAll(ctx, owner)
	case KindQuoteOne:
		return quote.FormatResult(d.resolver.Single(ctx, cmd.Ticker))
	default:
		return helpText
	}
}

func (d *Dispatcher) track(ctx context.Context, owner, ticker string) string {
	ticker = quote.Normalize(ticker)
	if ticker == "" {
		return trackUsage
	}
	if !quote.ValidTicker(ticker) {
		return invalidTicker(ticker)
	}
	res, err := d.watchlist.Add(ctx, owner, ticker)
	if err != nil {
		d.logger.Error().Err(err).Str("owner", owner).Str("ticker", ticker).Msg("track failed")
		return storeWriteFailed
	}
	if res == watchlist.AlreadyPresent {
		return alreadyTracked(ticker)
	}
	reply := tracked(ticker)
	if qr := d.resolver.Single(ctx, ticker); qr.Err == nil && qr.Quote != nil {
		reply += "\n\n" + quote.FormatQuote(qr.Quote)
	}
	return reply
}

func (d *Dispatcher) untrack(ctx context.Context, owner, ticker string) string {
	ticker = quote.Normalize(ticker)
	if ticker == "" {
		return untrackUsage
	}
	if !quote.ValidTicker(ticker) {
		return invalidTicker(ticker)
	}
	res, err := d.watchlist.Remove(ctx, owner, ticker)
	if err != nil {
		d.logger.Error().Err(err).Str("owner", owner).Str("ticker", ticker).Msg("untrack failed")
		return storeWriteFailed
	}
	if res == watchlist.NotPresent {
		return notTracked(ticker)
	}
	return untracked(ticker)
}

func (d *Dispatcher) list(ctx context.Context, owner string) string {
	tickers, err := d.watchlist.List(ctx, owner)
	if err != nil {
		d.logger.Error().Err(err).Str("owner", owner).Msg("list failed")
		return storeReadFailed
	}
	if len(tickers) == 0 {
		return emptyList
	}
	return RenderList(tickers)
}

func (d *Dispatcher) quoteAll(ctx context.Context, owner string) string {
	tickers, err := d.watchlist.List(ctx, owner)
	if err != nil {
		d.logger.Error().Err(err).Str("owner", owner).Msg("list failed")
		return storeReadFailed
	}
	if len(tickers) == 0 {
		return emptyListHint
	}
	return quote.FormatResults(d.resolver.ResolveAll(ctx, tickers))
}
