package quote

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is one ticker's outcome within a batch.
type Result struct {
	Ticker string
	Name   string
	Quote  *Quote
	Err    error
}

// ResolveAll resolves tickers with bounded concurrency. Results keep the
// order of tickers regardless of completion order.
func (r *Resolver) ResolveAll(ctx context.Context, tickers []string) []Result {
	results := make([]Result, len(tickers))
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.MaxConcurrency)
	for i, t := range tickers {
		g.Go(func() error {
			ticker := Normalize(t)
			q, err := r.Resolve(ctx, ticker)
			res := Result{Ticker: ticker, Quote: q, Err: err}
			if q != nil {
				res.Name = q.Name
			} else if name, ok := r.cachedName(ticker); ok {
				res.Name = name
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Single wraps a Resolve outcome as a Result for rendering.
func (r *Resolver) Single(ctx context.Context, ticker string) Result {
	return r.ResolveAll(ctx, []string{ticker})[0]
}
