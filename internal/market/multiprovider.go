package market

import (
	"context"
	"fmt"
	"time"
)

// MultiProvider asks each provider in order and returns the first answer that
// came back without error. An empty answer counts as an answer.
type MultiProvider struct {
	providers []Provider
}

func NewMultiProvider(providers ...Provider) *MultiProvider {
	return &MultiProvider{providers: providers}
}

func (m *MultiProvider) DailyRecords(ctx context.Context, ticker string, day time.Time) ([]Record, error) {
	if len(m.providers) == 0 {
		return nil, fmt.Errorf("no market providers configured")
	}
	var lastErr error
	for _, p := range m.providers {
		recs, err := p.DailyRecords(ctx, ticker, day)
		if err == nil {
			return recs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (m *MultiProvider) StockName(ctx context.Context, ticker string) (string, error) {
	if len(m.providers) == 0 {
		return "", fmt.Errorf("no market providers configured")
	}
	var lastErr error
	for _, p := range m.providers {
		name, err := p.StockName(ctx, ticker)
		if err == nil && name != "" {
			return name, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}
