package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one daily trading record as returned by the provider.
type Record struct {
	Date    string          `json:"date"`
	StockID string          `json:"stock_id"`
	Open    decimal.Decimal `json:"open"`
	High    decimal.Decimal `json:"max"`
	Low     decimal.Decimal `json:"min"`
	Close   decimal.Decimal `json:"close"`
	Volume  int64           `json:"Trading_Volume"`
}

// Provider fetches raw daily records. An empty slice with a nil error means
// the provider was reached but had no record for that day.
type Provider interface {
	DailyRecords(ctx context.Context, ticker string, day time.Time) ([]Record, error)
	StockName(ctx context.Context, ticker string) (string, error)
}

const DateLayout = "2006-01-02"
