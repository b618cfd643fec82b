package quote

import (
	"errors"
	"fmt"
	"strings"

	"line-stock-bot/internal/market"
)

const (
	notFoundLine = "⚠️ 無法取得近期交易資料"
	providerLine = "❌ 報價暫時無法取得，請稍後再試"
)

func headerLine(ticker, name string) string {
	if name == "" {
		return ticker
	}
	return ticker + " " + name
}

// FormatQuote renders the ticker line followed by the price and date lines.
func FormatQuote(q *Quote) string {
	return fmt.Sprintf("%s\n💰 %s (%s%s, %s%%)\n📅 %s",
		headerLine(q.Ticker, q.Name),
		q.Close.StringFixed(2),
		q.Direction.Arrow(),
		q.ChangeAbs.StringFixed(2),
		q.ChangePct.StringFixed(2),
		q.TradingDate.Format(market.DateLayout),
	)
}

// FormatResult renders a batch entry, turning every failure into a short
// status line.
func FormatResult(res Result) string {
	switch {
	case res.Err == nil && res.Quote != nil:
		return FormatQuote(res.Quote)
	case errors.Is(res.Err, ErrInvalidTicker):
		return "⚠️ 股票代號格式錯誤：" + res.Ticker
	case errors.Is(res.Err, ErrNotFound):
		return headerLine(res.Ticker, res.Name) + "\n" + notFoundLine
	default:
		return headerLine(res.Ticker, res.Name) + "\n" + providerLine
	}
}

// JoinBlocks separates quote blocks with one blank line.
func JoinBlocks(blocks []string) string {
	return strings.Join(blocks, "\n\n")
}

// FormatResults renders a whole batch in order.
func FormatResults(results []Result) string {
	blocks := make([]string, 0, len(results))
	for _, res := range results {
		blocks = append(blocks, FormatResult(res))
	}
	return JoinBlocks(blocks)
}
