package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	datasetPrice = "TaiwanStockPrice"
	datasetInfo  = "TaiwanStockInfo"
)

// FinMindProvider reads Taiwan daily prices from the FinMind v4 data API.
type FinMindProvider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	pause   time.Duration
}

type finmindResp struct {
	Msg    string          `json:"msg"`
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type finmindInfo struct {
	StockID   string `json:"stock_id"`
	StockName string `json:"stock_name"`
}

// NewFinMindProvider builds a provider against baseURL. minInterval paces
// outbound requests; zero disables pacing.
func NewFinMindProvider(baseURL string, timeout, minInterval time.Duration) *FinMindProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.finmindtrade.com/api/v4"
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &FinMindProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		pause:   150 * time.Millisecond,
	}
}

func (p *FinMindProvider) DailyRecords(ctx context.Context, ticker string, day time.Time) ([]Record, error) {
	d := day.Format(DateLayout)
	raw, err := p.get(ctx, url.Values{
		"dataset":    {datasetPrice},
		"data_id":    {ticker},
		"start_date": {d},
		"end_date":   {d},
	})
	if err != nil {
		return nil, err
	}
	var out []Record
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode finmind records: %w", err)
	}
	return out, nil
}

func (p *FinMindProvider) StockName(ctx context.Context, ticker string) (string, error) {
	raw, err := p.get(ctx, url.Values{
		"dataset": {datasetInfo},
		"data_id": {ticker},
	})
	if err != nil {
		return "", err
	}
	var infos []finmindInfo
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &infos); err != nil {
			return "", fmt.Errorf("decode finmind info: %w", err)
		}
	}
	for _, info := range infos {
		if info.StockID == ticker && info.StockName != "" {
			return info.StockName, nil
		}
	}
	return "", nil
}

func (p *FinMindProvider) get(ctx context.Context, params url.Values) (json.RawMessage, error) {
	u, err := url.Parse(p.baseURL + "/data")
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	u.RawQuery = params.Encode()

	var payload finmindResp
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("request finmind: %w", err)
		}
		payload, lastErr = p.do(ctx, u.String())
		if lastErr == nil {
			break
		}
		if !shouldRetry(lastErr) || attempt == 2 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("request finmind: %w", ctx.Err())
		case <-time.After(p.pause):
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	if payload.Status != 0 && payload.Status != http.StatusOK {
		return nil, fmt.Errorf("finmind status=%d msg=%s", payload.Status, payload.Msg)
	}
	return payload.Data, nil
}

func (p *FinMindProvider) do(ctx context.Context, endpoint string) (finmindResp, error) {
	var payload finmindResp
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return payload, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return payload, fmt.Errorf("request finmind: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return payload, fmt.Errorf("finmind http status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode finmind: %w", err)
	}
	return payload, nil
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "reset by peer") {
		return true
	}
	return false
}
