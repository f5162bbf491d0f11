package datafetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pananq/stock-analysis-app/models"
)

const defaultBaseURL = "https://quote-api.stockdata.example.com"

// DataFetcher fetches symbol listings and daily history from the quote API.
type DataFetcher struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataFetcher creates a data fetcher against the given base URL.
// An empty baseURL selects the default provider endpoint.
func NewDataFetcher(baseURL string) *DataFetcher {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &DataFetcher{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// symbolListResponse represents the provider's symbol listing payload.
type symbolListResponse struct {
	Data []struct {
		Code     string `json:"code"`
		Name     string `json:"name"`
		Exchange string `json:"exchange"`
	} `json:"data"`
}

// historyResponse represents the provider's daily history payload.
// Prices arrive as strings to avoid float drift; they are normalized to
// decimal at this boundary.
type historyResponse struct {
	Data []struct {
		Date         string `json:"date"`
		Open         string `json:"open"`
		High         string `json:"high"`
		Low          string `json:"low"`
		Close        string `json:"close"`
		Volume       int64  `json:"volume"`
		Amount       string `json:"amount"`
		PctChange    string `json:"pct_change"`
		TurnoverRate string `json:"turnover_rate"`
	} `json:"data"`
}

// ListSymbols fetches the provider's full symbol list.
func (df *DataFetcher) ListSymbols(ctx context.Context) ([]SymbolInfo, error) {
	var resp symbolListResponse
	if err := df.getJSON(ctx, "/api/v1/symbols", nil, &resp); err != nil {
		return nil, err
	}

	symbols := make([]SymbolInfo, 0, len(resp.Data))
	for _, s := range resp.Data {
		symbols = append(symbols, SymbolInfo{
			Code:     s.Code,
			Name:     s.Name,
			Exchange: s.Exchange,
		})
	}
	return symbols, nil
}

// FetchHistory fetches daily bars for a symbol in [from, to], oldest first.
func (df *DataFetcher) FetchHistory(ctx context.Context, code string, from, to time.Time) ([]models.DailyBar, error) {
	params := url.Values{}
	params.Set("code", code)
	params.Set("start", from.Format("2006-01-02"))
	params.Set("end", to.Format("2006-01-02"))

	var resp historyResponse
	if err := df.getJSON(ctx, "/api/v1/daily", params, &resp); err != nil {
		return nil, err
	}

	bars := make([]models.DailyBar, 0, len(resp.Data))
	for _, row := range resp.Data {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			return nil, fmt.Errorf("bad trade date %q for %s: %w", row.Date, code, err)
		}
		bar := models.DailyBar{
			Code:      code,
			TradeDate: date,
			Volume:    row.Volume,
		}
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&bar.Open, row.Open},
			{&bar.High, row.High},
			{&bar.Low, row.Low},
			{&bar.Close, row.Close},
			{&bar.Amount, row.Amount},
			{&bar.PctChange, row.PctChange},
			{&bar.TurnoverRate, row.TurnoverRate},
		} {
			if f.src == "" {
				continue
			}
			v, err := decimal.NewFromString(f.src)
			if err != nil {
				return nil, fmt.Errorf("bad numeric value %q for %s on %s: %w", f.src, code, row.Date, err)
			}
			*f.dst = v
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// getJSON performs a GET against the provider and decodes the JSON body.
// Transport failures and 429/5xx responses come back as retryable errors;
// other HTTP failures and decode errors are terminal.
func (df *DataFetcher) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := df.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := df.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RetryableError{Err: fmt.Errorf("request %s: %w", path, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Retryablef("provider returned %d for %s", resp.StatusCode, path)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned %d for %s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RetryableError{Err: fmt.Errorf("read response: %w", err)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response for %s: %w", path, err)
	}
	return nil
}
