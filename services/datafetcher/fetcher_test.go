package datafetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pananq/stock-analysis-app/services/ratelimit"
)

func TestListSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/symbols", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[
			{"code":"600000","name":"Pudong Bank","exchange":"SH"},
			{"code":"000001","name":"Ping An Bank","exchange":"SZ"}
		]}`))
	}))
	defer srv.Close()

	df := NewDataFetcher(srv.URL)
	symbols, err := df.ListSymbols(context.Background())
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.Equal(t, SymbolInfo{Code: "600000", Name: "Pudong Bank", Exchange: "SH"}, symbols[0])
}

func TestFetchHistoryParsesBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/daily", r.URL.Path)
		assert.Equal(t, "600000", r.URL.Query().Get("code"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start"))
		assert.Equal(t, "2024-01-31", r.URL.Query().Get("end"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[
			{"date":"2024-01-02","open":"10.50","high":"11.20","low":"10.40","close":"11.00",
			 "volume":123456,"amount":"1350000.00","pct_change":"4.76","turnover_rate":"1.23"}
		]}`))
	}))
	defer srv.Close()

	df := NewDataFetcher(srv.URL)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	bars, err := df.FetchHistory(context.Background(), "600000", from, to)
	require.NoError(t, err)
	require.Len(t, bars, 1)

	bar := bars[0]
	assert.Equal(t, "600000", bar.Code)
	assert.True(t, bar.TradeDate.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, bar.Close.Equal(decimal.RequireFromString("11.00")))
	assert.True(t, bar.PctChange.Equal(decimal.RequireFromString("4.76")))
	assert.Equal(t, int64(123456), bar.Volume)
}

func TestFetchHistoryBadNumericIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"date":"2024-01-02","close":"not-a-number"}]}`))
	}))
	defer srv.Close()

	df := NewDataFetcher(srv.URL)
	_, err := df.FetchHistory(context.Background(), "600000", time.Now().AddDate(0, 0, -5), time.Now())
	require.Error(t, err)
	assert.False(t, ratelimit.IsRetryable(err))
}

func TestRateLimitResponseIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	df := NewDataFetcher(srv.URL)
	_, err := df.ListSymbols(context.Background())
	require.Error(t, err)
	assert.True(t, ratelimit.IsRetryable(err), "429 must be retryable")
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	df := NewDataFetcher(srv.URL)
	_, err := df.ListSymbols(context.Background())
	require.Error(t, err)
	assert.True(t, ratelimit.IsRetryable(err))
}

func TestClientErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	df := NewDataFetcher(srv.URL)
	_, err := df.ListSymbols(context.Background())
	require.Error(t, err)
	assert.False(t, ratelimit.IsRetryable(err), "4xx other than 429 must not be retried")
}

func TestTransportErrorIsRetryable(t *testing.T) {
	df := NewDataFetcher("http://127.0.0.1:1") // nothing listens here
	_, err := df.ListSymbols(context.Background())
	require.Error(t, err)
	assert.True(t, ratelimit.IsRetryable(err))
}

func TestContextCancellationIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	df := NewDataFetcher(srv.URL)
	_, err := df.ListSymbols(ctx)
	require.Error(t, err)
	assert.False(t, ratelimit.IsRetryable(err))
}
