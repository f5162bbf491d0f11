package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pananq/stock-analysis-app/models"
	"github.com/pananq/stock-analysis-app/services/datafetcher"
	"github.com/pananq/stock-analysis-app/services/ratelimit"
)

type fakeRepo struct {
	mu        sync.Mutex
	stocks    []models.Stock
	listErr   error
	upserts   map[string][]models.DailyBar
	upsertErr map[string]error
	refreshed []string
	created   int
	updated   int
}

func newFakeRepo(stocks ...models.Stock) *fakeRepo {
	return &fakeRepo{
		stocks:    stocks,
		upserts:   make(map[string][]models.DailyBar),
		upsertErr: make(map[string]error),
	}
}

func (r *fakeRepo) ListSymbols(ctx context.Context) ([]models.Stock, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.stocks, nil
}

func (r *fakeRepo) UpsertBars(ctx context.Context, code string, bars []models.DailyBar, fullRecompute bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.upsertErr[code]; err != nil {
		return err
	}
	r.upserts[code] = bars
	return nil
}

func (r *fakeRepo) RefreshDateRanges(ctx context.Context, codes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed = append(r.refreshed, codes...)
	return nil
}

func (r *fakeRepo) SyncSymbols(ctx context.Context, symbols []models.Stock) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sym := range symbols {
		found := false
		for _, s := range r.stocks {
			if s.Code == sym.Code {
				found = true
				break
			}
		}
		if found {
			r.updated++
		} else {
			r.created++
			r.stocks = append(r.stocks, sym)
		}
	}
	return r.created, r.updated, nil
}

type fakeSource struct {
	mu       sync.Mutex
	failFor  map[string]error
	windows  map[string][2]time.Time
	fetches  int
	onFetch  func(n int)
	listResp []datafetcher.SymbolInfo
	listErr  error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		failFor: make(map[string]error),
		windows: make(map[string][2]time.Time),
	}
}

func (f *fakeSource) ListSymbols(ctx context.Context) ([]datafetcher.SymbolInfo, error) {
	return f.listResp, f.listErr
}

func (f *fakeSource) FetchHistory(ctx context.Context, code string, from, to time.Time) ([]models.DailyBar, error) {
	f.mu.Lock()
	f.fetches++
	n := f.fetches
	f.windows[code] = [2]time.Time{from, to}
	err := f.failFor[code]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err != nil {
		return nil, err
	}
	return []models.DailyBar{{
		Code:      code,
		TradeDate: from,
		Close:     decimal.NewFromInt(10),
		Volume:    100,
	}}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	details []models.TaskDetail
}

func (r *fakeRecorder) Record(ctx context.Context, taskType, code, name, detailType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := models.TaskDetail{TaskType: taskType, StockCode: code, StockName: name, DetailType: detailType}
	if payload != nil {
		_ = d.SetPayload(payload)
	}
	r.details = append(r.details, d)
}

func (r *fakeRecorder) count(detailType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.details {
		if d.DetailType == detailType {
			n++
		}
	}
	return n
}

func testLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		MinDelay:   time.Microsecond,
		MaxDelay:   time.Microsecond,
		MaxRetries: 0,
		RetryDelay: time.Millisecond,
		Rate:       100000,
		Burst:      100,
	})
}

func stocksNamed(codes ...string) []models.Stock {
	stocks := make([]models.Stock, 0, len(codes))
	for _, c := range codes {
		stocks = append(stocks, models.Stock{Code: c, Name: c + " Corp", Status: "normal"})
	}
	return stocks
}

type progressLog struct {
	mu      sync.Mutex
	percent float64
	message string
}

func (p *progressLog) fn(percent float64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percent = percent
	if message != "" {
		p.message = message
	}
}

func TestFullImportIsolatesSymbolFailures(t *testing.T) {
	repo := newFakeRepo(stocksNamed("s01", "s02", "s03", "s04", "s05", "s06", "s07", "s08", "s09", "s10")...)
	source := newFakeSource()
	source.failFor["s04"] = fmt.Errorf("bad symbol")

	svc := NewImportService(repo, source, testLimiter())
	rec := &fakeRecorder{}
	prog := &progressLog{}

	work := svc.FullImport(day(2024, 1, 1), day(2024, 6, 30), rec)
	err := work(context.Background(), prog.fn)

	require.NoError(t, err, "one failed symbol must not fail the batch")
	assert.Equal(t, 9, rec.count(models.DetailImportSuccess))
	assert.Equal(t, 1, rec.count(models.DetailImportFailed))
	assert.Len(t, repo.upserts, 9)
	assert.Equal(t, float64(100), prog.percent)
	assert.Contains(t, prog.message, "success: 9, failed: 1")
	assert.Len(t, repo.refreshed, 9, "full import recomputes ranges for imported symbols")
	assert.NotContains(t, repo.refreshed, "s04")
}

func TestFullImportStorageFailureIsolated(t *testing.T) {
	repo := newFakeRepo(stocksNamed("s01", "s02")...)
	repo.upsertErr["s01"] = errors.New("disk full")
	source := newFakeSource()

	svc := NewImportService(repo, source, testLimiter())
	rec := &fakeRecorder{}

	err := svc.FullImport(day(2024, 1, 1), day(2024, 1, 31), rec)(context.Background(), func(float64, string) {})

	require.NoError(t, err)
	assert.Equal(t, 1, rec.count(models.DetailImportSuccess))
	assert.Equal(t, 1, rec.count(models.DetailImportFailed))
}

func TestFullImportCancellation(t *testing.T) {
	repo := newFakeRepo(stocksNamed("s01", "s02", "s03", "s04", "s05", "s06", "s07", "s08", "s09", "s10")...)
	source := newFakeSource()

	ctx, cancel := context.WithCancel(context.Background())
	source.onFetch = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	svc := NewImportService(repo, source, testLimiter())
	rec := &fakeRecorder{}

	err := svc.FullImport(day(2024, 1, 1), day(2024, 1, 31), rec)(ctx, func(float64, string) {})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, repo.upserts, 3, "symbols finished before cancellation stay persisted")
	assert.Empty(t, repo.refreshed, "no range refresh after cancellation")
}

func TestFullImportFailsWhenSymbolListUnavailable(t *testing.T) {
	repo := newFakeRepo()
	repo.listErr = errors.New("database down")

	svc := NewImportService(repo, newFakeSource(), testLimiter())
	err := svc.FullImport(time.Time{}, time.Time{}, &fakeRecorder{})(context.Background(), func(float64, string) {})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list symbols")
}

func TestIncrementalUpdateResumesFromLatestDate(t *testing.T) {
	latest := day(2024, 5, 10)
	stocks := []models.Stock{
		{Code: "s01", Name: "Has Data", Status: "normal", LatestDataDate: &latest},
		{Code: "s02", Name: "No Data", Status: "normal"},
	}
	repo := newFakeRepo(stocks...)
	source := newFakeSource()

	svc := NewImportService(repo, source, testLimiter())
	err := svc.IncrementalUpdate(7, &fakeRecorder{})(context.Background(), func(float64, string) {})
	require.NoError(t, err)

	w1 := source.windows["s01"]
	assert.True(t, w1[0].Equal(day(2024, 5, 11)), "resume from latest date + 1, got %s", w1[0])

	w2 := source.windows["s02"]
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -7), w2[0], time.Minute,
		"symbol without data falls back to the days window")
}

func TestIncrementalUpdateSkipsCurrentSymbols(t *testing.T) {
	today := time.Now()
	stocks := []models.Stock{
		{Code: "s01", Name: "Current", Status: "normal", LatestDataDate: &today},
	}
	repo := newFakeRepo(stocks...)
	source := newFakeSource()

	svc := NewImportService(repo, source, testLimiter())
	prog := &progressLog{}
	err := svc.IncrementalUpdate(5, &fakeRecorder{})(context.Background(), prog.fn)

	require.NoError(t, err)
	assert.Zero(t, source.fetches, "up-to-date symbol must not hit the provider")
	assert.Equal(t, float64(100), prog.percent)
}

func TestIncrementalUpdateDoesNotRecomputeRanges(t *testing.T) {
	repo := newFakeRepo(stocksNamed("s01")...)
	source := newFakeSource()

	svc := NewImportService(repo, source, testLimiter())
	err := svc.IncrementalUpdate(5, &fakeRecorder{})(context.Background(), func(float64, string) {})

	require.NoError(t, err)
	assert.Empty(t, repo.refreshed)
}

func TestSyncSymbolList(t *testing.T) {
	repo := newFakeRepo(stocksNamed("s01")...)
	source := newFakeSource()
	source.listResp = []datafetcher.SymbolInfo{
		{Code: "s01", Name: "Old Corp", Exchange: "SH"},
		{Code: "s02", Name: "New Corp", Exchange: "SZ"},
	}

	svc := NewImportService(repo, source, testLimiter())
	prog := &progressLog{}
	err := svc.SyncSymbolList()(context.Background(), prog.fn)

	require.NoError(t, err)
	assert.Equal(t, 1, repo.created)
	assert.Equal(t, 1, repo.updated)
	assert.Contains(t, prog.message, "created: 1, updated: 1")
}

func TestEmptySymbolListCompletes(t *testing.T) {
	repo := newFakeRepo()
	svc := NewImportService(repo, newFakeSource(), testLimiter())
	prog := &progressLog{}

	err := svc.FullImport(time.Time{}, time.Time{}, &fakeRecorder{})(context.Background(), prog.fn)

	require.NoError(t, err)
	assert.Equal(t, float64(100), prog.percent)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
