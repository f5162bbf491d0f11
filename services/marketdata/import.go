// Package marketdata builds the background task bodies that pull history
// from the external provider into the local store.
package marketdata

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pananq/stock-analysis-app/models"
	"github.com/pananq/stock-analysis-app/services/datafetcher"
	"github.com/pananq/stock-analysis-app/services/ratelimit"
	"github.com/pananq/stock-analysis-app/services/tasks"
)

// DefaultHistoryYears is how far back a full import reaches when no explicit
// start date is given.
const DefaultHistoryYears = 3

// DefaultUpdateDays is the fallback window for incremental updates of symbols
// that have no recorded latest date yet.
const DefaultUpdateDays = 5

// Repository is the persistence surface the import tasks write through.
// UpsertBars must be atomic per symbol: either the bars and the derived date
// range both change, or neither does.
type Repository interface {
	ListSymbols(ctx context.Context) ([]models.Stock, error)
	UpsertBars(ctx context.Context, code string, bars []models.DailyBar, fullRecompute bool) error
	RefreshDateRanges(ctx context.Context, codes []string) error
	SyncSymbols(ctx context.Context, symbols []models.Stock) (created, updated int, err error)
}

// DetailRecorder receives per-symbol outcomes. Implementations bind the
// records to a persisted JobRun and must tolerate being called from the task
// goroutine; recording failures are logged, never fatal to the batch.
type DetailRecorder interface {
	Record(ctx context.Context, taskType, code, name, detailType string, payload interface{})
}

// ImportService builds import task bodies.
type ImportService struct {
	repo    Repository
	source  datafetcher.DataSource
	limiter *ratelimit.Limiter
}

// NewImportService wires an import service.
func NewImportService(repo Repository, source datafetcher.DataSource, limiter *ratelimit.Limiter) *ImportService {
	return &ImportService{repo: repo, source: source, limiter: limiter}
}

// FullImport returns a task body that imports history for every symbol over
// [from, to], recomputing each symbol's date range from scratch. Zero bounds
// select the default window ending today.
func (s *ImportService) FullImport(from, to time.Time, details DetailRecorder) tasks.WorkFunc {
	return func(ctx context.Context, progress tasks.ProgressFunc) error {
		if to.IsZero() {
			to = time.Now()
		}
		if from.IsZero() {
			from = to.AddDate(-DefaultHistoryYears, 0, 0)
		}
		return s.runImport(ctx, progress, details, models.JobTypeDataImport, true,
			func(models.Stock) (time.Time, time.Time, bool) {
				return from, to, false
			})
	}
}

// IncrementalUpdate returns a task body that fetches the missing tail of each
// symbol's history: from its recorded latest date + 1 day up to today. A
// symbol without a recorded range falls back to the last `days` days; a
// symbol already at today's date is skipped.
func (s *ImportService) IncrementalUpdate(days int, details DetailRecorder) tasks.WorkFunc {
	if days <= 0 {
		days = DefaultUpdateDays
	}
	return func(ctx context.Context, progress tasks.ProgressFunc) error {
		to := time.Now()
		return s.runImport(ctx, progress, details, models.JobTypeDataUpdate, false,
			func(stock models.Stock) (time.Time, time.Time, bool) {
				if stock.LatestDataDate == nil {
					return to.AddDate(0, 0, -days), to, false
				}
				next := stock.LatestDataDate.AddDate(0, 0, 1)
				if !next.Before(truncateDay(to).AddDate(0, 0, 1)) {
					return time.Time{}, time.Time{}, true // already current
				}
				return next, to, false
			})
	}
}

// SyncSymbolList returns a task body that refreshes the stocks table from the
// provider's symbol listing.
func (s *ImportService) SyncSymbolList() tasks.WorkFunc {
	return func(ctx context.Context, progress tasks.ProgressFunc) error {
		progress(0, "fetching symbol list")

		var infos []datafetcher.SymbolInfo
		err := s.limiter.Execute(ctx, func() error {
			var e error
			infos, e = s.source.ListSymbols(ctx)
			return e
		})
		if err != nil {
			return fmt.Errorf("fetch symbol list: %w", err)
		}

		symbols := make([]models.Stock, 0, len(infos))
		for _, info := range infos {
			symbols = append(symbols, models.Stock{
				Code:     info.Code,
				Name:     info.Name,
				Exchange: info.Exchange,
				Status:   "normal",
			})
		}

		progress(50, fmt.Sprintf("syncing %d symbols", len(symbols)))
		created, updated, err := s.repo.SyncSymbols(ctx, symbols)
		if err != nil {
			return fmt.Errorf("sync symbols: %w", err)
		}

		progress(100, fmt.Sprintf("created: %d, updated: %d", created, updated))
		return nil
	}
}

// runImport is the shared per-symbol import loop. windowFor decides each
// symbol's fetch window; skip=true counts the symbol as processed without
// touching the provider.
//
// One symbol's failure (fetch after retries, or storage) is isolated: it is
// recorded as an import_failed detail and the loop continues. Only losing the
// symbol list entirely fails the task. Cancellation is checked once per
// symbol, so an atomic write in progress always finishes before the task
// stops.
func (s *ImportService) runImport(
	ctx context.Context,
	progress tasks.ProgressFunc,
	details DetailRecorder,
	taskType string,
	fullRecompute bool,
	windowFor func(models.Stock) (from, to time.Time, skip bool),
) error {
	progress(0, "loading symbol list")

	symbols, err := s.repo.ListSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list symbols: %w", err)
	}
	if len(symbols) == 0 {
		progress(100, "no symbols to import")
		return nil
	}

	total := len(symbols)
	successCount, failCount, totalRecords := 0, 0, 0
	imported := make([]string, 0, total)

	for idx, stock := range symbols {
		select {
		case <-ctx.Done():
			log.Printf("import cancelled after %d/%d symbols", idx, total)
			progress(float64(idx)/float64(total)*100,
				fmt.Sprintf("cancelled after %d/%d symbols", idx, total))
			return ctx.Err()
		default:
		}

		from, to, skip := windowFor(stock)
		if skip {
			progress(float64(idx+1)/float64(total)*100,
				fmt.Sprintf("processed %d/%d symbols", idx+1, total))
			continue
		}

		var bars []models.DailyBar
		err := s.limiter.Execute(ctx, func() error {
			var e error
			bars, e = s.source.FetchHistory(ctx, stock.Code, from, to)
			return e
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failCount++
			log.Printf("fetch %s failed: %v", stock.Code, err)
			details.Record(ctx, taskType, stock.Code, stock.Name, models.DetailImportFailed,
				models.ImportFailedDetail{Error: err.Error()})
		} else if err := s.repo.UpsertBars(ctx, stock.Code, bars, fullRecompute); err != nil {
			failCount++
			log.Printf("store %s failed: %v", stock.Code, err)
			details.Record(ctx, taskType, stock.Code, stock.Name, models.DetailImportFailed,
				models.ImportFailedDetail{Error: err.Error()})
		} else {
			successCount++
			totalRecords += len(bars)
			imported = append(imported, stock.Code)
			details.Record(ctx, taskType, stock.Code, stock.Name, models.DetailImportSuccess,
				models.ImportSuccessDetail{
					Records:   len(bars),
					StartDate: from.Format("2006-01-02"),
					EndDate:   to.Format("2006-01-02"),
				})
		}

		progress(float64(idx+1)/float64(total)*100,
			fmt.Sprintf("processed %d/%d symbols, %d failed", idx+1, total, failCount))
	}

	if fullRecompute && len(imported) > 0 {
		if err := s.repo.RefreshDateRanges(ctx, imported); err != nil {
			log.Printf("refresh date ranges failed: %v", err)
		}
	}

	summary := fmt.Sprintf("success: %d, failed: %d, records: %d", successCount, failCount, totalRecords)
	log.Printf("import finished: %s", summary)
	progress(100, summary)
	return nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
