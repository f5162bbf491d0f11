// Package store is the persistence layer: market data, the derived per-symbol
// date range, and job history. All writes that touch a symbol's bars and its
// date range happen in one transaction so readers never observe the two out
// of sync.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pananq/stock-analysis-app/models"
)

// DateRangeChunkSize bounds how many symbols a single batched date-range
// update statement covers.
const DateRangeChunkSize = 100

// Store provides database access for the task engine and the API layer.
type Store struct {
	db *gorm.DB
}

// New creates a store on top of an initialized gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for migrations and request handlers.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// UpsertBars writes a symbol's bars and its derived date range as one atomic
// unit. With fullRecompute the range is recomputed as MIN/MAX over the
// symbol's whole bar table (required for first-ever imports and backfills);
// otherwise it is extended incrementally with the min/max of the written
// bars. On any error the whole unit rolls back and the prior range stays
// untouched.
func (s *Store) UpsertBars(ctx context.Context, code string, bars []models.DailyBar, fullRecompute bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(bars) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "code"}, {Name: "trade_date"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"open", "high", "low", "close", "volume", "amount", "pct_change", "turnover_rate",
				}),
			}).Create(&bars).Error
			if err != nil {
				return fmt.Errorf("upsert %d bars for %s: %w", len(bars), code, err)
			}
		}

		if fullRecompute {
			return recomputeDateRange(tx, code)
		}
		if len(bars) == 0 {
			return nil
		}
		earliest, latest := barsDateSpan(bars)
		return extendDateRange(tx, code, earliest, latest)
	})
}

// recomputeDateRange sets the stock's range to MIN/MAX over its bars, NULLs
// when it has none.
func recomputeDateRange(tx *gorm.DB, code string) error {
	var span struct {
		MinDate *time.Time
		MaxDate *time.Time
	}
	err := tx.Model(&models.DailyBar{}).
		Select("MIN(trade_date) as min_date, MAX(trade_date) as max_date").
		Where("code = ?", code).
		Scan(&span).Error
	if err != nil {
		return fmt.Errorf("recompute date range for %s: %w", code, err)
	}

	updates := map[string]interface{}{
		"earliest_data_date": span.MinDate,
		"latest_data_date":   span.MaxDate,
		"updated_at":         time.Now(),
	}
	if err := tx.Model(&models.Stock{}).Where("code = ?", code).Updates(updates).Error; err != nil {
		return fmt.Errorf("update date range for %s: %w", code, err)
	}
	return nil
}

// extendDateRange widens the stored range with the given span, keeping the
// existing bound when it is already wider.
func extendDateRange(tx *gorm.DB, code string, earliest, latest time.Time) error {
	var stock models.Stock
	if err := tx.Select("id", "earliest_data_date", "latest_data_date").
		Where("code = ?", code).First(&stock).Error; err != nil {
		return fmt.Errorf("load stock %s: %w", code, err)
	}

	newEarliest := earliest
	if stock.EarliestDataDate != nil && stock.EarliestDataDate.Before(newEarliest) {
		newEarliest = *stock.EarliestDataDate
	}
	newLatest := latest
	if stock.LatestDataDate != nil && stock.LatestDataDate.After(newLatest) {
		newLatest = *stock.LatestDataDate
	}

	updates := map[string]interface{}{
		"earliest_data_date": newEarliest,
		"latest_data_date":   newLatest,
		"updated_at":         time.Now(),
	}
	if err := tx.Model(&models.Stock{}).Where("id = ?", stock.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("extend date range for %s: %w", code, err)
	}
	return nil
}

func barsDateSpan(bars []models.DailyBar) (earliest, latest time.Time) {
	earliest, latest = bars[0].TradeDate, bars[0].TradeDate
	for _, b := range bars[1:] {
		if b.TradeDate.Before(earliest) {
			earliest = b.TradeDate
		}
		if b.TradeDate.After(latest) {
			latest = b.TradeDate
		}
	}
	return earliest, latest
}

// RefreshDateRanges recomputes the date range for the given symbols from
// their bar tables, batching the writes into one statement per chunk of at
// most DateRangeChunkSize codes to bound write amplification on large
// backfills.
func (s *Store) RefreshDateRanges(ctx context.Context, codes []string) error {
	for start := 0; start < len(codes); start += DateRangeChunkSize {
		end := start + DateRangeChunkSize
		if end > len(codes) {
			end = len(codes)
		}
		if err := s.refreshDateRangeChunk(ctx, codes[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) refreshDateRangeChunk(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return nil
	}

	var spans []struct {
		Code    string
		MinDate time.Time
		MaxDate time.Time
	}
	err := s.db.WithContext(ctx).Model(&models.DailyBar{}).
		Select("code, MIN(trade_date) as min_date, MAX(trade_date) as max_date").
		Where("code IN ?", codes).
		Group("code").
		Scan(&spans).Error
	if err != nil {
		return fmt.Errorf("query date spans: %w", err)
	}
	if len(spans) == 0 {
		return nil
	}

	// One CASE-based UPDATE per chunk instead of one UPDATE per symbol.
	var earliestCases, latestCases strings.Builder
	args := make([]interface{}, 0, len(spans)*4+1)
	updated := make([]string, 0, len(spans))

	for _, span := range spans {
		earliestCases.WriteString(" WHEN ? THEN ?")
		args = append(args, span.Code, span.MinDate)
		updated = append(updated, span.Code)
	}
	for _, span := range spans {
		latestCases.WriteString(" WHEN ? THEN ?")
		args = append(args, span.Code, span.MaxDate)
	}
	args = append(args, time.Now())

	sql := fmt.Sprintf(
		"UPDATE stocks SET earliest_data_date = CASE code%s ELSE earliest_data_date END, "+
			"latest_data_date = CASE code%s ELSE latest_data_date END, updated_at = ? WHERE code IN ?",
		earliestCases.String(), latestCases.String(),
	)
	args = append(args, updated)

	if err := s.db.WithContext(ctx).Exec(sql, args...).Error; err != nil {
		return fmt.Errorf("batch update date ranges: %w", err)
	}
	return nil
}

// GetDateRange returns a symbol's derived date range; both nil when the
// symbol has no bars.
func (s *Store) GetDateRange(ctx context.Context, code string) (earliest, latest *time.Time, err error) {
	var stock models.Stock
	err = s.db.WithContext(ctx).Select("earliest_data_date", "latest_data_date").
		Where("code = ?", code).First(&stock).Error
	if err != nil {
		return nil, nil, fmt.Errorf("load stock %s: %w", code, err)
	}
	return stock.EarliestDataDate, stock.LatestDataDate, nil
}

// QueryBars returns a symbol's bars in [from, to] ordered by trade date.
// Zero-value bounds are open-ended.
func (s *Store) QueryBars(ctx context.Context, code string, from, to time.Time) ([]models.DailyBar, error) {
	q := s.db.WithContext(ctx).Where("code = ?", code)
	if !from.IsZero() {
		q = q.Where("trade_date >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("trade_date <= ?", to)
	}

	var bars []models.DailyBar
	if err := q.Order("trade_date").Find(&bars).Error; err != nil {
		return nil, fmt.Errorf("query bars for %s: %w", code, err)
	}
	return bars, nil
}

// ListSymbols returns all non-delisted symbols ordered by code.
func (s *Store) ListSymbols(ctx context.Context) ([]models.Stock, error) {
	var stocks []models.Stock
	err := s.db.WithContext(ctx).
		Where("status <> ?", "delisted").
		Order("code").
		Find(&stocks).Error
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return stocks, nil
}

// ListCodesWithData returns the codes that have at least one bar, ordered by
// code. Strategy scans iterate over this set.
func (s *Store) ListCodesWithData(ctx context.Context) ([]string, error) {
	var codes []string
	err := s.db.WithContext(ctx).Model(&models.DailyBar{}).
		Distinct("code").
		Order("code").
		Pluck("code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("list codes with data: %w", err)
	}
	return codes, nil
}

// SyncSymbols upserts the provider's symbol list into the stocks table and
// reports how many rows were created vs already present.
func (s *Store) SyncSymbols(ctx context.Context, symbols []models.Stock) (created, updated int, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range symbols {
			var existing models.Stock
			e := tx.Where("code = ?", symbols[i].Code).First(&existing).Error
			switch {
			case e == gorm.ErrRecordNotFound:
				if e := tx.Create(&symbols[i]).Error; e != nil {
					return fmt.Errorf("create stock %s: %w", symbols[i].Code, e)
				}
				created++
			case e != nil:
				return fmt.Errorf("load stock %s: %w", symbols[i].Code, e)
			default:
				e = tx.Model(&existing).Updates(map[string]interface{}{
					"name":     symbols[i].Name,
					"exchange": symbols[i].Exchange,
					"status":   symbols[i].Status,
				}).Error
				if e != nil {
					return fmt.Errorf("update stock %s: %w", symbols[i].Code, e)
				}
				updated++
			}
		}
		return nil
	})
	return created, updated, err
}
