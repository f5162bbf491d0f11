// Package strategy scans stored market data for strategy signal matches.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pananq/stock-analysis-app/models"
	"github.com/pananq/stock-analysis-app/services/analysis"
	"github.com/pananq/stock-analysis-app/services/tasks"
)

// historyBufferDays pads the query window so the moving average is already
// valid at the first bar the scan may inspect, calendar gaps included.
const historyBufferDays = 60

// Repository is the read surface a scan needs.
type Repository interface {
	ListSymbols(ctx context.Context) ([]models.Stock, error)
	ListCodesWithData(ctx context.Context) ([]string, error)
	QueryBars(ctx context.Context, code string, from, to time.Time) ([]models.DailyBar, error)
}

// Match is one symbol/trigger-day pair that satisfied the strategy.
type Match struct {
	Code        string
	Name        string
	TriggerDate time.Time
	TriggerPct  decimal.Decimal
	Observation models.ObservationDetail
}

// Result is the outcome of one scan.
type Result struct {
	Matches []Match
	Scanned int
	Skipped int // symbols whose observation window ran past available data
}

// Engine runs strategy scans over the store.
type Engine struct {
	repo Repository
}

// NewEngine creates a scan engine.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// Scan evaluates one strategy against every symbol that has bars, as of the
// given date. A symbol matches on a trigger day when that day's percent
// change reaches the strategy's rise threshold and the close stays above the
// moving average on each of the following observation days. A trigger whose
// observation window runs past the last stored bar is undecidable and is
// skipped rather than reported either way.
//
// Matches come back ordered by trigger date ascending, then code.
func (e *Engine) Scan(ctx context.Context, strat models.Strategy, asOf time.Time, progress tasks.ProgressFunc) (*Result, error) {
	codes, err := e.repo.ListCodesWithData(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scannable codes: %w", err)
	}

	names, err := e.symbolNames(ctx)
	if err != nil {
		return nil, err
	}

	lookbackStart := asOf.AddDate(0, 0, -strat.LookbackDays)
	queryFrom := lookbackStart.AddDate(0, 0, -(strat.MAPeriod + strat.ObservationDays + historyBufferDays))

	result := &Result{}
	total := len(codes)

	for idx, code := range codes {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		bars, err := e.repo.QueryBars(ctx, code, queryFrom, asOf)
		if err != nil {
			return nil, fmt.Errorf("load bars for %s: %w", code, err)
		}
		result.Scanned++

		matches, skipped := evaluateSymbol(code, names[code], bars, strat, lookbackStart)
		result.Matches = append(result.Matches, matches...)
		if skipped {
			result.Skipped++
		}

		if progress != nil && (idx+1)%50 == 0 {
			progress(float64(idx+1)/float64(total)*100,
				fmt.Sprintf("scanned %d/%d symbols, %d matches", idx+1, total, len(result.Matches)))
		}
	}

	sort.Slice(result.Matches, func(i, j int) bool {
		if !result.Matches[i].TriggerDate.Equal(result.Matches[j].TriggerDate) {
			return result.Matches[i].TriggerDate.Before(result.Matches[j].TriggerDate)
		}
		return result.Matches[i].Code < result.Matches[j].Code
	})
	return result, nil
}

// evaluateSymbol finds every decided trigger match in one symbol's bars.
// skipped reports whether at least one trigger was undecidable.
func evaluateSymbol(code, name string, bars []models.DailyBar, strat models.Strategy, lookbackStart time.Time) (matches []Match, skipped bool) {
	if len(bars) == 0 {
		return nil, false
	}

	ma := analysis.MovingAverage(bars, strat.MAPeriod)
	maFrom := analysis.MAValidFrom(len(bars), strat.MAPeriod)

	for i := range bars {
		if bars[i].TradeDate.Before(lookbackStart) {
			continue
		}
		pct := analysis.BarPctChange(bars, i)
		if pct.LessThan(strat.RiseThreshold) {
			continue
		}

		if i+strat.ObservationDays >= len(bars) {
			skipped = true
			continue // window runs past available data, undecidable
		}
		if maFrom < 0 || i+1 < maFrom {
			continue // not enough history for the average
		}

		obs := models.ObservationDetail{
			DaysChecked: strat.ObservationDays,
			Days:        make([]models.ObservationDay, 0, strat.ObservationDays),
		}
		held := true
		for d := 1; d <= strat.ObservationDays; d++ {
			j := i + d
			above := bars[j].Close.GreaterThan(ma[j])
			if above {
				obs.DaysAboveMA++
			} else {
				held = false
			}
			obs.Days = append(obs.Days, models.ObservationDay{
				Date:    bars[j].TradeDate.Format("2006-01-02"),
				Close:   bars[j].Close,
				MA:      ma[j].Round(4),
				AboveMA: above,
			})
			if !held {
				break
			}
		}
		if !held {
			continue
		}

		matches = append(matches, Match{
			Code:        code,
			Name:        name,
			TriggerDate: bars[i].TradeDate,
			TriggerPct:  pct,
			Observation: obs,
		})
	}
	return matches, skipped
}

func (e *Engine) symbolNames(ctx context.Context) (map[string]string, error) {
	stocks, err := e.repo.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	names := make(map[string]string, len(stocks))
	for _, s := range stocks {
		names[s.Code] = s.Name
	}
	return names, nil
}
