package strategy

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pananq/stock-analysis-app/models"
	"github.com/pananq/stock-analysis-app/services/tasks"
)

// StrategyStore manages strategy configuration rows.
type StrategyStore interface {
	ListStrategies(ctx context.Context, enabledOnly bool) ([]models.Strategy, error)
	TouchStrategyExecuted(ctx context.Context, id uint) error
}

// DetailRecorder receives per-match outcomes bound to a job run.
type DetailRecorder interface {
	Record(ctx context.Context, taskType, code, name, detailType string, payload interface{})
}

// Service builds strategy scan task bodies on top of the engine.
type Service struct {
	engine     *Engine
	strategies StrategyStore
}

// NewService wires a strategy service.
func NewService(engine *Engine, strategies StrategyStore) *Service {
	return &Service{engine: engine, strategies: strategies}
}

// RunAll returns a task body that scans every enabled strategy as of today
// and records each match as a strategy_match detail. One strategy failing
// does not stop the rest; the task fails only when no strategy could run.
func (s *Service) RunAll(details DetailRecorder) tasks.WorkFunc {
	return func(ctx context.Context, progress tasks.ProgressFunc) error {
		strategies, err := s.strategies.ListStrategies(ctx, true)
		if err != nil {
			return fmt.Errorf("list enabled strategies: %w", err)
		}
		if len(strategies) == 0 {
			progress(100, "no enabled strategies")
			return nil
		}

		asOf := time.Now()
		ran, failed, totalMatches := 0, 0, 0

		for idx, strat := range strategies {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			base := float64(idx) / float64(len(strategies)) * 100
			span := 100 / float64(len(strategies))
			result, err := s.engine.Scan(ctx, strat, asOf, func(pct float64, msg string) {
				progress(base+pct*span/100, fmt.Sprintf("%s: %s", strat.Name, msg))
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed++
				log.Printf("strategy %q scan failed: %v", strat.Name, err)
				continue
			}
			ran++
			totalMatches += len(result.Matches)

			for _, m := range result.Matches {
				details.Record(ctx, models.JobTypeStrategyRun, m.Code, m.Name, models.DetailStrategyMatch,
					models.StrategyMatchDetail{
						TriggerDate:     m.TriggerDate.Format("2006-01-02"),
						TriggerPct:      m.TriggerPct.Round(2),
						ObservationDays: strat.ObservationDays,
						MAPeriod:        strat.MAPeriod,
						Observation:     m.Observation,
					})
			}

			if err := s.strategies.TouchStrategyExecuted(ctx, strat.ID); err != nil {
				log.Printf("record execution time for strategy %q: %v", strat.Name, err)
			}
			log.Printf("strategy %q: scanned %d symbols, %d matches, %d undecidable",
				strat.Name, result.Scanned, len(result.Matches), result.Skipped)
		}

		if ran == 0 && failed > 0 {
			return fmt.Errorf("all %d strategies failed", failed)
		}
		progress(100, fmt.Sprintf("strategies: %d, failed: %d, matches: %d", ran, failed, totalMatches))
		return nil
	}
}
